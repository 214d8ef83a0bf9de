package dispatcher

import "sync"

// Consumer is the read-side handle a caller uses to pull frames out of a
// Dispatcher (§4.2). It owns the three waitlines (audio, video, mixed) and
// implements NotifyTarget so the dispatch loop can wake it.
//
// A Consumer is only ever used by one goroutine at a time per Mode's
// waitline, matching the original's one-reader-per-channel assumption; the
// dispatcher itself may call OnAudioData/OnVideoData/OnMixedData from its
// own goroutine concurrently with that reader, which is why the ready flags
// are guarded by the consumer's own mutex, shared by the three waitlines'
// condvars.
type Consumer struct {
	d    *Dispatcher
	id   uint32
	slot uint32
	mode Mode

	mu         sync.Mutex
	audioCond  *sync.Cond
	videoCond  *sync.Cond
	mixedCond  *sync.Cond
	audioReady bool
	videoReady bool
	mixedReady bool
	stopped    bool
}

// NewConsumer attaches a new consumer to d and returns its handle. mode
// selects which streams it receives; keyOnly restricts video (and, under
// ModeMixed, the video half of the mixed stream) to key-frames only.
func NewConsumer(d *Dispatcher, id uint32, mode Mode, keyOnly bool) (*Consumer, error) {
	c := &Consumer{d: d, id: id, mode: mode}
	c.audioCond = sync.NewCond(&c.mu)
	c.videoCond = sync.NewCond(&c.mu)
	c.mixedCond = sync.NewCond(&c.mu)

	slot, err := d.Attach(id, c, mode, keyOnly)
	if err != nil {
		return nil, err
	}
	c.slot = slot
	return c, nil
}

// OnAudioData, OnVideoData, and OnMixedData implement NotifyTarget. They run
// on the dispatcher's single dispatch-loop goroutine and must never block.
// Each no-ops if its ready flag is already set, so a consumer that hasn't
// consumed the last notification yet doesn't get signaled twice (§4.2).
func (c *Consumer) OnAudioData() {
	c.mu.Lock()
	if c.audioReady {
		c.mu.Unlock()
		return
	}
	c.audioReady = true
	c.audioCond.Signal()
	c.mu.Unlock()
}

func (c *Consumer) OnVideoData() {
	c.mu.Lock()
	if c.videoReady {
		c.mu.Unlock()
		return
	}
	c.videoReady = true
	c.videoCond.Signal()
	c.mu.Unlock()
}

func (c *Consumer) OnMixedData() {
	c.mu.Lock()
	if c.mixedReady {
		c.mu.Unlock()
		return
	}
	c.mixedReady = true
	c.mixedCond.Signal()
	c.mu.Unlock()
}

// OnStop implements NotifyTarget; it runs when stop_dispatch tears the
// dispatch loop down and unblocks any goroutine parked in RequestRead the
// same way Detach does.
func (c *Consumer) OnStop() {
	c.NotifyReadStop()
}

// RequestRead implements the request/receive handshake of §4.2 as a
// try-first loop:
//  1. try an immediate read
//  2. on success, tell the dispatcher we're ready for the next one and return
//  3. on failure, clear our data bit for kind
//  4. set recv bit (NotifyReadReady) so the dispatcher knows we're waiting
//  5. block on kind's waitline until signaled or stopped
//  6. on wake, try the read again
//  7. repeat until a frame is delivered or notify_read_stop fires
func (c *Consumer) RequestRead(kind Kind) (*Frame, error) {
	for {
		if f, ok := c.d.ReadBufferData(c.id, kind); ok {
			c.d.NotifyReadReady(c.id, kind)
			return f, nil
		}

		c.d.ClearDataBit(c.id, kind)
		c.d.NotifyReadReady(c.id, kind)

		c.mu.Lock()
		readyFlag, cond := c.readyFlagAndCond(kind)
		for !*readyFlag && !c.stopped {
			cond.Wait()
		}
		if c.stopped {
			c.mu.Unlock()
			return nil, ErrCancelled
		}
		*readyFlag = false
		c.mu.Unlock()
	}
}

func (c *Consumer) readyFlagAndCond(kind Kind) (*bool, *sync.Cond) {
	switch kind {
	case Audio:
		return &c.audioReady, c.audioCond
	case Video:
		return &c.videoReady, c.videoCond
	default:
		return &c.mixedReady, c.mixedCond
	}
}

// NotifyReadStop wakes any goroutine blocked in RequestRead with
// ErrCancelled (§4.2, stop_dispatch). Idempotent.
func (c *Consumer) NotifyReadStop() {
	c.mu.Lock()
	c.stopped = true
	c.audioCond.Broadcast()
	c.videoCond.Broadcast()
	c.mixedCond.Broadcast()
	c.mu.Unlock()
}

// Detach removes the consumer from its dispatcher and releases its slot.
// Any goroutine still blocked in RequestRead is woken with ErrCancelled
// first, mirroring detach-mid-wait (§8, named scenarios).
func (c *Consumer) Detach() {
	c.NotifyReadStop()
	c.d.Detach(c.id)
}

// Slot reports the readiness-map slot assigned to this consumer.
func (c *Consumer) Slot() uint32 { return c.slot }

// SetKeyMode toggles key-only filtering for this consumer's video stream
// (§4.2, set_key_mode).
func (c *Consumer) SetKeyMode(keyOnly bool) {
	c.d.SetKeyMode(c.id, keyOnly)
}
