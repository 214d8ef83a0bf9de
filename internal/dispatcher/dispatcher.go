package dispatcher

import (
	"log"
	"sync"
)

// NotifyTarget is the dispatcher's non-owning handle back to a consumer
// (§9, Back-links). The dispatcher owns cursors; each cursor holds the
// NotifyTarget it was attached with, and the dispatch loop reaches a target
// only through the dispatcher's own registry (Dispatcher.cursors). If a
// target is nil when the dispatch loop reaches it — the
// weak link has been dropped — the notify is silently skipped and the
// corresponding readiness bit is cleared.
type NotifyTarget interface {
	OnAudioData()
	OnVideoData()
	OnMixedData()
	// OnStop is called once per attached target when stop_dispatch runs
	// (§4.2, §8 Scenario 4), so a goroutine parked in RequestRead unblocks
	// with ErrCancelled instead of leaking.
	OnStop()
}

// Dispatcher owns the ring, the cursor table, the readiness map, and the
// wakeup condvar driving the dispatch loop (§4.1).
type Dispatcher struct {
	// inner protects ring, cursors, order, readFlag, lastAudioIndex,
	// lastVideoIndex, and waitingKeyFrame. It is never held across a
	// blocking wait.
	inner sync.Mutex

	ring     *ringBuffer
	cursors  map[uint32]*consumerCursor
	order    []uint32 // attach order, for deterministic dispatch-loop scans
	readFlag uint16

	lastAudioIndex  uint32
	lastVideoIndex  uint32
	waitingKeyFrame bool

	config Config

	readiness readinessMap

	notifyMu       sync.Mutex
	notifyCond     *sync.Cond
	continueNotify bool
	running        bool
	wg             sync.WaitGroup
}

// New constructs a Dispatcher in the given configuration. The ring starts
// empty; if cfg.Mode is DispatcherAudioAndVideo, frames are dropped until
// the first video key-frame arrives (§4.5).
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		ring:            newRingBuffer(),
		cursors:         make(map[uint32]*consumerCursor),
		lastAudioIndex:  invalidIndex,
		lastVideoIndex:  invalidIndex,
		waitingKeyFrame: cfg.Mode == DispatcherAudioAndVideo,
		config:          cfg,
	}
	d.notifyCond = sync.NewCond(&d.notifyMu)
	return d
}

// Start launches the single dispatch-loop goroutine (§4.1, §5).
func (d *Dispatcher) Start() {
	d.notifyMu.Lock()
	d.running = true
	d.notifyMu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.dispatchLoop()
	}()
}

// Stop signals the dispatch loop to exit, waits for it to return, and wakes
// every still-attached consumer blocked in RequestRead (§8 Scenario 4:
// stop_dispatch must not leave a waiting consumer parked forever).
func (d *Dispatcher) Stop() {
	d.notifyMu.Lock()
	d.running = false
	d.continueNotify = true
	d.notifyCond.Broadcast()
	d.notifyMu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) wake() {
	d.notifyMu.Lock()
	d.continueNotify = true
	d.notifyCond.Broadcast()
	d.notifyMu.Unlock()
}

// Attach registers a new consumer and assigns it the lowest free readiness
// slot (§4.1). target may be nil; it can be supplied later by the consumer
// façade via the same id, or left nil to model a dropped weak link.
func (d *Dispatcher) Attach(id uint32, target NotifyTarget, mode Mode, keyOnly bool) (uint32, error) {
	d.inner.Lock()
	defer d.inner.Unlock()

	if _, exists := d.cursors[id]; exists {
		// Double-attach of the same id is an implementation bug, not a
		// recoverable condition (§7).
		panic("dispatcher: consumer already attached")
	}
	if popcount16(d.readFlag) >= maxConsumers {
		return 0, ErrCapacityExceeded
	}
	slot, ok := lowestZeroBit(d.readFlag)
	if !ok {
		return 0, ErrCapacityExceeded
	}
	d.readFlag |= 1 << slot

	cur := newConsumerCursor(id, slot, mode, keyOnly)
	cur.target = target
	d.seedCursorLocked(cur)
	d.cursors[id] = cur
	d.order = append(d.order, id)

	d.syncDataRefLocked(cur)
	return slot, nil
}

// seedCursorLocked implements the Attach seeding rules (§4.1). Must be
// called with d.inner held.
func (d *Dispatcher) seedCursorLocked(cur *consumerCursor) {
	switch {
	case d.ring.len() == 0:
		cur.audioIndex = invalidIndex
		cur.videoIndex = invalidIndex
		cur.audioActivate = true
		cur.videoActivate = true
		return
	case d.config.Mode == DispatcherAudioOnly:
		cur.audioIndex = d.lastAudioIndex
		cur.videoIndex = invalidIndex
	case len(d.ring.keyIndices) > 0:
		ki := d.ring.keyIndices[len(d.ring.keyIndices)-1]
		cur.videoIndex = uint32(ki)
		cur.audioIndex = invalidIndex
		for j := ki + 1; j < d.ring.len(); j++ {
			if d.ring.at(j).frame.Kind == Audio {
				cur.audioIndex = uint32(j)
				break
			}
		}
	default:
		cur.audioIndex = d.lastAudioIndex
		cur.videoIndex = invalidIndex
	}
	cur.audioActivate = cur.audioIndex == invalidIndex
	cur.videoActivate = cur.videoIndex == invalidIndex && cur.wantsVideo()
}

// Detach clears the cursor, releases its slot, and wakes the dispatcher.
func (d *Dispatcher) Detach(id uint32) {
	d.inner.Lock()
	cur, ok := d.cursors[id]
	if !ok {
		d.inner.Unlock()
		return
	}
	delete(d.cursors, id)
	for i, oid := range d.order {
		if oid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.readFlag &^= 1 << cur.slot
	d.readiness.clearSlot(cur.slot)
	d.inner.Unlock()
	d.wake()
}

// SetTarget updates (or drops, with target=nil) the weak notify link for an
// attached consumer. A nil target models the "weak link has been dropped"
// case.
func (d *Dispatcher) SetTarget(id uint32, target NotifyTarget) {
	d.inner.Lock()
	defer d.inner.Unlock()
	if cur, ok := d.cursors[id]; ok {
		cur.target = target
	}
}

// SetKeyMode toggles key-only filtering for an attached consumer's video
// stream (§4.2, set_key_mode). Enabling it immediately clears the
// consumer's video data_ref bit, cancelling any pending non-key wakeup;
// disabling it takes effect on the next advance, which then stops skipping
// non-key frames (§8 Scenario 5).
func (d *Dispatcher) SetKeyMode(id uint32, keyOnly bool) {
	d.inner.Lock()
	cur, ok := d.cursors[id]
	if !ok {
		d.inner.Unlock()
		return
	}
	cur.keyOnly = keyOnly
	if keyOnly {
		d.readiness.clearData(videoBit(cur.slot))
	}
	d.inner.Unlock()
	d.wake()
}

// AttachedCount reports the number of currently attached consumers.
func (d *Dispatcher) AttachedCount() int {
	d.inner.Lock()
	defer d.inner.Unlock()
	return len(d.cursors)
}

// syncDataRefLocked recomputes the data_ref bits for cur from its current
// indices. Must be called with d.inner held.
func (d *Dispatcher) syncDataRefLocked(cur *consumerCursor) {
	if cur.audioIndex != invalidIndex && !d.ring.at(int(cur.audioIndex)).isConsumedBy(cur.slot) {
		d.readiness.setData(audioBit(cur.slot))
	} else {
		d.readiness.clearData(audioBit(cur.slot))
	}
	if cur.wantsVideo() && cur.videoIndex != invalidIndex && !d.ring.at(int(cur.videoIndex)).isConsumedBy(cur.slot) {
		d.readiness.setData(videoBit(cur.slot))
	} else {
		d.readiness.clearData(videoBit(cur.slot))
	}
}

// InputData appends a frame to the ring, handles flush-on-first-key and
// GOP eviction, updates readiness, and wakes the dispatch loop (§4.1).
func (d *Dispatcher) InputData(f Frame) {
	d.inner.Lock()

	if d.config.Mode == DispatcherAudioAndVideo && d.waitingKeyFrame {
		if !(f.Kind == Video && f.KeyFrame) {
			d.inner.Unlock()
			return
		}
		d.flushOnFirstKeyLocked()
	}

	idx := uint32(d.ring.append(f))

	switch f.Kind {
	case Audio:
		d.lastAudioIndex = idx
		for _, id := range d.order {
			cur := d.cursors[id]
			d.readiness.setData(audioBit(cur.slot))
			if cur.audioIndex == invalidIndex && cur.audioActivate {
				cur.audioIndex = idx
				cur.audioActivate = false
			}
		}
	case Video:
		d.lastVideoIndex = idx
		for _, id := range d.order {
			cur := d.cursors[id]
			if !cur.wantsVideo() {
				continue
			}
			if !cur.keyOnly || f.KeyFrame {
				d.readiness.setData(videoBit(cur.slot))
			}
			if cur.videoIndex == invalidIndex && cur.videoActivate && (!cur.keyOnly || f.KeyFrame) {
				cur.videoIndex = idx
				cur.videoActivate = false
			}
		}
		if f.KeyFrame && d.config.Mode == DispatcherAudioAndVideo {
			d.evictGOPLocked()
		}
	}

	if d.config.Mode == DispatcherAudioOnly {
		d.evictFreeRunningLocked()
	}

	d.inner.Unlock()
	d.wake()
}

// flushOnFirstKeyLocked implements §4.5. Must be called with d.inner held.
func (d *Dispatcher) flushOnFirstKeyLocked() {
	d.ring.reset()
	for _, id := range d.order {
		cur := d.cursors[id]
		cur.audioIndex = invalidIndex
		cur.videoIndex = invalidIndex
		cur.audioActivate = true
		cur.videoActivate = cur.wantsVideo()
	}
	d.lastAudioIndex = invalidIndex
	d.lastVideoIndex = invalidIndex
	d.waitingKeyFrame = false
}

// evictGOPLocked implements the GOP-aligned eviction pass (§4.4). Must be
// called with d.inner held, on each key-frame input.
func (d *Dispatcher) evictGOPLocked() {
	evictable := 0
	for _, ki := range d.ring.keyIndices {
		s := d.ring.at(ki)
		if uint16(s.consumedMask.Load())&d.readFlag == d.readFlag {
			evictable++
			continue
		}
		break
	}
	if evictable == 0 {
		return
	}
	var evictUpTo int
	if evictable == len(d.ring.keyIndices) {
		evictUpTo = d.ring.len()
	} else {
		evictUpTo = d.ring.keyIndices[evictable]
	}
	d.evictFrontLocked(evictUpTo)
}

// evictFreeRunningLocked evicts any leading slots every attached consumer
// has fully read, without regard to key-frame boundaries (DispatcherAudioOnly,
// §4.4 "audio-only mode"). Must be called with d.inner held.
func (d *Dispatcher) evictFreeRunningLocked() {
	n := 0
	for n < d.ring.len() {
		s := d.ring.at(n)
		if uint16(s.consumedMask.Load())&d.readFlag != d.readFlag {
			break
		}
		n++
	}
	d.evictFrontLocked(n)
}

// evictFrontLocked removes the first n slots and shifts every live index by
// n, in a single critical section (§4.3, Timing & eviction interactions).
func (d *Dispatcher) evictFrontLocked(n int) {
	if n <= 0 {
		return
	}
	d.ring.evictFront(n)

	shift := func(idx uint32) uint32 {
		if idx == invalidIndex {
			return invalidIndex
		}
		if int(idx) < n {
			// Defensive: a cursor's own unread index should never fall
			// inside a region every attached consumer (including it) has
			// fully read. Treat it as consumed past, rather than
			// corrupting the ring mapping.
			return invalidIndex
		}
		return idx - uint32(n)
	}

	d.lastAudioIndex = shift(d.lastAudioIndex)
	d.lastVideoIndex = shift(d.lastVideoIndex)
	for _, id := range d.order {
		cur := d.cursors[id]
		cur.audioIndex = shift(cur.audioIndex)
		cur.videoIndex = shift(cur.videoIndex)
	}
}

// ReadBufferData implements §4.1. Returns (frame, true) on success, or
// (nil, false) for NotAttached / AlreadyConsumed / Stalled — all
// indistinguishable to the caller by design (§7): the handshake loop treats
// any false as "spurious wakeup, try again or re-block".
//
// Each stream's index is advanced past already-consumed/non-matching slots
// before the two are compared, so a side with no fresh data (stalled at an
// already-read index) never blocks delivery from the other side — the
// lesser-index tie-break in §5 only applies once both sides are known to
// point at real, unconsumed data.
func (d *Dispatcher) ReadBufferData(id uint32, kind Kind) (*Frame, bool) {
	d.inner.Lock()
	defer d.inner.Unlock()

	cur, ok := d.cursors[id]
	if !ok {
		return nil, false
	}

	switch kind {
	case Audio:
		if !cur.advanceAudio(d.ring) {
			return nil, false
		}
		return d.consumeLocked(cur, cur.audioIndex, func() { cur.advanceAudio(d.ring) })
	case Video:
		if !cur.wantsVideo() || !cur.advanceVideo(d.ring) {
			return nil, false
		}
		return d.consumeLocked(cur, cur.videoIndex, func() { cur.advanceVideo(d.ring) })
	case Mixed:
		aOK := cur.advanceAudio(d.ring)
		vOK := cur.wantsVideo() && cur.advanceVideo(d.ring)
		switch {
		case !aOK && !vOK:
			return nil, false
		case !aOK:
			return d.consumeLocked(cur, cur.videoIndex, func() { cur.advanceVideo(d.ring) })
		case !vOK:
			return d.consumeLocked(cur, cur.audioIndex, func() { cur.advanceAudio(d.ring) })
		case cur.audioIndex <= cur.videoIndex:
			return d.consumeLocked(cur, cur.audioIndex, func() { cur.advanceAudio(d.ring) })
		default:
			return d.consumeLocked(cur, cur.videoIndex, func() { cur.advanceVideo(d.ring) })
		}
	default:
		return nil, false
	}
}

// consumeLocked marks the slot at idx read by cur, snapshots its frame, and
// advances cur past it via advanceAfter. Must be called with d.inner held.
func (d *Dispatcher) consumeLocked(cur *consumerCursor, idx uint32, advanceAfter func()) (*Frame, bool) {
	slot := d.ring.at(int(idx))
	if slot == nil {
		return nil, false
	}
	slot.markConsumed(cur.slot)
	frame := slot.frame
	advanceAfter()
	d.syncDataRefLocked(cur)
	return &frame, true
}

// NotifyReadReady marks the consumer ready to receive kind, advances its
// cursor in kind's direction, and updates data_ref accordingly (§4.1).
// Calling it twice in a row with no intervening frame or read is
// idempotent: the cursor is already as far forward as it can go, so the
// second call recomputes the same readiness state.
func (d *Dispatcher) NotifyReadReady(id uint32, kind Kind) {
	d.inner.Lock()
	cur, ok := d.cursors[id]
	if !ok {
		d.inner.Unlock()
		return
	}

	switch kind {
	case Audio:
		d.readiness.setRecv(audioBit(cur.slot))
		if cur.advanceAudio(d.ring) {
			d.readiness.setData(audioBit(cur.slot))
		} else {
			d.readiness.clearData(audioBit(cur.slot))
		}
	case Video:
		d.readiness.setRecv(videoBit(cur.slot))
		if cur.advanceVideo(d.ring) {
			d.readiness.setData(videoBit(cur.slot))
		} else {
			d.readiness.clearData(videoBit(cur.slot))
		}
	case Mixed:
		d.readiness.setRecv(audioBit(cur.slot))
		d.readiness.setRecv(videoBit(cur.slot))
		aOK := cur.advanceAudio(d.ring)
		vOK := cur.wantsVideo() && cur.advanceVideo(d.ring)
		if aOK {
			d.readiness.setData(audioBit(cur.slot))
		} else {
			d.readiness.clearData(audioBit(cur.slot))
		}
		if vOK {
			d.readiness.setData(videoBit(cur.slot))
		} else {
			d.readiness.clearData(videoBit(cur.slot))
		}
	}
	d.inner.Unlock()
	d.wake()
}

// ClearDataBit and ClearRecvBit clear the readiness bit(s) for (id, kind).
// Consumer.RequestRead calls ClearDataBit just before it blocks (§4.1);
// ClearRecvBit is not called by the consumer façade.
func (d *Dispatcher) ClearDataBit(id uint32, kind Kind) {
	d.withSlot(id, func(slot uint32) {
		for _, b := range bitsFor(slot, kind) {
			d.readiness.clearData(b)
		}
	})
}

func (d *Dispatcher) ClearRecvBit(id uint32, kind Kind) {
	d.withSlot(id, func(slot uint32) {
		for _, b := range bitsFor(slot, kind) {
			d.readiness.clearRecv(b)
		}
	})
}

func bitsFor(slot uint32, kind Kind) []uint32 {
	switch kind {
	case Audio:
		return []uint32{audioBit(slot)}
	case Video:
		return []uint32{videoBit(slot)}
	case Mixed:
		return []uint32{audioBit(slot), videoBit(slot)}
	default:
		return nil
	}
}

func (d *Dispatcher) withSlot(id uint32, fn func(slot uint32)) {
	d.inner.Lock()
	cur, ok := d.cursors[id]
	d.inner.Unlock()
	if !ok {
		return
	}
	fn(cur.slot)
}

// dispatchPending is a snapshot of one wakeup to deliver, captured under the
// lock so the actual callback runs outside it.
type dispatchPending struct {
	target NotifyTarget
	audio  bool
	video  bool
	mixed  bool
}

// dispatchLoop is the single dispatch thread (§4.1, §5). Its only
// suspension point is the wait on notifyCond below.
func (d *Dispatcher) dispatchLoop() {
	for {
		d.inner.Lock()
		mask := d.readiness.notifyMask()
		pending := make([]dispatchPending, 0, len(d.order))
		for _, id := range d.order {
			cur := d.cursors[id]
			ab := mask&(1<<audioBit(cur.slot)) != 0
			vb := mask&(1<<videoBit(cur.slot)) != 0
			if !ab && !vb {
				continue
			}
			if cur.target == nil {
				// Weak link dropped: skip silently and clear the bit so
				// the dispatcher stops trying (§4.1, failure semantics).
				if ab {
					d.readiness.clearData(audioBit(cur.slot))
				}
				if vb {
					d.readiness.clearData(videoBit(cur.slot))
				}
				continue
			}
			if cur.mode == ModeMixed {
				pending = append(pending, dispatchPending{target: cur.target, mixed: true})
			} else {
				if ab {
					pending = append(pending, dispatchPending{target: cur.target, audio: true})
				}
				if vb {
					pending = append(pending, dispatchPending{target: cur.target, video: true})
				}
			}
		}
		d.inner.Unlock()

		for _, p := range pending {
			d.deliver(p)
		}

		d.notifyMu.Lock()
		for !d.continueNotify {
			d.notifyCond.Wait()
		}
		stop := !d.running
		d.continueNotify = false
		d.notifyMu.Unlock()
		if stop {
			d.stopAllTargets()
			return
		}
	}
}

// stopAllTargets calls OnStop on every still-attached, non-nil target, so a
// goroutine parked in RequestRead returns ErrCancelled instead of leaking
// (§8 Scenario 4). Snapshotted under d.inner, same as a dispatchPending
// batch, so OnStop never runs while the lock is held.
func (d *Dispatcher) stopAllTargets() {
	d.inner.Lock()
	targets := make([]NotifyTarget, 0, len(d.order))
	for _, id := range d.order {
		if cur := d.cursors[id]; cur.target != nil {
			targets = append(targets, cur.target)
		}
	}
	d.inner.Unlock()

	for _, target := range targets {
		d.deliverStop(target)
	}
}

// deliverStop mirrors deliver's panic containment so a misbehaving target
// can't take the dispatch loop down on its way out.
func (d *Dispatcher) deliverStop(target NotifyTarget) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[dispatcher] stop callback panicked: %v", r)
		}
	}()
	target.OnStop()
}

// deliver never lets a notify callback panic take down the dispatch
// thread (§4.1, failure semantics).
func (d *Dispatcher) deliver(p dispatchPending) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[dispatcher] notify callback panicked: %v", r)
		}
	}()
	switch {
	case p.mixed:
		p.target.OnMixedData()
	case p.audio:
		p.target.OnAudioData()
	case p.video:
		p.target.OnVideoData()
	}
}

// Stats is a point-in-time snapshot used by introspection tooling
// (internal/statsapi); it is not part of the core protocol.
type Stats struct {
	RingDepth       int
	AttachedCount   int
	KeyFrameCount   int
	WaitingKeyFrame bool
	ReadFlag        uint16
	DataRef         uint32
	RecvRef         uint32
}

// Snapshot returns a point-in-time Stats snapshot.
func (d *Dispatcher) Snapshot() Stats {
	d.inner.Lock()
	defer d.inner.Unlock()
	return Stats{
		RingDepth:       d.ring.len(),
		AttachedCount:   len(d.cursors),
		KeyFrameCount:   len(d.ring.keyIndices),
		WaitingKeyFrame: d.waitingKeyFrame,
		ReadFlag:        d.readFlag,
		DataRef:         d.readiness.dataRef.Load(),
		RecvRef:         d.readiness.recvRef.Load(),
	}
}
