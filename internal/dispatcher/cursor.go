package dispatcher

// Mode is the set of streams a consumer has asked the dispatcher for.
type Mode int

const (
	// ModeAudioOnly consumers never see video.
	ModeAudioOnly Mode = iota
	// ModeMixed consumers receive audio and video through a single waitline,
	// in ring order (audio before video at equal index).
	ModeMixed
	// ModeAudioAndVideo consumers receive both streams, each through its own
	// independent waitline (no cross-kind ordering guarantee).
	ModeAudioAndVideo
)

// consumerCursor is the dispatcher's per-consumer read position. It is only
// ever mutated while the dispatcher's lock is held.
type consumerCursor struct {
	id      uint32
	slot    uint32 // bit position in the readiness map, 0..15
	mode    Mode
	keyOnly bool

	// target is the dispatcher's back-link to the consumer (§9), set by
	// Attach and changeable through SetTarget. A nil target models a
	// dropped weak link.
	target NotifyTarget

	audioIndex uint32 // next-to-deliver ring position, or invalidIndex
	videoIndex uint32

	audioActivate bool // seed audioIndex on the next audio frame if still invalid
	videoActivate bool // seed videoIndex on the next video frame if still invalid
}

func newConsumerCursor(id, slot uint32, mode Mode, keyOnly bool) *consumerCursor {
	return &consumerCursor{
		id:            id,
		slot:          slot,
		mode:          mode,
		keyOnly:       keyOnly,
		audioIndex:    invalidIndex,
		videoIndex:    invalidIndex,
		audioActivate: true,
		videoActivate: true,
	}
}

func (c *consumerCursor) wantsVideo() bool {
	return c.mode == ModeMixed || c.mode == ModeAudioAndVideo
}

// advance implements §4.3: the smallest index j > from in ring such that the
// slot at j is not yet in this cursor's consumed_mask and its frame matches
// kind (Audio or Video only — Mixed is handled by the caller advancing both
// indices independently). Non-key video slots skipped while key-only is in
// effect on the way to the landed slot are marked consumed by this cursor, so
// they cannot pin the ring from eviction. Returns from unchanged, marking
// nothing, if no such j exists.
func (r *ringBuffer) advance(from uint32, bit uint32, kind Kind, keyOnly bool) uint32 {
	start := 0
	if from != invalidIndex {
		start = int(from) + 1
	}
	var skipped []*ringSlot
	for j := start; j < r.len(); j++ {
		s := r.at(j)
		if s.frame.Kind != kind {
			continue
		}
		if kind == Video && keyOnly && !s.frame.KeyFrame {
			skipped = append(skipped, s)
			continue
		}
		if s.isConsumedBy(bit) {
			continue
		}
		for _, k := range skipped {
			k.markConsumed(bit)
		}
		return uint32(j)
	}
	return from
}

// advanceAudio keeps c.audioIndex while it points at a slot this cursor has
// not read yet; otherwise it moves it forward past already-consumed/
// non-matching slots. It reports whether it landed on fresh, unconsumed data.
func (c *consumerCursor) advanceAudio(r *ringBuffer) bool {
	if c.audioIndex != invalidIndex && !r.at(int(c.audioIndex)).isConsumedBy(c.slot) {
		return true
	}
	c.audioIndex = r.advance(c.audioIndex, c.slot, Audio, false)
	return c.audioIndex != invalidIndex && !r.at(int(c.audioIndex)).isConsumedBy(c.slot)
}

// advanceVideo does the same for c.videoIndex, honoring key_only.
func (c *consumerCursor) advanceVideo(r *ringBuffer) bool {
	if c.videoIndex != invalidIndex {
		s := r.at(int(c.videoIndex))
		if !s.isConsumedBy(c.slot) && (!c.keyOnly || s.frame.KeyFrame) {
			return true
		}
	}
	c.videoIndex = r.advance(c.videoIndex, c.slot, Video, c.keyOnly)
	return c.videoIndex != invalidIndex && !r.at(int(c.videoIndex)).isConsumedBy(c.slot)
}

