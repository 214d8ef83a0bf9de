package dispatcher

// DispatcherMode is the dispatcher-wide operating mode set at construction
// (§6, Configuration: initial_mode). It is distinct from a per-consumer
// Mode: it governs whether the ring requires a leading video key-frame
// before it accepts data (flush-on-first-key, §4.5) and whether eviction is
// GOP-aligned (§4.4) or free-running (§4.4, "audio-only mode").
type DispatcherMode int

const (
	// DispatcherAudioOnly never waits for a video key-frame and evicts any
	// leading run of slots every attached consumer has fully read,
	// regardless of frame kind.
	DispatcherAudioOnly DispatcherMode = iota
	// DispatcherAudioAndVideo waits for the first video key-frame before
	// accepting data, and evicts whole GOPs from the front once every
	// attached consumer has read the GOP's leading key-frame.
	DispatcherAudioAndVideo
)

// Config is the dispatcher's external configuration (§6).
type Config struct {
	// MaxCapacity is a soft, informational cap on ring length. The core
	// never enforces it directly — eviction is driven by GOP/consumption
	// state, not by a hard slot count — but callers may use it to size
	// monitoring alerts.
	MaxCapacity uint32
	// CapacityIncrement is carried for wire/API compatibility with the
	// original implementation, which declares but never reads it (§9, open
	// question: "implemented nowhere"). It has no effect here either.
	CapacityIncrement uint32
	// Mode selects DispatcherAudioOnly or DispatcherAudioAndVideo behavior.
	Mode DispatcherMode
}
