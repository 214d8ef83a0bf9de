package dispatcher

import "errors"

// Error taxonomy (§7). None of these panic in steady state — each is a
// best-effort wakeup with an empty payload, and the caller (consumer
// handshake loop) is expected to treat it as "try again or exit".
var (
	// ErrCapacityExceeded is returned by Attach once 16 consumers are
	// already attached.
	ErrCapacityExceeded = errors.New("dispatcher: capacity exceeded (16 consumers attached)")
	// ErrNotAttached means ReadBufferData / NotifyReadReady was called
	// with an id that has no registered cursor.
	ErrNotAttached = errors.New("dispatcher: consumer not attached")
	// ErrAlreadyConsumed means the candidate slot was already read by this
	// cursor and no further eligible slot was found on retry.
	ErrAlreadyConsumed = errors.New("dispatcher: candidate slot already consumed")
	// ErrStalled means the cursor advance found no new eligible slot; the
	// cursor is left exactly where it was.
	ErrStalled = errors.New("dispatcher: no eligible frame yet")
	// ErrCancelled means notify_read_stop fired while a consumer was
	// waiting in RequestRead.
	ErrCancelled = errors.New("dispatcher: read request cancelled")
)
