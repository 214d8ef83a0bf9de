package dispatcher

import "sync/atomic"

// maxConsumers is the hard cap on simultaneously attached consumers — the
// width of the two readiness words. Widening this would mean widening both
// words to 64 bits; anything past 64 needs a different structure entirely
// (per-slot readiness plus a roaring index of ready slots).
const maxConsumers = 16

// readinessMap is the two-atomic-word bitmap described in §3/§9. For
// consumer slot k, bit 2k is the audio channel and bit 2k+1 is the video
// channel. dataRef bit set means the dispatcher has unread data for that
// (slot, channel); recvRef bit set means the consumer is ready to receive.
// The dispatcher wakes a consumer on a channel iff both bits are set —
// the dispatch loop's inner test is a single atomic load per word plus a
// bitwise AND, and per-consumer checks are two bit tests.
type readinessMap struct {
	dataRef atomic.Uint32
	recvRef atomic.Uint32
}

func audioBit(slot uint32) uint32 { return slot * 2 }
func videoBit(slot uint32) uint32 { return slot*2 + 1 }

func (m *readinessMap) setData(bit uint32)   { m.dataRef.Or(uint32(1) << bit) }
func (m *readinessMap) clearData(bit uint32) { m.dataRef.And(^(uint32(1) << bit)) }
func (m *readinessMap) setRecv(bit uint32)   { m.recvRef.Or(uint32(1) << bit) }
func (m *readinessMap) clearRecv(bit uint32) { m.recvRef.And(^(uint32(1) << bit)) }

func (m *readinessMap) dataSet(bit uint32) bool {
	return m.dataRef.Load()&(uint32(1)<<bit) != 0
}

func (m *readinessMap) clearSlot(slot uint32) {
	mask := (uint32(1) << audioBit(slot)) | (uint32(1) << videoBit(slot))
	m.dataRef.And(^mask)
	m.recvRef.And(^mask)
}

// notifyMask returns data_ref & recv_ref, the wakeup set for the current
// dispatch-loop pass.
func (m *readinessMap) notifyMask() uint32 {
	return m.dataRef.Load() & m.recvRef.Load()
}
