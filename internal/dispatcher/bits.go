package dispatcher

import "math/bits"

// lowestZeroBit returns the position of the lowest unset bit in flag,
// scanning the low maxConsumers bits only.
func lowestZeroBit(flag uint16) (uint32, bool) {
	for i := uint32(0); i < maxConsumers; i++ {
		if flag&(1<<i) == 0 {
			return i, true
		}
	}
	return 0, false
}

func popcount16(v uint16) int {
	return bits.OnesCount16(v)
}
