package dispatcher

import "testing"

func TestReadinessMapSetClearData(t *testing.T) {
	var m readinessMap

	bit := audioBit(2)
	if m.dataSet(bit) {
		t.Fatal("expected bit unset initially")
	}
	m.setData(bit)
	if !m.dataSet(bit) {
		t.Fatal("expected bit set after setData")
	}
	m.clearData(bit)
	if m.dataSet(bit) {
		t.Fatal("expected bit cleared after clearData")
	}
}

func TestReadinessMapNotifyMaskRequiresBothBits(t *testing.T) {
	var m readinessMap
	bit := videoBit(1)

	m.setData(bit)
	if m.notifyMask()&(1<<bit) != 0 {
		t.Fatal("notifyMask should be 0 for this bit with data set but recv unset")
	}

	m.setRecv(bit)
	if m.notifyMask()&(1<<bit) == 0 {
		t.Fatal("notifyMask should include bit once both data and recv are set")
	}
}

func TestReadinessMapClearSlotClearsBothChannels(t *testing.T) {
	var m readinessMap
	m.setData(audioBit(5))
	m.setRecv(audioBit(5))
	m.setData(videoBit(5))
	m.setRecv(videoBit(5))

	m.clearSlot(5)

	if m.dataRef.Load() != 0 || m.recvRef.Load() != 0 {
		t.Fatalf("expected both words zero after clearSlot, got data=%x recv=%x",
			m.dataRef.Load(), m.recvRef.Load())
	}
}

func TestAudioVideoBitsDoNotOverlapAcrossSlots(t *testing.T) {
	seen := map[uint32]bool{}
	for slot := uint32(0); slot < maxConsumers; slot++ {
		for _, b := range []uint32{audioBit(slot), videoBit(slot)} {
			if seen[b] {
				t.Fatalf("bit %d reused across slots", b)
			}
			seen[b] = true
		}
	}
}

func TestLowestZeroBit(t *testing.T) {
	got, ok := lowestZeroBit(0)
	if !ok || got != 0 {
		t.Fatalf("expected (0, true) for empty flag, got (%d, %v)", got, ok)
	}

	got, ok = lowestZeroBit(0b0111)
	if !ok || got != 3 {
		t.Fatalf("expected (3, true), got (%d, %v)", got, ok)
	}

	got, ok = lowestZeroBit(0xFFFF)
	if ok {
		t.Fatalf("expected no free bit for full flag, got (%d, %v)", got, ok)
	}
}
