package dispatcher

import "testing"

func TestRingBufferAppendAssignsAscendingIndices(t *testing.T) {
	r := newRingBuffer()

	i0 := r.append(Frame{Kind: Audio, PTS: 1})
	i1 := r.append(Frame{Kind: Video, PTS: 2})
	i2 := r.append(Frame{Kind: Audio, PTS: 3})

	if i0 != 0 || i1 != 1 || i2 != 2 {
		t.Fatalf("expected indices 0,1,2, got %d,%d,%d", i0, i1, i2)
	}
	if r.len() != 3 {
		t.Fatalf("expected len 3, got %d", r.len())
	}
}

func TestRingBufferTracksKeyIndices(t *testing.T) {
	r := newRingBuffer()
	r.append(Frame{Kind: Audio})
	r.append(Frame{Kind: Video, KeyFrame: false})
	r.append(Frame{Kind: Video, KeyFrame: true})
	r.append(Frame{Kind: Audio})
	r.append(Frame{Kind: Video, KeyFrame: true})

	if len(r.keyIndices) != 2 {
		t.Fatalf("expected 2 key indices, got %v", r.keyIndices)
	}
	if r.keyIndices[0] != 2 || r.keyIndices[1] != 4 {
		t.Fatalf("unexpected key indices: %v", r.keyIndices)
	}
}

func TestRingBufferEvictFrontShiftsKeyIndices(t *testing.T) {
	r := newRingBuffer()
	for i := 0; i < 3; i++ {
		r.append(Frame{Kind: Audio})
	}
	r.append(Frame{Kind: Video, KeyFrame: true}) // idx 3
	r.append(Frame{Kind: Audio})                 // idx 4
	r.append(Frame{Kind: Video, KeyFrame: true}) // idx 5

	r.evictFront(4)

	if r.len() != 2 {
		t.Fatalf("expected len 2 after evicting 4, got %d", r.len())
	}
	if len(r.keyIndices) != 1 || r.keyIndices[0] != 1 {
		t.Fatalf("expected remaining key index 1, got %v", r.keyIndices)
	}
}

func TestRingSlotConsumedMaskIsPerBit(t *testing.T) {
	r := newRingBuffer()
	r.append(Frame{Kind: Audio})
	s := r.at(0)

	if s.isConsumedBy(3) {
		t.Fatal("expected slot unconsumed initially")
	}
	s.markConsumed(3)
	if !s.isConsumedBy(3) {
		t.Fatal("expected slot consumed by bit 3 after markConsumed(3)")
	}
	if s.isConsumedBy(4) {
		t.Fatal("markConsumed(3) should not affect bit 4")
	}
}

func TestRingBufferResetClearsEverything(t *testing.T) {
	r := newRingBuffer()
	r.append(Frame{Kind: Video, KeyFrame: true})
	r.append(Frame{Kind: Audio})

	r.reset()

	if r.len() != 0 {
		t.Fatalf("expected len 0 after reset, got %d", r.len())
	}
	if len(r.keyIndices) != 0 {
		t.Fatalf("expected no key indices after reset, got %v", r.keyIndices)
	}
}

func TestRingBufferAtOutOfRange(t *testing.T) {
	r := newRingBuffer()
	r.append(Frame{Kind: Audio})

	if r.at(-1) != nil {
		t.Fatal("expected nil for negative index")
	}
	if r.at(5) != nil {
		t.Fatal("expected nil for out-of-range index")
	}
}
