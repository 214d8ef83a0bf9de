package dispatcher

import "testing"

func TestRingAdvanceSkipsConsumedAndWrongKind(t *testing.T) {
	r := newRingBuffer()
	r.append(Frame{Kind: Audio, PTS: 0})
	r.append(Frame{Kind: Video, PTS: 1})
	r.append(Frame{Kind: Audio, PTS: 2})
	r.at(0).markConsumed(0)

	idx := r.advance(invalidIndex, 0, Audio, false)
	if idx != 2 {
		t.Fatalf("expected advance to skip consumed slot 0 and wrong-kind slot 1, landing on 2, got %d", idx)
	}
}

func TestRingAdvanceKeyOnlyMarksSkippedNonKeyConsumed(t *testing.T) {
	r := newRingBuffer()
	r.append(Frame{Kind: Video, KeyFrame: false}) // idx 0
	r.append(Frame{Kind: Video, KeyFrame: true})  // idx 1

	idx := r.advance(invalidIndex, 7, Video, true)
	if idx != 1 {
		t.Fatalf("expected keyOnly advance to land on key-frame idx 1, got %d", idx)
	}
	if !r.at(0).isConsumedBy(7) {
		t.Fatal("expected skipped non-key slot to be marked consumed for pin avoidance")
	}
}

func TestRingAdvanceReturnsFromWhenNoEligibleSlot(t *testing.T) {
	r := newRingBuffer()
	r.append(Frame{Kind: Audio})

	idx := r.advance(0, 0, Video, false)
	if idx != 0 {
		t.Fatalf("expected advance to leave index unchanged at 0, got %d", idx)
	}
}

func TestConsumerCursorAdvanceStopsAtUnconsumedSlotOfEachKind(t *testing.T) {
	r := newRingBuffer()
	r.append(Frame{Kind: Audio, PTS: 0})
	r.append(Frame{Kind: Video, PTS: 1})
	r.append(Frame{Kind: Audio, PTS: 2})

	c := newConsumerCursor(1, 0, ModeMixed, false)

	if !c.advanceAudio(r) || c.audioIndex != 0 {
		t.Fatalf("expected audio cursor to land on idx 0, got %d", c.audioIndex)
	}
	if !c.advanceVideo(r) || c.videoIndex != 1 {
		t.Fatalf("expected video cursor to land on idx 1, got %d", c.videoIndex)
	}
}

func TestConsumerCursorAdvanceReportsFalseWhenStalled(t *testing.T) {
	r := newRingBuffer()
	r.append(Frame{Kind: Audio, PTS: 0})

	c := newConsumerCursor(1, 2, ModeAudioOnly, false)
	if !c.advanceAudio(r) {
		t.Fatal("expected first advance to find the only audio slot")
	}
	r.at(0).markConsumed(2)

	if c.advanceAudio(r) {
		t.Fatal("expected advance to report false once the only slot is consumed and no more data exists")
	}
}

func TestConsumerCursorWantsVideo(t *testing.T) {
	cases := []struct {
		mode Mode
		want bool
	}{
		{ModeAudioOnly, false},
		{ModeMixed, true},
		{ModeAudioAndVideo, true},
	}
	for _, tc := range cases {
		c := newConsumerCursor(0, 0, tc.mode, false)
		if got := c.wantsVideo(); got != tc.want {
			t.Errorf("mode %v: wantsVideo() = %v, want %v", tc.mode, got, tc.want)
		}
	}
}
