package wire

import (
	"testing"
)

func TestSentState_RoundTrip(t *testing.T) {
	p := testProtocol()

	f1 := NewFrameState(1000, 1, 42)
	if err := f1.AddState(fullState(10), p); err != nil {
		t.Fatalf("AddState: %v", err)
	}
	if err := f1.AddState(fullState(11), p); err != nil {
		t.Fatalf("AddState: %v", err)
	}
	f2 := NewFrameState(1050, 2, 42)
	if err := f2.AddState(NewObjectState(12, nil), p); err != nil {
		t.Fatalf("AddState: %v", err)
	}

	s := NewSentState(5, []IntRange{{Min: 1, Max: 3}, {Min: 7, Max: 7}}, []*FrameState{f1, f2})

	buf, err := s.ToBytes(p)
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	got, err := SentStateFromBytes(5, buf, p)
	if err != nil {
		t.Fatalf("SentStateFromBytes: %v", err)
	}

	if got.MessageID != 5 {
		t.Fatalf("messageId: got %d want 5", got.MessageID)
	}
	if len(got.Acked) != 2 || got.Acked[0] != (IntRange{Min: 1, Max: 3}) || got.Acked[1] != (IntRange{Min: 7, Max: 7}) {
		t.Fatalf("acked: got %v", got.Acked)
	}
	if len(got.Frames) != 2 {
		t.Fatalf("frames: got %d want 2", len(got.Frames))
	}
	if got.Frames[0].Time != 1000 || got.Frames[0].LegacySequence != 1 || got.Frames[0].ColumnID != 42 {
		t.Fatalf("frame 0 header: %+v", got.Frames[0])
	}
	if len(got.Frames[0].States) != 2 || len(got.Frames[1].States) != 1 {
		t.Fatalf("state counts: %d, %d", len(got.Frames[0].States), len(got.Frames[1].States))
	}
	for i, want := range []*ObjectState{fullState(10), fullState(11)} {
		if !got.Frames[0].States[i].Equal(want) {
			t.Fatalf("frame 0 state %d: got %v want %v", i, got.Frames[0].States[i], want)
		}
	}
}

func TestSentState_EmptyRoundTrip(t *testing.T) {
	p := testProtocol()
	s := NewSentState(1, nil, nil)
	buf, err := s.ToBytes(p)
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	// One byte of ack count, one marker bit padded out.
	if len(buf) != 2 {
		t.Fatalf("empty sent state size: got %d bytes want 2", len(buf))
	}
	got, err := SentStateFromBytes(1, buf, p)
	if err != nil {
		t.Fatalf("SentStateFromBytes: %v", err)
	}
	if len(got.Acked) != 0 || len(got.Frames) != 0 {
		t.Fatalf("empty round trip: %+v", got)
	}
}

func TestSentState_TooManyRanges(t *testing.T) {
	p := testProtocol()
	ranges := make([]IntRange, 256)
	for i := range ranges {
		ranges[i] = IntRange{Min: i * 2, Max: i * 2}
	}
	s := NewSentState(1, ranges, nil)
	if _, err := s.ToBytes(p); err == nil {
		t.Fatal("expected ack overflow error")
	}
}

func TestFrameState_Split(t *testing.T) {
	p := testProtocol()

	f := NewFrameState(1000, 1, 42)
	for i := 1; i <= 100; i++ {
		if err := f.AddState(fullState(uint16(i)), p); err != nil {
			t.Fatalf("AddState: %v", err)
		}
	}
	perState := int64(p.EstimatedBitSize(fullState(1)))

	limit := int64(FrameHeaderBits) + perState*40 + perState/2
	tail, err := f.Split(limit, p)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if tail == nil {
		t.Fatal("expected a tail")
	}
	if len(f.States) != 40 || len(tail.States) != 60 {
		t.Fatalf("split sizes: head %d tail %d", len(f.States), len(tail.States))
	}
	if tail.LegacySequence != f.LegacySequence+1 {
		t.Fatalf("tail sequence: got %d want %d", tail.LegacySequence, f.LegacySequence+1)
	}
	if tail.Time != f.Time || tail.ColumnID != f.ColumnID {
		t.Fatal("tail header mismatch")
	}
	if f.EstimatedBitSize() > limit {
		t.Fatalf("head still too big: %d > %d", f.EstimatedBitSize(), limit)
	}

	// Head ids then tail ids reproduce the original order.
	next := uint16(1)
	for _, s := range f.States {
		if s.NetworkID != next {
			t.Fatalf("head order broken at %d", next)
		}
		next++
	}
	for _, s := range tail.States {
		if s.NetworkID != next {
			t.Fatalf("tail order broken at %d", next)
		}
		next++
	}
}

func TestFrameState_SplitFitsWhole(t *testing.T) {
	p := testProtocol()
	f := NewFrameState(1000, 1, 42)
	if err := f.AddState(fullState(1), p); err != nil {
		t.Fatalf("AddState: %v", err)
	}
	tail, err := f.Split(f.EstimatedBitSize(), p)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if tail != nil {
		t.Fatal("no tail expected when the frame fits")
	}
}

func TestFrameState_SplitImpossible(t *testing.T) {
	p := testProtocol()
	f := NewFrameState(1000, 1, 42)
	for i := 1; i <= 2; i++ {
		if err := f.AddState(fullState(uint16(i)), p); err != nil {
			t.Fatalf("AddState: %v", err)
		}
	}
	// Limit below header+one state: the split point would be 0.
	if _, err := f.Split(FrameHeaderBits+1, p); err == nil {
		t.Fatal("expected split-impossible error")
	}
}

func TestSentState_HeaderEstimateMatchesWire(t *testing.T) {
	p := testProtocol()
	s := NewSentState(1, []IntRange{{Min: 1, Max: 3}, {Min: 9, Max: 12}}, nil)
	buf, err := s.ToBytes(p)
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	// Header bits plus the terminating marker, padded to bytes.
	wantBytes := (s.EstimatedHeaderBits() + 1 + 7) / 8
	if len(buf) != wantBytes {
		t.Fatalf("header size: got %d bytes want %d", len(buf), wantBytes)
	}
}
