package wire

import (
	"fmt"

	"zonecast/internal/bitio"
)

// FrameHeaderBits is the fixed frame header: time, legacy sequence, and
// column id at 64 bits each plus a 16-bit state count.
const FrameHeaderBits = 64 + 64 + 64 + 16

// FrameState is one zone-frame on the wire: a server frame time, a
// legacy sequence, the long id of the sender's window center zone, and
// the object states for that frame.  The tracked estimated bit size
// drives the packet splitter.
type FrameState struct {
	Time           int64
	LegacySequence int64
	ColumnID       int64
	States         []*ObjectState

	estimatedBitSize int64
}

func NewFrameState(time, legacySequence, columnID int64) *FrameState {
	return &FrameState{
		Time:             time,
		LegacySequence:   legacySequence,
		ColumnID:         columnID,
		estimatedBitSize: FrameHeaderBits,
	}
}

func (f *FrameState) EstimatedBitSize() int64 {
	return f.estimatedBitSize
}

// AddState appends a state, accounting its exact encoded size.
func (f *FrameState) AddState(s *ObjectState, p *Protocol) error {
	if s.NetworkID == 0 {
		return fmt.Errorf("wire: incomplete state added to frame: %s", s)
	}
	f.States = append(f.States, s)
	f.estimatedBitSize += int64(p.EstimatedBitSize(s))
	return nil
}

// Split carves off the tail states that do not fit within limit bits and
// returns them as a new frame with the next legacy sequence; the
// receiver reassembles by concatenation.  It returns nil when the whole
// frame fits.  A split point of zero or of the entire list cannot make
// progress and is an error: the configured buffer cannot hold even one
// state beyond the header, which implies a mis-sized MTU or ack header.
func (f *FrameState) Split(limit int64, p *Protocol) (*FrameState, error) {
	if f.estimatedBitSize <= limit {
		return nil, nil
	}

	size := int64(FrameHeaderBits)
	split := 0
	for split < len(f.States) {
		bits := int64(p.EstimatedBitSize(f.States[split]))
		if size+bits > limit {
			break
		}
		size += bits
		split++
	}
	if split == 0 || split == len(f.States) {
		return nil, fmt.Errorf("%w: split=%d limit=%d", ErrSplitImpossible, split, limit)
	}

	leftOverBits := f.estimatedBitSize - size

	tail := NewFrameState(f.Time, f.LegacySequence+1, f.ColumnID)
	tail.States = f.States[split:]
	tail.estimatedBitSize += leftOverBits

	f.estimatedBitSize = size
	f.States = f.States[:split]

	return tail, nil
}

func (f *FrameState) WriteBits(out *bitio.Writer, p *Protocol) error {
	if err := out.WriteLongBits(uint64(f.Time), 64); err != nil {
		return err
	}
	if err := out.WriteLongBits(uint64(f.LegacySequence), 64); err != nil {
		return err
	}
	if err := out.WriteLongBits(uint64(f.ColumnID), 64); err != nil {
		return err
	}
	if err := out.WriteBits(uint32(len(f.States)), 16); err != nil {
		return err
	}
	for _, s := range f.States {
		if err := p.WriteBits(s, out); err != nil {
			return err
		}
	}
	return nil
}

func ReadFrameState(in *bitio.Reader, p *Protocol) (*FrameState, error) {
	time, err := in.ReadLongBits(64)
	if err != nil {
		return nil, err
	}
	seq, err := in.ReadLongBits(64)
	if err != nil {
		return nil, err
	}
	columnID, err := in.ReadLongBits(64)
	if err != nil {
		return nil, err
	}
	count, err := in.ReadBits(16)
	if err != nil {
		return nil, err
	}

	f := NewFrameState(int64(time), int64(seq), int64(columnID))
	for i := 0; i < int(count); i++ {
		s, err := p.ReadBits(in)
		if err != nil {
			return nil, fmt.Errorf("wire: state %d: %w", i, err)
		}
		if s == nil {
			return nil, fmt.Errorf("wire: empty state %d inside frame", i)
		}
		if err := f.AddState(s, p); err != nil {
			return nil, err
		}
	}
	return f, nil
}
