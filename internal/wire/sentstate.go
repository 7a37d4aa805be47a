package wire

import (
	"bytes"
	"errors"
	"fmt"

	"zonecast/internal/bitio"
)

// ErrAckOverflow means the receivedAcks set fragmented into more runs
// than the 8-bit range count can carry; the connection cannot produce a
// well-formed message.
var ErrAckOverflow = errors.New("wire: more than 255 ack ranges")

// ErrSplitImpossible means a frame cannot be split to fit the configured
// buffer; the MTU is misconfigured relative to the ack header size.
var ErrSplitImpossible = errors.New("wire: cannot split frame to fit buffer")

// SentState is one outbound datagram's logical payload: the ranges of
// inbound message ids the sender knows the peer has received, plus the
// frame states.  On the wire the ack array is a length-prefixed range
// list; the frame list is terminated by a zero marker bit.
type SentState struct {
	MessageID int
	Created   int64
	Acked     []IntRange
	Frames    []*FrameState
}

func NewSentState(messageID int, acked []IntRange, frames []*FrameState) *SentState {
	return &SentState{MessageID: messageID, Acked: acked, Frames: frames}
}

// IsBefore reports wraparound-aware ordering against another message id.
func (s *SentState) IsBefore(messageID int) bool {
	return IsBefore(s.MessageID, messageID)
}

// EstimatedHeaderBits is the exact encoded ack header size.
func (s *SentState) EstimatedHeaderBits() int {
	return 8 + len(s.Acked)*32
}

// ToBytes serializes the ack header and frames.
func (s *SentState) ToBytes(p *Protocol) ([]byte, error) {
	if len(s.Acked) > 0xff {
		return nil, ErrAckOverflow
	}

	var buf bytes.Buffer
	out := bitio.NewWriter(&buf)

	if err := out.WriteBits(uint32(len(s.Acked)), 8); err != nil {
		return nil, err
	}
	for _, r := range s.Acked {
		if err := out.WriteBits(uint32(r.Min), 16); err != nil {
			return nil, err
		}
		if err := out.WriteBits(uint32(r.Max), 16); err != nil {
			return nil, err
		}
	}

	for _, f := range s.Frames {
		if err := out.WriteBits(1, 1); err != nil {
			return nil, err
		}
		if err := f.WriteBits(out, p); err != nil {
			return nil, err
		}
	}
	if err := out.WriteBits(0, 1); err != nil {
		return nil, err
	}

	if err := out.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SentStateFromBytes deserializes a payload received under messageID.
func SentStateFromBytes(messageID int, buf []byte, p *Protocol) (*SentState, error) {
	in := bitio.NewReader(bytes.NewReader(buf))

	count, err := in.ReadBits(8)
	if err != nil {
		return nil, fmt.Errorf("wire: ack count: %w", err)
	}
	acked := make([]IntRange, 0, count)
	for i := 0; i < int(count); i++ {
		min, err := in.ReadBits(16)
		if err != nil {
			return nil, fmt.Errorf("wire: ack range %d: %w", i, err)
		}
		max, err := in.ReadBits(16)
		if err != nil {
			return nil, fmt.Errorf("wire: ack range %d: %w", i, err)
		}
		acked = append(acked, IntRange{Min: int(min), Max: int(max)})
	}

	var frames []*FrameState
	for {
		marker, err := in.ReadBits(1)
		if err != nil {
			return nil, fmt.Errorf("wire: frame marker: %w", err)
		}
		if marker == 0 {
			break
		}
		f, err := ReadFrameState(in, p)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}

	return NewSentState(messageID, acked, frames), nil
}
