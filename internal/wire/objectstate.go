// Package wire holds the bit-packed message formats exchanged between
// the replication host and its clients: object deltas, per-frame state,
// and the ack-carrying datagram payloads.
package wire

import "fmt"

// Field sentinels.  A zone id of -1 means "absent from this delta";
// the literal 0 means "removed".  Position and rotation use -1 as the
// absent sentinel, which is unreachable as long as the configured field
// widths stay under 64 bits.
const (
	ZoneAbsent  int32 = -1
	ZoneRemoved int32 = 0

	BitsAbsent int64 = -1
)

// ObjectState is a wire-level snapshot or delta of one object.  A delta
// carries only the fields that changed; absent fields mean "same as the
// baseline".  The zero NetworkID is reserved as the empty sentinel and
// cannot be serialized.
type ObjectState struct {
	NetworkID uint16
	ZoneID    int32
	RealID    *int64
	ParentID  *int64

	PositionBits int64
	RotationBits int64
}

func NewObjectState(networkID uint16, realID *int64) *ObjectState {
	return &ObjectState{
		NetworkID:    networkID,
		ZoneID:       ZoneAbsent,
		RealID:       realID,
		PositionBits: BitsAbsent,
		RotationBits: BitsAbsent,
	}
}

func ID(v int64) *int64 {
	return &v
}

func (s *ObjectState) Clone() *ObjectState {
	c := *s
	return &c
}

// Set overwrites every field from the other state.
func (s *ObjectState) Set(o *ObjectState) {
	*s = *o
}

func (s *ObjectState) IsMarkedRemoved() bool {
	return s.ZoneID == ZoneRemoved
}

func (s *ObjectState) MarkRemoved() {
	s.ZoneID = ZoneRemoved
}

func idEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// GetDelta builds a state containing only the fields that differ from
// the baseline.  With no baseline the full state is the delta.
func (s *ObjectState) GetDelta(baseline *ObjectState) *ObjectState {
	if baseline == nil {
		return s.Clone()
	}

	result := NewObjectState(s.NetworkID, nil)

	if s.ZoneID != baseline.ZoneID {
		result.ZoneID = s.ZoneID
	}
	if !idEqual(s.RealID, baseline.RealID) {
		result.RealID = s.RealID
	}
	if !idEqual(s.ParentID, baseline.ParentID) {
		result.ParentID = s.ParentID
	}
	if s.PositionBits != baseline.PositionBits {
		result.PositionBits = s.PositionBits
	}
	if s.RotationBits != baseline.RotationBits {
		result.RotationBits = s.RotationBits
	}
	return result
}

// ApplyDelta copies only the fields present in the delta.
func (s *ObjectState) ApplyDelta(delta *ObjectState) {
	if delta.ZoneID != ZoneAbsent {
		s.ZoneID = delta.ZoneID
	}
	if delta.RealID != nil {
		s.RealID = delta.RealID
	}
	if delta.ParentID != nil {
		s.ParentID = delta.ParentID
	}
	if delta.PositionBits != BitsAbsent {
		s.PositionBits = delta.PositionBits
	}
	if delta.RotationBits != BitsAbsent {
		s.RotationBits = delta.RotationBits
	}
}

// Equal compares every field; used by tests and by round-trip checks.
func (s *ObjectState) Equal(o *ObjectState) bool {
	return s.NetworkID == o.NetworkID &&
		s.ZoneID == o.ZoneID &&
		idEqual(s.RealID, o.RealID) &&
		idEqual(s.ParentID, o.ParentID) &&
		s.PositionBits == o.PositionBits &&
		s.RotationBits == o.RotationBits
}

func (s *ObjectState) String() string {
	out := fmt.Sprintf("ObjectState[id=%d", s.NetworkID)
	if s.RealID != nil {
		out += fmt.Sprintf(", realId=%d", *s.RealID)
	}
	if s.ParentID != nil {
		out += fmt.Sprintf(", parentId=%d", *s.ParentID)
	}
	switch {
	case s.ZoneID == ZoneRemoved:
		out += ", REMOVED"
	case s.ZoneID != ZoneAbsent:
		out += fmt.Sprintf(", zoneId=%d", s.ZoneID)
	}
	if s.PositionBits != BitsAbsent {
		out += fmt.Sprintf(", positionBits=%x", s.PositionBits)
	}
	if s.RotationBits != BitsAbsent {
		out += fmt.Sprintf(", rotationBits=%x", s.RotationBits)
	}
	return out + "]"
}
