package wire

import (
	"errors"
	"fmt"

	"zonecast/internal/bitio"
	"zonecast/internal/mathd"
)

// ErrEmptyNetworkID is returned when a state with the reserved zero
// network id reaches the encoder.
var ErrEmptyNetworkID = errors.New("wire: object state networkId is 0")

// Protocol fixes the bit widths of the conditional ObjectState fields.
// Both endpoints must agree on one Protocol value.
type Protocol struct {
	ZoneIDBits int
	IDBits     int
	Position   mathd.Vec3Bits
	Rotation   mathd.QuatBits
}

func NewProtocol(zoneIDBits, idBits int, pos mathd.Vec3Bits, rot mathd.QuatBits) *Protocol {
	return &Protocol{
		ZoneIDBits: zoneIDBits,
		IDBits:     idBits,
		Position:   pos,
		Rotation:   rot,
	}
}

// DefaultProtocol mirrors the engine defaults: 8-bit zone ids, 64-bit
// entity ids, 16 bits per position axis over a [-10, 42] zone-local
// range, and 12-bit quaternion components.
func DefaultProtocol() *Protocol {
	return NewProtocol(8, 64, mathd.NewVec3Bits(-10, 42, 16), mathd.NewQuatBits(12))
}

func (p *Protocol) SetPosition(s *ObjectState, pos mathd.Vec3d) {
	s.PositionBits = p.Position.ToBits(pos)
}

func (p *Protocol) GetPosition(s *ObjectState) mathd.Vec3d {
	return p.Position.FromBits(s.PositionBits)
}

func (p *Protocol) SetRotation(s *ObjectState, rot mathd.Quatd) {
	s.RotationBits = p.Rotation.ToBits(rot)
}

func (p *Protocol) GetRotation(s *ObjectState) mathd.Quatd {
	return p.Rotation.FromBits(s.RotationBits)
}

// EstimatedBitSize is the exact emitted size of the state; the packet
// splitter depends on it matching WriteBits.
func (p *Protocol) EstimatedBitSize(s *ObjectState) int {
	size := 16 + 5 // networkId + five presence markers

	if s.ZoneID != ZoneAbsent {
		size += p.ZoneIDBits
	}
	if s.RealID != nil {
		size += p.IDBits
	}
	if s.ParentID != nil {
		size += p.IDBits
	}
	if s.PositionBits != BitsAbsent {
		size += p.Position.BitSize()
	}
	if s.RotationBits != BitsAbsent {
		size += p.Rotation.BitSize()
	}
	return size
}

// WriteBits emits the state: a 16-bit network id followed by five
// marker-prefixed conditional fields.  A nil state writes the zero
// "no state" id.
func (p *Protocol) WriteBits(s *ObjectState, out *bitio.Writer) error {
	if s == nil {
		return out.WriteBits(0, 16)
	}
	if s.NetworkID == 0 {
		return ErrEmptyNetworkID
	}
	if err := out.WriteBits(uint32(s.NetworkID), 16); err != nil {
		return err
	}

	if err := p.writeOptional(out, s.ZoneID != ZoneAbsent, uint64(uint32(s.ZoneID)), p.ZoneIDBits); err != nil {
		return err
	}
	var realID, parentID uint64
	if s.RealID != nil {
		realID = uint64(*s.RealID)
	}
	if s.ParentID != nil {
		parentID = uint64(*s.ParentID)
	}
	if err := p.writeOptional(out, s.RealID != nil, realID, p.IDBits); err != nil {
		return err
	}
	if err := p.writeOptional(out, s.ParentID != nil, parentID, p.IDBits); err != nil {
		return err
	}
	if err := p.writeOptional(out, s.PositionBits != BitsAbsent, uint64(s.PositionBits), p.Position.BitSize()); err != nil {
		return err
	}
	return p.writeOptional(out, s.RotationBits != BitsAbsent, uint64(s.RotationBits), p.Rotation.BitSize())
}

func (p *Protocol) writeOptional(out *bitio.Writer, present bool, value uint64, bits int) error {
	if !present {
		return out.WriteBits(0, 1)
	}
	if err := out.WriteBits(1, 1); err != nil {
		return err
	}
	return out.WriteLongBits(value, bits)
}

// ReadBits decodes one state.  A zero network id decodes as (nil, nil):
// the "no state" sentinel.
func (p *Protocol) ReadBits(in *bitio.Reader) (*ObjectState, error) {
	networkID, err := in.ReadBits(16)
	if err != nil {
		return nil, err
	}
	if networkID == 0 {
		return nil, nil
	}

	s := NewObjectState(uint16(networkID), nil)

	zone, present, err := p.readOptional(in, p.ZoneIDBits)
	if err != nil {
		return nil, fmt.Errorf("wire: zoneId: %w", err)
	}
	if present {
		s.ZoneID = int32(zone)
	}

	realID, present, err := p.readOptional(in, p.IDBits)
	if err != nil {
		return nil, fmt.Errorf("wire: realId: %w", err)
	}
	if present {
		s.RealID = ID(int64(realID))
	}

	parentID, present, err := p.readOptional(in, p.IDBits)
	if err != nil {
		return nil, fmt.Errorf("wire: parentId: %w", err)
	}
	if present {
		s.ParentID = ID(int64(parentID))
	}

	pos, present, err := p.readOptional(in, p.Position.BitSize())
	if err != nil {
		return nil, fmt.Errorf("wire: position: %w", err)
	}
	if present {
		s.PositionBits = int64(pos)
	}

	rot, present, err := p.readOptional(in, p.Rotation.BitSize())
	if err != nil {
		return nil, fmt.Errorf("wire: rotation: %w", err)
	}
	if present {
		s.RotationBits = int64(rot)
	}

	return s, nil
}

func (p *Protocol) readOptional(in *bitio.Reader, bits int) (uint64, bool, error) {
	marker, err := in.ReadBits(1)
	if err != nil {
		return 0, false, err
	}
	if marker == 0 {
		return 0, false, nil
	}
	v, err := in.ReadLongBits(bits)
	return v, true, err
}
