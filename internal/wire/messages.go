package wire

import (
	"encoding/binary"
	"fmt"
)

// ObjectStateMessage is the server-to-client datagram: a 16-bit message
// id, a 64-bit send time in time-source nanos, and the serialized
// SentState payload, length-prefixed with a uvarint.
type ObjectStateMessage struct {
	ID     int
	Time   int64
	Buffer []byte
}

// ObjectStateHeaderSize is the fixed part of the encoded message: id,
// time, and at least one length byte.
const ObjectStateHeaderSize = 2 + 8 + 1

func (m *ObjectStateMessage) Marshal() []byte {
	out := make([]byte, 0, ObjectStateHeaderSize+len(m.Buffer)+1)
	out = binary.BigEndian.AppendUint16(out, uint16(m.ID))
	out = binary.BigEndian.AppendUint64(out, uint64(m.Time))
	out = binary.AppendUvarint(out, uint64(len(m.Buffer)))
	return append(out, m.Buffer...)
}

func UnmarshalObjectStateMessage(b []byte) (*ObjectStateMessage, error) {
	if len(b) < ObjectStateHeaderSize {
		return nil, fmt.Errorf("wire: short object state message: %d bytes", len(b))
	}
	id := binary.BigEndian.Uint16(b)
	time := binary.BigEndian.Uint64(b[2:])
	size, n := binary.Uvarint(b[10:])
	if n <= 0 {
		return nil, fmt.Errorf("wire: bad payload length")
	}
	payload := b[10+n:]
	if uint64(len(payload)) != size {
		return nil, fmt.Errorf("wire: payload length mismatch: header %d actual %d", size, len(payload))
	}
	return &ObjectStateMessage{ID: int(id), Time: int64(time), Buffer: payload}, nil
}

// UnpackState deserializes the carried SentState.
func (m *ObjectStateMessage) UnpackState(p *Protocol) (*SentState, error) {
	return SentStateFromBytes(m.ID, m.Buffer, p)
}

func (m *ObjectStateMessage) String() string {
	return fmt.Sprintf("ObjectStateMessage[id=%d, time=%d, size=%d]", m.ID, m.Time, len(m.Buffer))
}

// ClientStateMessage is the client-to-server acknowledgement: the id of
// the server message being acked, that message's echoed time for ping
// measurement, and application control bits.
type ClientStateMessage struct {
	AckID       int
	Time        int64
	ControlBits uint64

	// ReceivedTime is stamped by the receiver; never on the wire.
	ReceivedTime int64
}

// ClientStateSize is the encoded size: ackId, time, controlBits.
const ClientStateSize = 2 + 8 + 8

func (m *ClientStateMessage) Marshal() []byte {
	out := make([]byte, 0, ClientStateSize)
	out = binary.BigEndian.AppendUint16(out, uint16(m.AckID))
	out = binary.BigEndian.AppendUint64(out, uint64(m.Time))
	return binary.BigEndian.AppendUint64(out, m.ControlBits)
}

func UnmarshalClientStateMessage(b []byte) (*ClientStateMessage, error) {
	if len(b) != ClientStateSize {
		return nil, fmt.Errorf("wire: bad client state message size: %d", len(b))
	}
	return &ClientStateMessage{
		AckID:       int(binary.BigEndian.Uint16(b)),
		Time:        int64(binary.BigEndian.Uint64(b[2:])),
		ControlBits: binary.BigEndian.Uint64(b[10:]),
	}, nil
}
