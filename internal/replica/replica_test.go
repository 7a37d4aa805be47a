package replica

import (
	"zonecast/internal/mathd"
	"zonecast/internal/stats"
	"zonecast/internal/transport"
	"zonecast/internal/wire"

	"go.uber.org/zap"
)

// captureConn records sent frames for inspection.
type captureConn struct {
	frames []capturedFrame
	closed bool
}

type capturedFrame struct {
	class   transport.Class
	payload []byte
}

func (c *captureConn) Send(class transport.Class, payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.frames = append(c.frames, capturedFrame{class: class, payload: buf})
	return nil
}

func (c *captureConn) Close() error {
	c.closed = true
	return nil
}

func (c *captureConn) objectStateMessages() []*wire.ObjectStateMessage {
	var out []*wire.ObjectStateMessage
	for _, f := range c.frames {
		if f.class != transport.ClassObjectState {
			continue
		}
		m, err := wire.UnmarshalObjectStateMessage(f.payload)
		if err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

func (c *captureConn) clientStateMessages() []*wire.ClientStateMessage {
	var out []*wire.ClientStateMessage
	for _, f := range c.frames {
		if f.class != transport.ClassClientState {
			continue
		}
		m, err := wire.UnmarshalClientStateMessage(f.payload)
		if err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

// fixedTime is a deterministic TimeSource.
type fixedTime struct {
	now int64
}

func (t *fixedTime) Time() int64 {
	return t.now
}

func testSpaceProtocol() *wire.Protocol {
	return wire.NewProtocol(8, 64, mathd.NewVec3Bits(-10, 42, 8), mathd.NewQuatBits(4))
}

func newTestWriter(conn transport.Conn) (*StateWriter, *stats.Engine) {
	st := stats.NewEngine()
	w := NewStateWriter(zap.NewNop(), st, conn, testSpaceProtocol(), &fixedTime{now: 1})
	return w, st
}
