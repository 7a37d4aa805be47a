// Package transport defines the datagram interface the replication core
// sends through.  Payloads are opaque to the transport; a one-byte class
// tag demultiplexes the message kind on arrival.
package transport

import "fmt"

// Class tags the kind of payload inside a frame.
type Class byte

const (
	// ClassObjectState carries a serialized wire.ObjectStateMessage
	// (server to client).
	ClassObjectState Class = 1
	// ClassClientState carries a serialized wire.ClientStateMessage
	// (client to server).
	ClassClientState Class = 2
)

func (c Class) String() string {
	switch c {
	case ClassObjectState:
		return "objectState"
	case ClassClientState:
		return "clientState"
	default:
		return fmt.Sprintf("class(%d)", byte(c))
	}
}

// Conn sends class-tagged frames to one peer.  Send must not block on a
// full transport buffer; implementations drop instead — an un-ACKed
// message is superseded by a later send.
type Conn interface {
	Send(class Class, payload []byte) error
	Close() error
}

// Receiver handles inbound frames for one peer.  Implementations are
// invoked from the transport's ingress goroutines and must not block.
type Receiver func(class Class, payload []byte)

// Frame prepends the class tag to a payload.
func Frame(class Class, payload []byte) []byte {
	out := make([]byte, 0, 1+len(payload))
	out = append(out, byte(class))
	return append(out, payload...)
}

// SplitFrame separates the class tag from a received datagram.
func SplitFrame(b []byte) (Class, []byte, error) {
	if len(b) < 1 {
		return 0, nil, fmt.Errorf("transport: empty frame")
	}
	return Class(b[0]), b[1:], nil
}
