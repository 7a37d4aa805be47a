// Package wsbridge carries class-tagged frames over websocket binary
// messages, for clients that cannot use raw UDP.  Delivery is ordered
// and reliable underneath, but the replication protocol does not rely on
// either property.
package wsbridge

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"zonecast/internal/transport"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second

	// outDepth bounds the per-conn send queue; frames past it drop, as
	// a datagram transport would.
	outDepth = 64
)

// Conn adapts one websocket connection to transport.Conn.
type Conn struct {
	log *zap.Logger
	ws  *websocket.Conn
	out chan []byte

	mu       sync.Mutex
	receiver transport.Receiver
	closed   bool
}

func (c *Conn) SetReceiver(r transport.Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiver = r
}

func (c *Conn) Send(class transport.Class, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("wsbridge: closed")
	}
	select {
	case c.out <- transport.Frame(class, payload):
		return nil
	default:
		// Full queue: drop like a datagram; the un-ACKed state is
		// superseded by a later send.
		return nil
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.out)
	return c.ws.Close()
}

func (c *Conn) dispatch(class transport.Class, payload []byte) {
	c.mu.Lock()
	r := c.receiver
	c.mu.Unlock()
	if r != nil {
		r(class, payload)
	}
}

// Server upgrades HTTP requests and hands each connection to the accept
// callback, which must install a receiver before returning.
type Server struct {
	log    *zap.Logger
	accept func(*Conn)

	upgrader websocket.Upgrader
}

func NewServer(log *zap.Logger, accept func(*Conn)) *Server {
	return &Server{
		log:    log.Named("wsbridge"),
		accept: accept,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}

		conn := &Conn{
			log: s.log,
			ws:  ws,
			out: make(chan []byte, outDepth),
		}
		s.accept(conn)

		// Writer goroutine.
		go func() {
			for b := range conn.out {
				_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
					return
				}
			}
		}()

		// Reader loop.
		for {
			_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := ws.ReadMessage()
			if err != nil {
				break
			}
			class, payload, err := transport.SplitFrame(msg)
			if err != nil {
				continue
			}
			conn.dispatch(class, payload)
		}

		_ = conn.Close()
	}
}
