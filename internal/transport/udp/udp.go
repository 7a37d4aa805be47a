// Package udp carries class-tagged frames over UDP datagrams, one frame
// per datagram.
package udp

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"zonecast/internal/transport"
)

const maxDatagram = 64 * 1024

// Peer is one remote endpoint reached through the server's shared
// socket.
type Peer struct {
	server *Server
	addr   *net.UDPAddr

	mu       sync.Mutex
	receiver transport.Receiver
	closed   bool
}

func (p *Peer) Addr() *net.UDPAddr {
	return p.addr
}

// SetReceiver installs the inbound frame handler for this peer.
func (p *Peer) SetReceiver(r transport.Receiver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receiver = r
}

// Send writes one frame.  UDP writes do not block; a send that fails on
// a full buffer drops the datagram, which the ACK protocol tolerates.
func (p *Peer) Send(class transport.Class, payload []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.New("udp: peer closed")
	}
	_, err := p.server.conn.WriteToUDP(transport.Frame(class, payload), p.addr)
	return err
}

func (p *Peer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.server.dropPeer(p.addr.String())
	return nil
}

func (p *Peer) dispatch(class transport.Class, payload []byte) {
	p.mu.Lock()
	r := p.receiver
	p.mu.Unlock()
	if r != nil {
		r(class, payload)
	}
}

// Server listens on one UDP socket and demultiplexes datagrams to peers
// by remote address.  New peers are announced through the accept
// callback, which must install a receiver before returning.
type Server struct {
	log    *zap.Logger
	conn   *net.UDPConn
	accept func(*Peer)

	mu    sync.Mutex
	peers map[string]*Peer

	done chan struct{}
}

func Listen(log *zap.Logger, addr string, accept func(*Peer)) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		log:    log.Named("udp"),
		conn:   conn,
		accept: accept,
		peers:  make(map[string]*Peer),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Server) readLoop() {
	defer close(s.done)
	buf := make([]byte, maxDatagram)
	for {
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		class, payload, err := transport.SplitFrame(buf[:n])
		if err != nil {
			s.log.Warn("bad frame", zap.Stringer("remote", remote), zap.Error(err))
			continue
		}

		key := remote.String()
		s.mu.Lock()
		peer, ok := s.peers[key]
		if !ok {
			peer = &Peer{server: s, addr: remote}
			s.peers[key] = peer
		}
		s.mu.Unlock()
		if !ok && s.accept != nil {
			s.accept(peer)
		}

		// The payload is copied out: the read buffer is reused.
		out := make([]byte, len(payload))
		copy(out, payload)
		peer.dispatch(class, out)
	}
}

func (s *Server) dropPeer(key string) {
	s.mu.Lock()
	delete(s.peers, key)
	s.mu.Unlock()
}

func (s *Server) Close() error {
	err := s.conn.Close()
	<-s.done
	return err
}

// Client is the dialing side: one socket connected to the server.
type Client struct {
	log  *zap.Logger
	conn *net.UDPConn

	mu       sync.Mutex
	receiver transport.Receiver

	done chan struct{}
}

func Dial(log *zap.Logger, addr string) (*Client, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, err
	}
	c := &Client{
		log:  log.Named("udp"),
		conn: conn,
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) SetReceiver(r transport.Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiver = r
}

func (c *Client) Send(class transport.Class, payload []byte) error {
	_, err := c.conn.Write(transport.Frame(class, payload))
	return err
}

func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	buf := make([]byte, maxDatagram)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		class, payload, err := transport.SplitFrame(buf[:n])
		if err != nil {
			c.log.Warn("bad frame", zap.Error(err))
			continue
		}
		c.mu.Lock()
		r := c.receiver
		c.mu.Unlock()
		if r != nil {
			out := make([]byte, len(payload))
			copy(out, payload)
			r(class, out)
		}
	}
}
