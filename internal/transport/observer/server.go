// Package observer streams engine statistics as JSON over a websocket,
// for dashboards and operational poking.  Loopback-only by default.
package observer

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"zonecast/internal/replica"
	"zonecast/internal/stats"
)

// Source exposes the engine state the observer reports.
type Source interface {
	EngineSnapshot() stats.Snapshot
	Connections() []ConnInfo
}

type ConnInfo struct {
	ID        string                     `json:"id"`
	Stats     replica.ConnectionSnapshot `json:"stats"`
	ActiveIds int                        `json:"active_ids"`
}

// TickMsg is one stats sample on the stream.
type TickMsg struct {
	At          int64          `json:"at"`
	Engine      stats.Snapshot `json:"engine"`
	Connections []ConnInfo     `json:"connections"`
}

type Server struct {
	log    *zap.Logger
	source Source
	period time.Duration

	upgrader websocket.Upgrader
}

func NewServer(log *zap.Logger, source Source, period time.Duration) *Server {
	if period <= 0 {
		period = time.Second
	}
	return &Server{
		log:    log.Named("observer"),
		source: source,
		period: period,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// SnapshotHandler serves one sample as plain JSON.
func (s *Server) SnapshotHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.sample())
	}
}

// WSHandler streams samples until the peer goes away.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(s.period)
		defer ticker.Stop()

		for range ticker.C {
			b, err := json.Marshal(s.sample())
			if err != nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

func (s *Server) sample() TickMsg {
	return TickMsg{
		At:          time.Now().UnixNano(),
		Engine:      s.source.EngineSnapshot(),
		Connections: s.source.Connections(),
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	host = strings.Trim(host, "[]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
