// Package host wires the replication engine together: the zone manager
// and collector on the server side, per-connection listeners, and the
// client-side receiver.  Applications talk to Host and Client; the
// internals stay in their own packages.
package host

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"zonecast/internal/mathd"
	"zonecast/internal/persistence/indexdb"
	"zonecast/internal/persistence/journal"
	"zonecast/internal/replica"
	"zonecast/internal/stats"
	"zonecast/internal/transport"
	"zonecast/internal/tuning"
	"zonecast/internal/wire"
	"zonecast/internal/zone"
)

// protocolFrom builds the wire protocol from the tuning block.
func protocolFrom(t tuning.Tuning) *wire.Protocol {
	p := t.Protocol
	return wire.NewProtocol(
		p.ZoneIDBits,
		p.IDBits,
		mathd.NewVec3Bits(p.PositionMin, p.PositionMax, p.PositionAxisBits),
		mathd.NewQuatBits(p.RotationComponentBits),
	)
}

// HostedConnection is one client attached to the host.
type HostedConnection struct {
	id       string
	conn     transport.Conn
	listener *replica.NetworkStateListener
}

func (h *HostedConnection) ID() string {
	return h.id
}

func (h *HostedConnection) Listener() *replica.NetworkStateListener {
	return h.listener
}

// HandleInbound routes one received frame; install it as the
// connection's transport receiver.
func (h *HostedConnection) HandleInbound(class transport.Class, payload []byte) {
	if class != transport.ClassClientState {
		return
	}
	m, err := wire.UnmarshalClientStateMessage(payload)
	if err != nil {
		return
	}
	h.listener.PostResponse(m)
}

// Host is the server-side engine: game code reports entity poses into
// it, and every attached connection receives its windowed slice of the
// world.
type Host struct {
	log   *zap.Logger
	tune  tuning.Tuning
	stats *stats.Engine

	protocol  *wire.Protocol
	grid      *zone.Grid
	zones     *zone.Manager
	collector *zone.Collector

	timeSource replica.TimeSource

	journal *journal.Writer
	index   *indexdb.Index

	mu    sync.Mutex
	conns map[string]*HostedConnection
}

// Option tweaks host construction.
type Option func(*Host)

// WithJournal journals outbound messages as compressed JSONL.
func WithJournal(w *journal.Writer) Option {
	return func(h *Host) { h.journal = w }
}

// WithIndex records message audit rows and stats snapshots to SQLite.
func WithIndex(idx *indexdb.Index) Option {
	return func(h *Host) { h.index = idx }
}

// WithTimeSource overrides the clock, mainly for tests.
func WithTimeSource(ts replica.TimeSource) Option {
	return func(h *Host) { h.timeSource = ts }
}

func NewHost(log *zap.Logger, tune tuning.Tuning, opts ...Option) (*Host, error) {
	if err := tune.Validate(); err != nil {
		return nil, err
	}

	grid := zone.NewGrid(mathd.Vec3i{X: tune.ZoneSize[0], Y: tune.ZoneSize[1], Z: tune.ZoneSize[2]})
	st := stats.NewEngine()

	h := &Host{
		log:        log.Named("host"),
		tune:       tune,
		stats:      st,
		protocol:   protocolFrom(tune),
		grid:       grid,
		timeSource: replica.SystemTime,
		conns:      make(map[string]*HostedConnection),
	}
	for _, o := range opts {
		o(h)
	}

	h.zones = zone.NewManager(log, st, zone.ManagerConfig{
		Grid:           grid,
		HistoryBacklog: tune.HistoryBacklog,
		DynamicRanges:  tune.DynamicRanges,
	})
	h.collector = zone.NewCollector(log, st, h.zones,
		time.Duration(tune.CollectionPeriodMs)*time.Millisecond)
	h.collector.SetIdleSleepTime(time.Duration(tune.IdleSleepMs) * time.Millisecond)
	return h, nil
}

func (h *Host) Grid() *zone.Grid {
	return h.grid
}

func (h *Host) Zones() *zone.Manager {
	return h.zones
}

func (h *Host) Protocol() *wire.Protocol {
	return h.protocol
}

func (h *Host) Stats() *stats.Engine {
	return h.stats
}

func (h *Host) Start() {
	h.collector.Start()
}

func (h *Host) Stop() {
	h.collector.Shutdown()
	if h.journal != nil {
		_ = h.journal.Close()
	}
}

// AddConnection attaches a client.  The returned connection's
// HandleInbound must be installed as the transport receiver.
func (h *Host) AddConnection(id string, conn transport.Conn) (*HostedConnection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.conns[id]; dup {
		return nil, fmt.Errorf("host: duplicate connection id %q", id)
	}

	wrapped := conn
	if h.journal != nil || h.index != nil {
		wrapped = &auditConn{host: h, id: id, next: conn}
	}

	radius := mathd.Vec3i{X: h.tune.ZoneRadius[0], Y: h.tune.ZoneRadius[1], Z: h.tune.ZoneRadius[2]}
	listener := replica.NewNetworkStateListener(h.log, h.stats, wrapped, h.protocol,
		h.grid, radius, h.timeSource)
	listener.SetMaxMessageSize(h.tune.MaxMessageSize)

	hc := &HostedConnection{id: id, conn: conn, listener: listener}
	h.conns[id] = hc
	return hc, nil
}

// SetConnectionObject names the connection's own entity so its window
// follows the entity's position.  Call before StartHosting.
func (h *Host) SetConnectionObject(hc *HostedConnection, selfID int64, initialPosition mathd.Vec3d) {
	hc.listener.SetSelf(selfID, initialPosition)
}

// StartHosting begins streaming state to the connection.
func (h *Host) StartHosting(hc *HostedConnection) {
	h.collector.AddListener(hc.listener)
}

// RemoveConnection detaches a client and closes its transport.
func (h *Host) RemoveConnection(hc *HostedConnection) {
	h.collector.RemoveListener(hc.listener)
	h.mu.Lock()
	delete(h.conns, hc.id)
	h.mu.Unlock()
	_ = hc.conn.Close()
}

// Game update surface; single-threaded with respect to each other.

func (h *Host) BeginUpdate(time int64)   { h.zones.BeginUpdate(time) }
func (h *Host) EndUpdate()               { h.zones.EndUpdate() }
func (h *Host) RemoveEntity(id int64)    { h.zones.Remove(id) }
func (h *Host) AddEntity(id int64)       { h.zones.Add(id) }
func (h *Host) WarpEntity(id int64)      { h.zones.Warp(id) }
func (h *Host) SetParent(id, p int64)    { h.zones.SetParent(id, p) }

func (h *Host) UpdateEntity(id int64, pos mathd.Vec3d, rot mathd.Quatd, bounds mathd.AaBBox) {
	h.zones.UpdateEntity(id, pos, rot, bounds)
}

// EngineSnapshot implements observer.Source.
func (h *Host) EngineSnapshot() stats.Snapshot {
	return h.stats.Snapshot()
}

// ConnectionIDs lists attached connections.
func (h *Host) ConnectionIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.conns))
	for id := range h.conns {
		out = append(out, id)
	}
	return out
}

// Connection looks up an attached connection.
func (h *Host) Connection(id string) *HostedConnection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id]
}

// FlushStats pushes current stats into the index DB, when configured.
func (h *Host) FlushStats() {
	if h.index == nil {
		return
	}
	h.index.RecordEngineStats(h.stats.Snapshot())
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, hc := range h.conns {
		s := hc.listener.ConnectionStats().Snapshot()
		h.index.RecordConnStats(indexdb.ConnStatsRow{
			Conn:           id,
			PingNanos:      s.PingNanos,
			Acks:           s.Acks,
			AckMisses:      s.AckMisses,
			AckMissPercent: s.AckMissPercent,
		})
	}
}
