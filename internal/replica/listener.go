package replica

import (
	"go.uber.org/zap"

	"zonecast/internal/mathd"
	"zonecast/internal/stats"
	"zonecast/internal/transport"
	"zonecast/internal/wire"
	"zonecast/internal/zone"
)

// minNetworkID is the first allocatable network id; low values stay
// reserved for application use.
const minNetworkID = 10

// ackQueueDepth bounds the inbound ACK queue between the transport
// ingress goroutine and the collector.  ACKs past the bound drop; the
// client resends them implicitly by acking later messages.
const ackQueueDepth = 256

// pingWindow caps the running-average window for ping samples.
const pingWindow = 100

// NetworkStateListener is the server-side, per-client replication
// pipeline: it filters collected zone state through the client's zone
// window, maintains the client's shared object table, and drives the
// state writer.  Zone state arrives on the collector goroutine; ACKs
// arrive on transport ingress goroutines through a queue.
type NetworkStateListener struct {
	log   *zap.Logger
	stats *stats.Engine

	zoneIndex *LocalZoneIndex
	idIndex   *IdIndex
	space     *SharedObjectSpace
	writer    *StateWriter

	activeIds *BufferedSet[int64]

	// self is the entity whose position centers the zone window.
	self         *int64
	selfPosition mathd.Vec3d

	zonesChanged bool
	entered      []zone.Key
	exited       []zone.Key

	acked chan *wire.ClientStateMessage

	timeSource TimeSource
	pingTime   int64
	pingWindow int64

	connStats *ConnectionStats

	failed error
}

func NewNetworkStateListener(log *zap.Logger, st *stats.Engine, conn transport.Conn, protocol *wire.Protocol, grid *zone.Grid, zoneExtents mathd.Vec3i, timeSource TimeSource) *NetworkStateListener {
	l := &NetworkStateListener{
		log:        log.Named("listener"),
		stats:      st,
		zoneIndex:  NewLocalZoneIndex(grid, zoneExtents),
		idIndex:    NewIdIndex(log, minNetworkID, wire.MaxMessageID),
		activeIds:  NewBufferedSet[int64](),
		acked:      make(chan *wire.ClientStateMessage, ackQueueDepth),
		timeSource: timeSource,
		connStats:  NewConnectionStats(),
	}
	l.space = NewSharedObjectSpace(log, st, protocol)
	l.writer = NewStateWriter(log, st, conn, protocol, timeSource)
	return l
}

// SetSelf names the client's own entity and seeds the window center so
// the initial window is watchable from the first published frame.  Call
// before adding the listener to the collector.
func (l *NetworkStateListener) SetSelf(self int64, startingPosition mathd.Vec3d) {
	l.self = &self
	l.selfPosition = startingPosition
	if l.zoneIndex.SetCenterWorld(startingPosition, &l.entered, &l.exited) {
		l.zonesChanged = true
	}
}

func (l *NetworkStateListener) Self() (int64, bool) {
	if l.self == nil {
		return 0, false
	}
	return *l.self, true
}

// ActiveIds is the committed snapshot of entity ids currently replicated
// to this client.  Safe from any goroutine.
func (l *NetworkStateListener) ActiveIds() map[int64]struct{} {
	return l.activeIds.Snapshot()
}

func (l *NetworkStateListener) ConnectionStats() *ConnectionStats {
	return l.connStats
}

// SetMaxMessageSize tunes the writer's target datagram size for
// connections that seem to drop large packets.
func (l *NetworkStateListener) SetMaxMessageSize(max int) {
	l.writer.SetMaxMessageSize(max)
}

func (l *NetworkStateListener) MaxMessageSize() int {
	return l.writer.MaxMessageSize()
}

// Failed reports the fatal protocol error that stopped this listener,
// if any.
func (l *NetworkStateListener) Failed() error {
	return l.failed
}

// PostResponse enqueues a client ACK.  Called from transport ingress
// goroutines; never blocks.
func (l *NetworkStateListener) PostResponse(m *wire.ClientStateMessage) {
	m.ReceivedTime = l.timeSource.Time()

	ping := m.ReceivedTime - m.Time
	l.connStats.AddPingTime(ping)

	newPing := (ping + l.pingTime*l.pingWindow) / (l.pingWindow + 1)
	if l.pingWindow < pingWindow {
		l.pingWindow++
	}
	l.pingTime = newPing

	select {
	case l.acked <- m:
	default:
		l.log.Warn("ack queue full; dropping ack", zap.Int("ackId", m.AckID))
	}
}

func (l *NetworkStateListener) HasChangedZones() bool {
	return l.zonesChanged
}

func (l *NetworkStateListener) EnteredZones() []zone.Key {
	return l.entered
}

func (l *NetworkStateListener) ExitedZones() []zone.Key {
	return l.exited
}

func (l *NetworkStateListener) BeginFrameBlock() {}

func (l *NetworkStateListener) EndFrameBlock() {
	if l.failed != nil {
		return
	}
	if err := l.writer.Flush(); err != nil {
		l.fail(err)
	}
}

func (l *NetworkStateListener) BeginFrame(time int64) {
	// The collector has consumed last frame's zone changes by now.
	if l.zonesChanged {
		l.entered = l.entered[:0]
		l.exited = l.exited[:0]
		l.zonesChanged = false
	}
}

// StateChanged folds one zone block into the client's shared space.
func (l *NetworkStateListener) StateChanged(b *zone.StateBlock) {
	time := b.Time()
	zoneKey := b.Zone()

	zoneID := l.zoneIndex.ZoneID(zoneKey)
	if zoneID <= 0 {
		l.log.Warn("no zone id for changed zone", zap.Stringer("zone", zoneKey))
	}

	for _, e := range b.Updates() {
		networkID := l.idIndex.ID(e.Entity, true)

		var parentID *int64
		if e.Parent != zone.NoParent {
			p := e.Parent
			parentID = &p
		}

		entity := e.Entity
		so := l.space.Object(uint16(networkID), &entity)
		if so.UpdateState(time, zoneKey, zoneID, parentID, e.Pos, e.Rot) {
			if l.self != nil && *l.self == e.Entity {
				l.selfPosition = e.Pos
			}
		}
	}

	for _, entity := range b.Removals() {
		networkID := l.idIndex.ID(entity, false)
		if networkID == NoNetworkID {
			continue
		}
		so := l.space.FindObject(uint16(networkID))
		if so == nil {
			continue
		}
		so.MarkRemoved(time)
	}
}

// EndFrame drains the ACK queue into baseline updates, streams every
// object's delta through the writer, evicts fully removed objects, and
// recenters the zone window when the client's own entity moved.
func (l *NetworkStateListener) EndFrame(time int64) {
	if l.failed != nil {
		return
	}

	for {
		var ackedMsg *wire.ClientStateMessage
		select {
		case ackedMsg = <-l.acked:
		default:
		}
		if ackedMsg == nil {
			break
		}

		l.connStats.IncrementAcks()

		sentState := l.writer.AckSentState(ackedMsg.AckID)
		if sentState == nil {
			l.connStats.IncrementAckMisses()
			continue
		}

		// The client has confirmed this message.  Its state becomes
		// our baseline, and its ack ranges ride in the next header so
		// the client advances its own baseline when it sees them.
		l.space.UpdateBaseline(sentState.Frames)
	}

	center, _ := l.zoneIndex.Center()
	if err := l.writer.StartFrame(time, center); err != nil {
		l.fail(err)
		return
	}

	for _, so := range l.space.Objects() {
		// An object with no update this frame fell out of the watched
		// zones: mark it removed.  An object that merely stopped moving
		// still heartbeats through the manager's no-change replay, so
		// only a frameless space miscounts here; that trade-off is
		// accepted.
		if !so.IsMarkedRemoved() && so.Version() < time {
			l.log.Debug("object left active zones",
				zap.Uint16("networkId", so.NetworkID()))
			so.MarkRemoved(time)
		}

		if err := l.writer.AddState(so.Delta()); err != nil {
			l.fail(err)
			return
		}

		if so.IsFullyMarkedRemoved() {
			l.space.RemoveObject(so)
			l.idIndex.RetireID(int(so.NetworkID()))
			if id := so.EntityID(); id != nil {
				l.activeIds.Remove(*id)
			}
		} else if id := so.EntityID(); id != nil {
			l.activeIds.Add(*id)
		}
	}

	if l.self != nil {
		// Zone ids must stay consistent while frame state is being
		// interpreted, so recentering waits until the frame is done.
		if l.zoneIndex.SetCenterWorld(l.selfPosition, &l.entered, &l.exited) {
			l.zonesChanged = true
		}
	}

	l.activeIds.Commit()
}

// fail records a fatal protocol error and stops emitting state for this
// connection.  Only misconfiguration reaches here.
func (l *NetworkStateListener) fail(err error) {
	l.failed = err
	l.log.Error("fatal protocol error; halting replication for connection", zap.Error(err))
}
