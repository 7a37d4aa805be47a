package replica

import (
	"testing"

	"go.uber.org/zap"

	"zonecast/internal/mathd"
	"zonecast/internal/stats"
	"zonecast/internal/wire"
	"zonecast/internal/zone"
)

// pipeline wires a server-side listener and a client-side receiver
// through capture conns, shuttling payloads by hand so each step is
// observable.
type pipeline struct {
	t *testing.T

	grid      *zone.Grid
	manager   *zone.Manager
	collector *zone.Collector
	listener  *NetworkStateListener

	serverConn *captureConn // server -> client datagrams
	clientConn *captureConn // client -> server acks

	receiver *StateReceiver
	space    *SharedObjectSpace

	clock     *fixedTime
	delivered int
	ackSent   int
}

func e2eProtocol() *wire.Protocol {
	// Cell size 32: zone-local positions for a radius-1 window span
	// one cell plus overhang.
	return wire.NewProtocol(8, 64, mathd.NewVec3Bits(-10, 42, 8), mathd.NewQuatBits(4))
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	log := zap.NewNop()
	st := stats.NewEngine()
	grid := zone.NewUniformGrid(32)
	clock := &fixedTime{now: 1}

	manager := zone.NewManager(log, st, zone.ManagerConfig{Grid: grid})
	manager.SetCollectHistory(true)
	collector := zone.NewCollector(log, st, manager, zone.DefaultCollectionPeriod)

	serverConn := &captureConn{}
	listener := NewNetworkStateListener(log, st, serverConn, e2eProtocol(), grid,
		mathd.Vec3i{X: 1, Y: 1, Z: 1}, clock)

	clientConn := &captureConn{}
	clientIndex := NewLocalZoneIndex(grid, mathd.Vec3i{X: 1, Y: 1, Z: 1})
	space := NewSharedObjectSpace(log, stats.NewEngine(), e2eProtocol())
	receiver := NewStateReceiver(log, stats.NewEngine(), clientConn, clientIndex, space)

	return &pipeline{
		t:          t,
		grid:       grid,
		manager:    manager,
		collector:  collector,
		listener:   listener,
		serverConn: serverConn,
		clientConn: clientConn,
		receiver:   receiver,
		space:      space,
		clock:      clock,
	}
}

// serverFrame runs one game frame through manager and collector.
func (p *pipeline) serverFrame(time int64, update func()) {
	p.t.Helper()
	p.clock.now = time
	p.manager.BeginUpdate(time)
	if update != nil {
		update()
	}
	p.manager.EndUpdate()
	p.collector.CollectOnce()
	if err := p.listener.Failed(); err != nil {
		p.t.Fatalf("listener failed: %v", err)
	}
}

// deliverToClient pushes any new server messages into the receiver.
func (p *pipeline) deliverToClient() []*wire.ObjectStateMessage {
	p.t.Helper()
	msgs := p.serverConn.objectStateMessages()
	fresh := msgs[p.delivered:]
	p.delivered = len(msgs)
	for _, m := range fresh {
		if err := p.receiver.HandleMessage(m); err != nil {
			p.t.Fatalf("HandleMessage: %v", err)
		}
	}
	return fresh
}

// deliverAcks pushes the client's new acks back to the server listener.
func (p *pipeline) deliverAcks() {
	p.t.Helper()
	acks := p.clientConn.clientStateMessages()
	fresh := acks[p.ackSent:]
	p.ackSent = len(acks)
	for _, a := range fresh {
		p.listener.PostResponse(a)
	}
}

func TestEndToEnd_SingleObjectSingleZone(t *testing.T) {
	p := newPipeline(t)

	p.listener.SetSelf(7, mathd.Vec3d{X: 5, Y: 0, Z: 5})
	p.collector.AddListener(p.listener)

	want := mathd.Vec3d{X: 5, Y: 0, Z: 5}
	p.serverFrame(1000, func() {
		p.manager.UpdateEntity(7, want, mathd.QuatIdentity(),
			mathd.AaBBox{Min: mathd.Vec3d{}, Max: mathd.Vec3d{X: 10, Y: 10, Z: 10}})
	})

	fresh := p.deliverToClient()
	if len(fresh) != 1 {
		t.Fatalf("messages delivered: got %d want 1", len(fresh))
	}
	state, err := fresh[0].UnpackState(e2eProtocol())
	if err != nil {
		t.Fatalf("UnpackState: %v", err)
	}
	if len(state.Frames) != 1 {
		t.Fatalf("frames: got %d want 1", len(state.Frames))
	}
	f := state.Frames[0]
	if f.Time != 1000 {
		t.Fatalf("frame time: got %d want 1000", f.Time)
	}
	if len(f.States) != 1 {
		t.Fatalf("states: got %d want 1", len(f.States))
	}
	s := f.States[0]
	if s.NetworkID == 0 {
		t.Fatal("empty network id")
	}
	if s.RealID == nil || *s.RealID != 7 {
		t.Fatalf("realId: got %v want 7", s.RealID)
	}
	if s.ZoneID < 1 || s.ZoneID > 27 {
		t.Fatalf("zoneId: got %d want 1..27", s.ZoneID)
	}
	if s.PositionBits == wire.BitsAbsent || s.RotationBits == wire.BitsAbsent {
		t.Fatal("position or rotation missing from the initial state")
	}

	// The client reconstructed the world position within quantization.
	so := p.space.FindObject(s.NetworkID)
	if so == nil {
		t.Fatal("client did not create the object")
	}
	if got := so.WorldPosition(); got.Dist(want) > 0.5 {
		t.Fatalf("client position: got %v want %v", got, want)
	}
}

func TestEndToEnd_DeltaSuppression(t *testing.T) {
	p := newPipeline(t)

	p.listener.SetSelf(7, mathd.Vec3d{X: 5, Y: 0, Z: 5})
	p.collector.AddListener(p.listener)

	pos := mathd.Vec3d{X: 5, Y: 0, Z: 5}
	update := func() {
		p.manager.UpdateEntity(7, pos, mathd.QuatIdentity(),
			mathd.AaBBox{Min: mathd.Vec3d{}, Max: mathd.Vec3d{X: 10, Y: 10, Z: 10}})
	}

	// Frame 1 reaches the client; the ack round trip establishes the
	// baseline on both sides.
	p.serverFrame(1000, update)
	p.deliverToClient()
	p.deliverAcks()

	// Frame 2, unchanged pose: the server processes the ack, advances
	// its baseline, and the emitted delta collapses to markers only.
	p.serverFrame(1050, update)
	fresh := p.deliverToClient()
	if len(fresh) == 0 {
		t.Fatal("no message for frame 2")
	}
	state, err := fresh[len(fresh)-1].UnpackState(e2eProtocol())
	if err != nil {
		t.Fatalf("UnpackState: %v", err)
	}
	var compact *wire.ObjectState
	for _, f := range state.Frames {
		for _, s := range f.States {
			compact = s
		}
	}
	if compact == nil {
		t.Fatal("frame 2 carried no state")
	}
	if compact.ZoneID != wire.ZoneAbsent || compact.RealID != nil ||
		compact.ParentID != nil || compact.PositionBits != wire.BitsAbsent ||
		compact.RotationBits != wire.BitsAbsent {
		t.Fatalf("delta not suppressed: %v", compact)
	}
	// Markers only: under 20 bits past the 16-bit network id.
	if got := e2eProtocol().EstimatedBitSize(compact) - 16; got >= 20 {
		t.Fatalf("suppressed delta size: %d bits past the id", got)
	}
}

func TestEndToEnd_RemovalConvergence(t *testing.T) {
	p := newPipeline(t)

	p.listener.SetSelf(7, mathd.Vec3d{X: 5, Y: 0, Z: 5})
	p.collector.AddListener(p.listener)

	box := mathd.AaBBox{Min: mathd.Vec3d{}, Max: mathd.Vec3d{X: 10, Y: 10, Z: 10}}
	pos := mathd.Vec3d{X: 5, Y: 0, Z: 5}

	// Two tracked objects: self plus a victim, so frames keep flowing
	// after the victim is removed.
	p.serverFrame(1000, func() {
		p.manager.UpdateEntity(7, pos, mathd.QuatIdentity(), box)
		p.manager.UpdateEntity(8, pos, mathd.QuatIdentity(), box)
	})
	p.deliverToClient()
	p.deliverAcks()

	victimNet := uint16(p.listener.idIndex.ID(8, false))
	if p.space.FindObject(victimNet) == nil {
		t.Fatal("victim never reached the client")
	}

	// The victim leaves: removed from the manager at t=2000.
	p.serverFrame(2000, func() {
		p.manager.UpdateEntity(7, pos, mathd.QuatIdentity(), box)
		p.manager.Remove(8)
	})
	p.deliverToClient()
	p.deliverAcks()

	// Server still tracks it: removal not yet double-acked.
	if p.listener.space.FindObject(victimNet) == nil {
		t.Fatal("server evicted before removal was double-acked")
	}

	// Next frames carry the double-ack both ways; the object converges
	// to fully removed on both sides and is evicted.
	for i := 0; i < 3; i++ {
		p.serverFrame(int64(2050+i*50), func() {
			p.manager.UpdateEntity(7, pos, mathd.QuatIdentity(), box)
		})
		p.deliverToClient()
		p.deliverAcks()
	}

	if p.listener.space.FindObject(victimNet) != nil {
		t.Fatal("server never evicted the removed object")
	}
	if p.space.FindObject(victimNet) != nil {
		t.Fatal("client never evicted the removed object")
	}
	if got := p.listener.idIndex.ID(8, false); got != NoNetworkID {
		t.Fatalf("network id not retired: %d", got)
	}
	if _, ok := p.listener.ActiveIds()[8]; ok {
		t.Fatal("victim still in the active id snapshot")
	}
}

func TestEndToEnd_ZoneRecenter(t *testing.T) {
	p := newPipeline(t)

	p.listener.SetSelf(7, mathd.Vec3d{X: 5, Y: 0, Z: 5})
	p.collector.AddListener(p.listener)

	box := func(pos mathd.Vec3d) mathd.AaBBox { return mathd.NewAaBBox(pos, 1) }

	pos := mathd.Vec3d{X: 5, Y: 5, Z: 5}
	p.serverFrame(1000, func() {
		p.manager.UpdateEntity(7, pos, mathd.QuatIdentity(), box(pos))
	})
	p.deliverToClient()

	// Self moves into cell (1,0,0); after the frame the listener
	// reports the window's symmetric difference.
	moved := mathd.Vec3d{X: 40, Y: 5, Z: 5}
	p.serverFrame(1050, func() {
		p.manager.UpdateEntity(7, moved, mathd.QuatIdentity(), box(moved))
	})

	if !p.listener.HasChangedZones() {
		t.Fatal("listener did not report a window change")
	}
	for _, k := range p.listener.ExitedZones() {
		if k.X != -1 {
			t.Fatalf("unexpected exited zone %v", k)
		}
	}
	for _, k := range p.listener.EnteredZones() {
		if k.X != 2 {
			t.Fatalf("unexpected entered zone %v", k)
		}
	}

	// The client follows the server's center via columnId.
	p.deliverToClient()
	center, ok := p.receiver.zoneIndex.Center()
	if !ok {
		t.Fatal("client window has no center")
	}
	if center.X != 0 {
		t.Fatalf("client center before the recentered frame: %v", center)
	}

	p.serverFrame(1100, func() {
		p.manager.UpdateEntity(7, moved, mathd.QuatIdentity(), box(moved))
	})
	p.deliverToClient()
	center, _ = p.receiver.zoneIndex.Center()
	if center.X != 1 {
		t.Fatalf("client center after recentered frame: %v", center)
	}
}
