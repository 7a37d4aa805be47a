package zone

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"zonecast/internal/mathd"
	"zonecast/internal/stats"
)

type recordingListener struct {
	changed bool
	entered []Key
	exited  []Key

	events []string
	blocks []*StateBlock
}

func (r *recordingListener) HasChangedZones() bool { return r.changed }
func (r *recordingListener) EnteredZones() []Key   { return r.entered }
func (r *recordingListener) ExitedZones() []Key    { return r.exited }
func (r *recordingListener) BeginFrameBlock()      { r.events = append(r.events, "beginBlock") }
func (r *recordingListener) EndFrameBlock()        { r.events = append(r.events, "endBlock") }
func (r *recordingListener) BeginFrame(t int64)    { r.events = append(r.events, "beginFrame") }
func (r *recordingListener) EndFrame(t int64)      { r.events = append(r.events, "endFrame") }
func (r *recordingListener) StateChanged(b *StateBlock) {
	r.events = append(r.events, "state")
	r.blocks = append(r.blocks, b)
}

func TestCollector_PublishesToWatchers(t *testing.T) {
	g := NewUniformGrid(32)
	st := stats.NewEngine()
	m := NewManager(zap.NewNop(), st, ManagerConfig{Grid: g})
	c := NewCollector(zap.NewNop(), st, m, DefaultCollectionPeriod)

	m.SetCollectHistory(true)

	l := &recordingListener{
		changed: true,
		entered: []Key{g.Key(0, 0, 0)},
	}
	c.AddListener(l)

	pos := mathd.Vec3d{X: 5, Y: 5, Z: 5}
	m.BeginUpdate(1000)
	m.UpdateEntity(7, pos, mathd.QuatIdentity(), mathd.NewAaBBox(pos, 1))
	m.EndUpdate()

	c.collect()

	if len(l.blocks) != 1 {
		t.Fatalf("blocks delivered: got %d want 1", len(l.blocks))
	}
	if got := l.blocks[0].Zone(); got != g.Key(0, 0, 0) {
		t.Fatalf("delivered block for zone %v", got)
	}

	want := []string{"beginBlock", "beginFrame", "state", "endFrame", "endBlock"}
	if len(l.events) != len(want) {
		t.Fatalf("events: got %v want %v", l.events, want)
	}
	for i := range want {
		if l.events[i] != want[i] {
			t.Fatalf("event %d: got %q want %q (%v)", i, l.events[i], want[i], l.events)
		}
	}
}

func TestCollector_UnwatchedZoneNotDelivered(t *testing.T) {
	g := NewUniformGrid(32)
	st := stats.NewEngine()
	m := NewManager(zap.NewNop(), st, ManagerConfig{Grid: g})
	c := NewCollector(zap.NewNop(), st, m, DefaultCollectionPeriod)

	m.SetCollectHistory(true)

	// Watching a zone the object never touches.
	l := &recordingListener{
		changed: true,
		entered: []Key{g.Key(5, 5, 5)},
	}
	c.AddListener(l)

	pos := mathd.Vec3d{X: 5, Y: 5, Z: 5}
	m.BeginUpdate(1000)
	m.UpdateEntity(7, pos, mathd.QuatIdentity(), mathd.NewAaBBox(pos, 1))
	m.EndUpdate()

	c.collect()

	if len(l.blocks) != 0 {
		t.Fatalf("unwatched listener got %d blocks", len(l.blocks))
	}
}

func TestCollector_RemovedListenerUnwatched(t *testing.T) {
	g := NewUniformGrid(32)
	st := stats.NewEngine()
	m := NewManager(zap.NewNop(), st, ManagerConfig{Grid: g})
	c := NewCollector(zap.NewNop(), st, m, DefaultCollectionPeriod)

	m.SetCollectHistory(true)

	l := &recordingListener{
		changed: true,
		entered: []Key{g.Key(0, 0, 0)},
	}
	c.AddListener(l)

	pos := mathd.Vec3d{X: 5, Y: 5, Z: 5}
	m.BeginUpdate(1000)
	m.UpdateEntity(7, pos, mathd.QuatIdentity(), mathd.NewAaBBox(pos, 1))
	m.EndUpdate()
	c.collect()

	c.RemoveListener(l)
	l.blocks = nil

	m.BeginUpdate(1050)
	m.UpdateEntity(7, pos, mathd.QuatIdentity(), mathd.NewAaBBox(pos, 1))
	m.EndUpdate()
	c.collect()

	if len(l.blocks) != 0 {
		t.Fatalf("removed listener got %d blocks", len(l.blocks))
	}
}

func TestCollector_StartShutdown(t *testing.T) {
	g := NewUniformGrid(32)
	st := stats.NewEngine()
	m := NewManager(zap.NewNop(), st, ManagerConfig{Grid: g})
	c := NewCollector(zap.NewNop(), st, m, 5*time.Millisecond)

	c.Start()
	// The collector enables history collection on startup.
	deadline := time.Now().Add(time.Second)
	for !m.CollectHistory() {
		if time.Now().After(deadline) {
			t.Fatal("collector never enabled history collection")
		}
		time.Sleep(time.Millisecond)
	}
	c.Shutdown()
	if m.CollectHistory() {
		t.Fatal("collector left history collection enabled")
	}
}
