package zone

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"zonecast/internal/mathd"
	"zonecast/internal/stats"
)

// DefaultHistoryBacklog is the size of each zone's history ring; the
// manager keeps at most one frame fewer than this between purges.
const DefaultHistoryBacklog = 12

// Manager owns the live zones and, per object, the range of cells the
// object intersects.  Object updates happen inside a frame:
//
//	BeginUpdate(t)
//	UpdateEntity(...) / Remove(...)
//	EndUpdate()
//
// Remove may also be called outside a frame; the removal is enqueued and
// applied at the next BeginUpdate.  Add cancels such a pending removal.
//
// BeginUpdate/UpdateEntity/EndUpdate are single-threaded (the game update
// goroutine).  PurgeState is called from the collector goroutine; the
// zones map and committed history are guarded by the history lock shared
// between EndUpdate and PurgeState.
type Manager struct {
	log   *zap.Logger
	stats *stats.Engine
	grid  *Grid

	dynamicRanges bool

	index      map[int64]zoneRange
	parents    map[int64]int64
	noUpdates  map[int64]struct{}
	updateTime int64 // -1 outside a frame

	pendingRemoval map[int64]struct{}
	pendingWarp    map[int64]struct{}

	zones map[Key]*Zone

	collectHistory atomic.Bool

	historyMu      sync.Mutex
	historyBacklog int
	historyIndex   []int64
	historySize    int
}

type ManagerConfig struct {
	Grid           *Grid
	HistoryBacklog int
	// DynamicRanges selects the range variant that supports objects of
	// any cell extent.  The default oct variant caps extents at two
	// cells per axis.
	DynamicRanges bool
}

func NewManager(log *zap.Logger, st *stats.Engine, cfg ManagerConfig) *Manager {
	backlog := cfg.HistoryBacklog
	if backlog <= 0 {
		backlog = DefaultHistoryBacklog
	}
	return &Manager{
		log:            log.Named("zones"),
		stats:          st,
		grid:           cfg.Grid,
		dynamicRanges:  cfg.DynamicRanges,
		index:          make(map[int64]zoneRange),
		parents:        make(map[int64]int64),
		updateTime:     -1,
		pendingRemoval: make(map[int64]struct{}),
		pendingWarp:    make(map[int64]struct{}),
		zones:          make(map[Key]*Zone),
		historyBacklog: backlog,
		historyIndex:   make([]int64, backlog),
	}
}

func (m *Manager) Grid() *Grid {
	return m.grid
}

// SetCollectHistory enables or disables history accumulation.  A manager
// without an active collector must not collect: nothing would purge the
// buffers.  The collector turns this on at startup and off at shutdown.
func (m *Manager) SetCollectHistory(b bool) {
	m.collectHistory.Store(b)
}

func (m *Manager) CollectHistory() bool {
	return m.collectHistory.Load()
}

func (m *Manager) zoneRangeFor(id int64, create bool) zoneRange {
	r, ok := m.index[id]
	if !ok && create {
		if m.dynamicRanges {
			r = newDynamicRange(m, id)
		} else {
			r = newOctRange(m, id)
		}
		m.index[id] = r
	}
	return r
}

// BeginUpdate opens a frame at the given time.  Pending removals
// enqueued while outside a frame are applied here, after every live zone
// has an open block to record them into.
func (m *Manager) BeginUpdate(time int64) {
	m.updateTime = time

	// Seed the no-update set with every known id minus those pending
	// removal; UpdateEntity knocks ids back out.
	m.noUpdates = make(map[int64]struct{}, len(m.index))
	for id := range m.index {
		if _, pending := m.pendingRemoval[id]; pending {
			continue
		}
		m.noUpdates[id] = struct{}{}
	}

	for _, z := range m.zones {
		z.BeginUpdate(time)
	}

	for id := range m.pendingRemoval {
		if r, ok := m.index[id]; ok {
			delete(m.index, id)
			r.leave()
		}
	}
	clear(m.pendingRemoval)
}

// UpdateEntity records an entity's pose for this frame.  Bounds are the
// entity's world-space box; a changed cell range emits per-cell enter and
// leave events before the pose lands in each intersected cell's open
// block.
func (m *Manager) UpdateEntity(id int64, pos mathd.Vec3d, rot mathd.Quatd, bounds mathd.AaBBox) {
	minZone := m.grid.WorldToZone(bounds.Min)
	maxZone := m.grid.WorldToZone(bounds.Max)

	r := m.zoneRangeFor(id, true)
	if !r.rangeEquals(minZone, maxZone) {
		r.setRange(minZone, maxZone)
	}

	r.sendUpdate(pos, rot)
	if _, warped := m.pendingWarp[id]; warped {
		r.sendWarp()
		delete(m.pendingWarp, id)
	}

	delete(m.noUpdates, id)
}

// Warp flags the entity's next update as a position discontinuity so
// receivers skip interpolation.
func (m *Manager) Warp(id int64) {
	m.pendingWarp[id] = struct{}{}
}

// Add makes sure the entity is not pending removal.  Only needed when
// Remove is used to deactivate entities that may come back.
func (m *Manager) Add(id int64) {
	delete(m.pendingRemoval, id)
}

// Remove takes the entity out of the manager.  Inside a frame the
// removal applies immediately; outside it is enqueued for the next
// BeginUpdate.
func (m *Manager) Remove(id int64) {
	r, ok := m.index[id]
	if !ok {
		return
	}

	if m.updateTime < 0 {
		m.pendingRemoval[id] = struct{}{}
		return
	}

	delete(m.index, id)
	r.leave()
}

// EndUpdate closes the frame: replays no-change heartbeats for idle
// entities, commits every zone's open block under the history lock, and
// evicts zones that are both idle and empty of children.
func (m *Manager) EndUpdate() {
	if !m.collectHistory.Load() {
		m.updateTime = -1
		return
	}

	for id := range m.noUpdates {
		r := m.zoneRangeFor(id, false)
		if r == nil {
			m.log.Warn("no zone range for no-change entity", zap.Int64("id", id))
			continue
		}
		r.sendNoChange()
	}

	m.historyMu.Lock()
	defer func() {
		m.historyMu.Unlock()
		m.updateTime = -1
	}()

	if m.historySize+1 >= m.historyBacklog {
		// Backpressure: drop the frame rather than overflow.
		m.log.Warn("history backlog full; dropping frame",
			zap.Int("historySize", m.historySize),
			zap.Int("backlog", m.historyBacklog))
		m.stats.HistoryOverflows.Add(1)
		return
	}

	m.historyIndex[m.historySize] = m.updateTime
	m.historySize++

	for key, z := range m.zones {
		if !z.CommitUpdate() && z.IsEmpty() {
			delete(m.zones, key)
		}
	}
}

// PurgeState returns one StateFrame per frame committed since the last
// purge, in increasing time order.  Individual entries may be nil when
// no zone recorded state at that time.  Called from the collector
// goroutine.
func (m *Manager) PurgeState() []*StateFrame {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()

	state := make([]*StateFrame, m.historySize)

	for _, z := range m.zones {
		h := 0
		for _, b := range z.PurgeHistory() {
			if b.Time() < m.historyIndex[h] {
				m.log.Error("state block precedes history index",
					zap.Int64("blockTime", b.Time()),
					zap.Int64("historyTime", m.historyIndex[h]))
				continue
			}
			// A zone may have gaps relative to global history.
			for b.Time() > m.historyIndex[h] {
				h++
			}
			if state[h] == nil {
				state[h] = NewStateFrame(m.historyIndex[h], len(m.zones))
			}
			state[h].Add(b)
		}
	}

	m.historySize = 0
	return state
}

func (m *Manager) zoneFor(key Key, create bool) *Zone {
	z, ok := m.zones[key]
	if !ok && create {
		z = NewZone(m.log, key, m.historyBacklog)
		if m.updateTime >= 0 {
			z.BeginUpdate(m.updateTime)
		}
		m.zones[key] = z
	}
	return z
}

func (m *Manager) updateZoneObject(id int64, pos mathd.Vec3d, rot mathd.Quatd, key Key) {
	z := m.zoneFor(key, false)
	if z == nil {
		m.log.Warn("update for zone that does not exist",
			zap.Int64("id", id), zap.Stringer("zone", key))
		return
	}
	z.Update(m.parentOf(id), id, pos, rot)
}

func (m *Manager) warpZoneObject(id int64, key Key) {
	z := m.zoneFor(key, false)
	if z == nil {
		return
	}
	z.Warp(m.parentOf(id), id)
}

// SetParent attaches the entity to a parent object; its positions are
// then parent-relative rather than zone-local on the wire.
func (m *Manager) SetParent(id, parent int64) {
	if parent == NoParent {
		delete(m.parents, id)
		return
	}
	m.parents[id] = parent
}

func (m *Manager) parentOf(id int64) int64 {
	if p, ok := m.parents[id]; ok {
		return p
	}
	return NoParent
}

func (m *Manager) enterZone(id int64, key Key) {
	z := m.zoneFor(key, true)
	z.AddChild(id)
}

func (m *Manager) leaveZone(id int64, key Key) {
	z := m.zoneFor(key, false)
	if z == nil {
		m.log.Warn("leave for zone that does not exist",
			zap.Int64("id", id), zap.Stringer("zone", key))
		return
	}
	z.RemoveChild(id)
	// The zone cannot be removed until it is both empty and devoid of
	// state; EndUpdate does that when it commits the open block.
}
