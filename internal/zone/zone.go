package zone

import (
	"go.uber.org/zap"

	"zonecast/internal/mathd"
)

// Zone is the per-cell mutable state: the resident children set, the
// currently open StateBlock, and a fixed ring of committed blocks
// awaiting the next purge.
type Zone struct {
	log *zap.Logger
	key Key

	children map[int64]struct{}

	current      *StateBlock
	history      []*StateBlock
	historyIndex int
}

func NewZone(log *zap.Logger, key Key, historyBacklog int) *Zone {
	return &Zone{
		log:      log,
		key:      key,
		children: make(map[int64]struct{}),
		history:  make([]*StateBlock, historyBacklog),
	}
}

func (z *Zone) Key() Key {
	return z.key
}

// BeginUpdate opens a new state block at the given frame time.
func (z *Zone) BeginUpdate(time int64) {
	z.current = NewStateBlock(time, z.key)
}

// Update appends the entity's pose to the open block.
func (z *Zone) Update(parent, id int64, pos mathd.Vec3d, rot mathd.Quatd) {
	z.current.AddUpdate(parent, id, pos, rot)
}

// Warp appends a warp event to the open block.
func (z *Zone) Warp(parent, id int64) {
	z.current.AddWarp(parent, id)
}

func (z *Zone) AddChild(id int64) {
	if _, ok := z.children[id]; ok {
		z.log.Warn("zone already had child", zap.Stringer("zone", z.key), zap.Int64("id", id))
		return
	}
	z.children[id] = struct{}{}
}

// RemoveChild drops the entity from the residents set and records a
// removal in the open block.
func (z *Zone) RemoveChild(id int64) {
	if _, ok := z.children[id]; !ok {
		z.log.Warn("zone had no child to remove", zap.Stringer("zone", z.key), zap.Int64("id", id))
	} else {
		delete(z.children, id)
	}
	z.current.RemoveEntity(id)
}

func (z *Zone) IsEmpty() bool {
	return len(z.children) == 0
}

// CommitUpdate pushes the open block into history.  It returns false
// only when there was nothing to push and no prior history exists, in
// which case the zone is idle and eligible for eviction upstream.
// Callers must hold the manager's history lock.
func (z *Zone) CommitUpdate() bool {
	if z.current.IsEmpty() {
		z.current = nil
		return z.historyIndex != 0
	}
	z.history[z.historyIndex] = z.current
	z.historyIndex++
	z.current = nil
	return true
}

// PurgeHistory snapshots and clears the committed ring.  Callers must
// hold the manager's history lock.
func (z *Zone) PurgeHistory() []*StateBlock {
	result := make([]*StateBlock, z.historyIndex)
	copy(result, z.history[:z.historyIndex])
	for i := 0; i < z.historyIndex; i++ {
		z.history[i] = nil
	}
	z.historyIndex = 0
	return result
}
