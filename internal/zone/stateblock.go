package zone

import (
	"zonecast/internal/mathd"
)

// NoParent marks an entity as a direct child of the world.
const NoParent int64 = -1

// StateEntry is one object update inside a StateBlock.
type StateEntry struct {
	Parent int64 // NoParent if the world owns the entity
	Entity int64
	Pos    mathd.Vec3d
	Rot    mathd.Quatd
}

// StateBlock collects the updates, removals, and warps for one zone at a
// single frame time.
type StateBlock struct {
	time int64
	zone Key

	updates []StateEntry
	removes []int64
	warps   []int64
}

func NewStateBlock(time int64, zone Key) *StateBlock {
	return &StateBlock{time: time, zone: zone}
}

func (b *StateBlock) Time() int64 {
	return b.time
}

func (b *StateBlock) Zone() Key {
	return b.zone
}

func (b *StateBlock) IsEmpty() bool {
	return b.updates == nil && b.removes == nil && b.warps == nil
}

func (b *StateBlock) AddUpdate(parent, entity int64, pos mathd.Vec3d, rot mathd.Quatd) {
	b.updates = append(b.updates, StateEntry{Parent: parent, Entity: entity, Pos: pos, Rot: rot})
}

func (b *StateBlock) RemoveEntity(entity int64) {
	b.removes = append(b.removes, entity)
}

// AddWarp records a position discontinuity for the entity so receivers
// can skip interpolation.  Only the entity id is stored; the parent
// argument is ignored, and riders of a warping object get no warp entry.
func (b *StateBlock) AddWarp(parent, entity int64) {
	b.warps = append(b.warps, entity)
}

func (b *StateBlock) Updates() []StateEntry {
	return b.updates
}

func (b *StateBlock) Removals() []int64 {
	return b.removes
}

func (b *StateBlock) Warps() []int64 {
	return b.warps
}
