package zone

import (
	"go.uber.org/zap"

	"zonecast/internal/mathd"
)

// zoneRange tracks the axis-aligned box of cells an entity currently
// intersects and fans pose updates out to those cells.  Two
// implementations exist: a compact oct variant capped at two cells per
// axis, and a dynamic variant for arbitrarily large objects.  All range
// state is private to the game update goroutine.
type zoneRange interface {
	rangeEquals(min, max mathd.Vec3i) bool
	setRange(min, max mathd.Vec3i)
	sendUpdate(pos mathd.Vec3d, rot mathd.Quatd)
	sendNoChange()
	sendWarp()
	leave()
}

// rangeCore carries the bookkeeping shared by both variants.
type rangeCore struct {
	m  *Manager
	id int64

	min, max mathd.Vec3i
	hasRange bool
	keys     []Key

	lastPos mathd.Vec3d
	lastRot mathd.Quatd
	hasLast bool
}

func (r *rangeCore) rangeEquals(min, max mathd.Vec3i) bool {
	return r.hasRange && r.min == min && r.max == max
}

func (r *rangeCore) sendUpdate(pos mathd.Vec3d, rot mathd.Quatd) {
	r.lastPos = pos
	r.lastRot = rot
	r.hasLast = true
	for _, k := range r.keys {
		r.m.updateZoneObject(r.id, pos, rot, k)
	}
}

// sendNoChange replays the last known pose so receivers get a heartbeat
// for objects that did not move this frame.
func (r *rangeCore) sendNoChange() {
	if !r.hasLast {
		return
	}
	r.sendUpdate(r.lastPos, r.lastRot)
}

func (r *rangeCore) sendWarp() {
	for _, k := range r.keys {
		r.m.warpZoneObject(r.id, k)
	}
}

func (r *rangeCore) leave() {
	for _, k := range r.keys {
		r.m.leaveZone(r.id, k)
	}
	r.keys = r.keys[:0]
	r.hasRange = false
}

// applyKeys diffs the old and new cell sets, emitting enter events for
// cells gained and leave events for cells lost.
func (r *rangeCore) applyKeys(min, max mathd.Vec3i, newKeys []Key) {
	if !r.hasRange {
		for _, k := range newKeys {
			r.m.enterZone(r.id, k)
		}
		r.min, r.max = min, max
		r.hasRange = true
		r.keys = newKeys
		return
	}

	oldKeys := r.keys
	oldSet := make(map[Key]struct{}, len(oldKeys))
	for _, k := range oldKeys {
		oldSet[k] = struct{}{}
	}
	newSet := make(map[Key]struct{}, len(newKeys))
	for _, k := range newKeys {
		newSet[k] = struct{}{}
	}

	for _, k := range newKeys {
		if _, ok := oldSet[k]; !ok {
			r.m.enterZone(r.id, k)
		}
	}

	r.min, r.max = min, max
	r.keys = newKeys

	for _, k := range oldKeys {
		if _, ok := newSet[k]; !ok {
			r.m.leaveZone(r.id, k)
		}
	}
}

// octRange is the compact 2x2x2 variant: an object may span at most two
// cells per axis.  Larger extents are an error and clamp.
type octRange struct {
	rangeCore
}

func newOctRange(m *Manager, id int64) *octRange {
	return &octRange{rangeCore{m: m, id: id}}
}

func (r *octRange) setRange(min, max mathd.Vec3i) {
	clamped := max
	if clamped.X > min.X+1 || clamped.Y > min.Y+1 || clamped.Z > min.Z+1 {
		r.m.log.Error("object spans more than two cells per axis; clamping range",
			zap.Int64("id", r.id),
			zap.Any("min", min), zap.Any("max", max))
		if clamped.X > min.X+1 {
			clamped.X = min.X + 1
		}
		if clamped.Y > min.Y+1 {
			clamped.Y = min.Y + 1
		}
		if clamped.Z > min.Z+1 {
			clamped.Z = min.Z + 1
		}
	}

	keys := make([]Key, 0, 8)
	for z := min.Z; z <= clamped.Z; z++ {
		for y := min.Y; y <= clamped.Y; y++ {
			for x := min.X; x <= clamped.X; x++ {
				keys = append(keys, r.m.grid.Key(x, y, z))
			}
		}
	}
	r.applyKeys(min, clamped, keys)
}

// dynamicRange supports objects of any size.
type dynamicRange struct {
	rangeCore
}

func newDynamicRange(m *Manager, id int64) *dynamicRange {
	return &dynamicRange{rangeCore{m: m, id: id}}
}

func (r *dynamicRange) setRange(min, max mathd.Vec3i) {
	n := (max.X - min.X + 1) * (max.Y - min.Y + 1) * (max.Z - min.Z + 1)
	keys := make([]Key, 0, n)
	for z := min.Z; z <= max.Z; z++ {
		for y := min.Y; y <= max.Y; y++ {
			for x := min.X; x <= max.X; x++ {
				keys = append(keys, r.m.grid.Key(x, y, z))
			}
		}
	}
	r.applyKeys(min, max, keys)
}
