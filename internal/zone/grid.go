// Package zone partitions the world into an integer grid of cells and
// accumulates per-cell, per-frame object state history for the
// replication pipeline.
package zone

import (
	"fmt"
	"math"

	"zonecast/internal/mathd"
)

// Grid translates between world coordinates and integer cell
// coordinates.  An axis size of 0 flattens that dimension: every world
// coordinate maps to cell 0.  Grid instances are immutable; reuse one
// instance so keys compare by grid identity.
type Grid struct {
	size mathd.Vec3i
}

func NewGrid(size mathd.Vec3i) *Grid {
	return &Grid{size: size}
}

// NewUniformGrid builds a grid with the same cell size on every axis.
func NewUniformGrid(size int) *Grid {
	return NewGrid(mathd.Vec3i{X: size, Y: size, Z: size})
}

func (g *Grid) Size() mathd.Vec3i {
	return g.size
}

func worldToCell(d float64, size int) int {
	if size == 0 {
		return 0
	}
	return int(math.Floor(math.Floor(d) / float64(size)))
}

// WorldToZone maps a world position to cell coordinates.
func (g *Grid) WorldToZone(world mathd.Vec3d) mathd.Vec3i {
	return mathd.Vec3i{
		X: worldToCell(world.X, g.size.X),
		Y: worldToCell(world.Y, g.size.Y),
		Z: worldToCell(world.Z, g.size.Z),
	}
}

// ZoneToWorld returns the world origin of the given cell coordinates.
func (g *Grid) ZoneToWorld(x, y, z int) mathd.Vec3i {
	return mathd.Vec3i{X: x * g.size.X, Y: y * g.size.Y, Z: z * g.size.Z}
}

// Key builds the key for explicit cell coordinates.
func (g *Grid) Key(x, y, z int) Key {
	return Key{grid: g, X: x, Y: y, Z: z, Origin: g.ZoneToWorld(x, y, z)}
}

// WorldToKey returns the key of the cell containing the world position.
func (g *Grid) WorldToKey(world mathd.Vec3d) Key {
	c := g.WorldToZone(world)
	return g.Key(c.X, c.Y, c.Z)
}

// CellKey returns the key for precomputed cell coordinates.
func (g *Grid) CellKey(c mathd.Vec3i) Key {
	return g.Key(c.X, c.Y, c.Z)
}

const (
	longIDFieldBits = 21
	longIDFieldMask = int64(1)<<longIDFieldBits - 1
	longIDSignBit   = int64(1) << (longIDFieldBits - 1)
)

// ToLongID packs cell coordinates into a 63-bit id: three sign-extended
// 21-bit fields laid out x<<42 | y<<21 | z.  Coordinates must fit in a
// signed 21-bit range.
func (g *Grid) ToLongID(k Key) int64 {
	x := int64(k.X) & longIDFieldMask
	y := int64(k.Y) & longIDFieldMask
	z := int64(k.Z) & longIDFieldMask
	return x<<42 | y<<21 | z
}

func signExtend21(v int64) int {
	if v&longIDSignBit != 0 {
		v |= ^longIDFieldMask
	}
	return int(v)
}

// FromLongID is the inverse of ToLongID.
func (g *Grid) FromLongID(id int64) Key {
	z := signExtend21(id & longIDFieldMask)
	y := signExtend21(id >> 21 & longIDFieldMask)
	x := signExtend21(id >> 42 & longIDFieldMask)
	return g.Key(x, y, z)
}

func (g *Grid) String() string {
	return fmt.Sprintf("Grid[%d:%d:%d]", g.size.X, g.size.Y, g.size.Z)
}
