package replica

import (
	"fmt"

	"zonecast/internal/mathd"
	"zonecast/internal/zone"
)

// LocalZoneIndex is the client's zone window: the (2r+1)^3 box of zones
// around a center, each assigned a small dense zone id starting at 1.
// Ids stay stable for the lifetime of a window but change meaning when
// the center moves; in-flight state must be interpreted against the
// window that produced it.
type LocalZoneIndex struct {
	grid *zone.Grid

	xExtent, yExtent, zExtent int
	xSize, ySize, zSize       int

	center    zone.Key
	hasCenter bool
	keyIndex  []zone.Key
	keySet    map[zone.Key]struct{}
}

// MinZoneID is the first valid local zone id; 0 is the removal sentinel.
const MinZoneID = 1

// NewLocalZoneIndex builds a window with the given cell radius per axis.
// Radii collapse to 0 on flattened grid axes.
func NewLocalZoneIndex(grid *zone.Grid, extents mathd.Vec3i) *LocalZoneIndex {
	size := grid.Size()
	if size.X == 0 {
		extents.X = 0
	}
	if size.Y == 0 {
		extents.Y = 0
	}
	if size.Z == 0 {
		extents.Z = 0
	}

	idx := &LocalZoneIndex{
		grid:    grid,
		xExtent: extents.X,
		yExtent: extents.Y,
		zExtent: extents.Z,
		xSize:   extents.X*2 + 1,
		ySize:   extents.Y*2 + 1,
		zSize:   extents.Z*2 + 1,
		keySet:  make(map[zone.Key]struct{}),
	}
	idx.keyIndex = make([]zone.Key, idx.xSize*idx.ySize*idx.zSize)
	return idx
}

func (x *LocalZoneIndex) Grid() *zone.Grid {
	return x.grid
}

func (x *LocalZoneIndex) IndexSize() int {
	return len(x.keyIndex)
}

// Center returns the current center zone; ok is false before the first
// SetCenter.
func (x *LocalZoneIndex) Center() (zone.Key, bool) {
	return x.center, x.hasCenter
}

// Zone resolves a local zone id to its key.  Ids at or below zero (the
// absent and removed sentinels) and unset windows resolve to the zero
// Key.
func (x *LocalZoneIndex) Zone(zoneID int) (zone.Key, bool) {
	if zoneID < MinZoneID || !x.hasCenter {
		return zone.Key{}, false
	}
	i := zoneID - MinZoneID
	if i >= len(x.keyIndex) {
		return zone.Key{}, false
	}
	return x.keyIndex[i], true
}

// ZoneID maps a key inside the window to its local id, NoNetworkID-like
// -1 when no window is set.  The id layout follows the fill order: x
// fastest, then y, then z.
func (x *LocalZoneIndex) ZoneID(k zone.Key) int {
	if !x.hasCenter {
		return -1
	}
	dx := k.X - (x.center.X - x.xExtent)
	dy := k.Y - (x.center.Y - x.yExtent)
	dz := k.Z - (x.center.Z - x.zExtent)
	return MinZoneID + dz*(x.xSize*x.ySize) + dy*x.xSize + dx
}

// SetCenterWorld recenters on the zone containing the world position.
func (x *LocalZoneIndex) SetCenterWorld(pos mathd.Vec3d, entered, exited *[]zone.Key) bool {
	return x.SetCenter(x.grid.WorldToKey(pos), entered, exited)
}

// SetCenter rebuilds the window around the new center, filling entered
// and exited with the symmetric difference of the old and new windows.
// Returns false (leaving both lists untouched) when the center is
// unchanged.
func (x *LocalZoneIndex) SetCenter(center zone.Key, entered, exited *[]zone.Key) bool {
	if x.hasCenter && x.center == center {
		return false
	}

	*entered = (*entered)[:0]
	*exited = (*exited)[:0]

	oldSet := x.keySet
	x.keySet = make(map[zone.Key]struct{}, len(x.keyIndex))

	x.center = center
	x.hasCenter = true

	i := 0
	for z := center.Z - x.zExtent; z <= center.Z+x.zExtent; z++ {
		for y := center.Y - x.yExtent; y <= center.Y+x.yExtent; y++ {
			for xx := center.X - x.xExtent; xx <= center.X+x.xExtent; xx++ {
				k := x.grid.Key(xx, y, z)
				x.keyIndex[i] = k
				i++
				x.keySet[k] = struct{}{}
				if _, had := oldSet[k]; !had {
					*entered = append(*entered, k)
				}
			}
		}
	}

	for k := range oldSet {
		if _, still := x.keySet[k]; !still {
			*exited = append(*exited, k)
		}
	}
	return true
}

func (x *LocalZoneIndex) String() string {
	return fmt.Sprintf("LocalZoneIndex[center=%v, size=%d]", x.center, len(x.keyIndex))
}
