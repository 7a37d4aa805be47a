package zone

import (
	"fmt"

	"zonecast/internal/mathd"
)

// Key identifies one cell of a specific grid.  Keys are values and are
// usable as map keys; equality is by grid identity plus coordinates.
// The world origin is precomputed at construction.
type Key struct {
	grid    *Grid
	X, Y, Z int
	Origin  mathd.Vec3i
}

func (k Key) Grid() *Grid {
	return k.grid
}

// IsZero reports whether the key is the unset zero value (no grid).
func (k Key) IsZero() bool {
	return k.grid == nil
}

// ToWorld converts a zone-local position to world space.
func (k Key) ToWorld(relative mathd.Vec3d) mathd.Vec3d {
	return mathd.Vec3d{
		X: float64(k.Origin.X) + relative.X,
		Y: float64(k.Origin.Y) + relative.Y,
		Z: float64(k.Origin.Z) + relative.Z,
	}
}

// ToLocal converts a world position to zone-local space; this is the
// coordinate the protocol's position packer quantizes.
func (k Key) ToLocal(world mathd.Vec3d) mathd.Vec3d {
	return mathd.Vec3d{
		X: world.X - float64(k.Origin.X),
		Y: world.Y - float64(k.Origin.Y),
		Z: world.Z - float64(k.Origin.Z),
	}
}

func (k Key) ToLongID() int64 {
	return k.grid.ToLongID(k)
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d:%d", k.X, k.Y, k.Z)
}
