package mathd

import (
	"math"
	"testing"
)

func TestVec3Bits_RoundTrip(t *testing.T) {
	b := NewVec3Bits(-10, 42, 16)
	step := (42.0 - -10.0) / float64(1<<16-1)

	cases := []Vec3d{
		{0, 0, 0},
		{5, 0, 5},
		{-10, 42, 16.125},
		{41.999, -9.999, 0.5},
	}
	for _, in := range cases {
		out := b.FromBits(b.ToBits(in))
		if out.Dist(in) > step*2 {
			t.Fatalf("round trip too lossy: in %v out %v (step %g)", in, out, step)
		}
	}

	if got := b.BitSize(); got != 48 {
		t.Fatalf("BitSize: got %d want 48", got)
	}
}

func TestVec3Bits_Clamps(t *testing.T) {
	b := NewVec3Bits(-10, 42, 8)
	out := b.FromBits(b.ToBits(Vec3d{-100, 100, 0}))
	if out.X != -10 {
		t.Fatalf("min clamp: got %g want -10", out.X)
	}
	if out.Y != 42 {
		t.Fatalf("max clamp: got %g want 42", out.Y)
	}
}

func TestQuatBits_RoundTrip(t *testing.T) {
	b := NewQuatBits(12)
	if got := b.BitSize(); got != 38 {
		t.Fatalf("BitSize: got %d want 38", got)
	}

	cases := []Quatd{
		QuatIdentity(),
		{0.5, 0.5, 0.5, 0.5},
		{0, 0.7071, 0, 0.7071},
		{-0.1, 0.2, -0.3, 0.9},
	}
	for _, in := range cases {
		in = in.Normalized()
		out := b.FromBits(b.ToBits(in))
		// q and -q are the same rotation.
		if d := math.Abs(in.Dot(out)); d < 0.9999 {
			t.Fatalf("round trip too lossy: in %v out %v dot %g", in, out, d)
		}
	}
}

func TestQuatBits_NegatedEquivalent(t *testing.T) {
	b := NewQuatBits(10)
	q := Quatd{-0.1, 0.2, -0.3, 0.9}.Normalized()
	neg := Quatd{-q.X, -q.Y, -q.Z, -q.W}
	if b.ToBits(q) != b.ToBits(neg) {
		t.Fatal("q and -q should encode identically")
	}
}
