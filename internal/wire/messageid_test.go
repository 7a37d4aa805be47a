package wire

import "testing"

func TestIsBefore_PlainOrdering(t *testing.T) {
	cases := []struct {
		a, b int
		want bool
	}{
		{0, 1, true},
		{1, 0, false},
		{5, 5, false},
		{100, 32000, true},
		{32000, 100, false},
	}
	for _, c := range cases {
		if got := IsBefore(c.a, c.b); got != c.want {
			t.Fatalf("IsBefore(%d, %d): got %v want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestIsBefore_Wraparound(t *testing.T) {
	// 65530 was issued before the wrapped 3.
	if !IsBefore(65530, 3) {
		t.Fatal("65530 should be before 3 after wrap")
	}
	if IsBefore(3, 65530) {
		t.Fatal("3 should not be before 65530 after wrap")
	}
}

func TestIsBefore_AntisymmetricWithinWindow(t *testing.T) {
	pairs := [][2]int{{0, 1}, {10, 500}, {31000, 62999}, {4, 32004}}
	for _, p := range pairs {
		a, b := p[0], p[1]
		if IsBefore(a, b) == IsBefore(b, a) && a != b {
			t.Fatalf("IsBefore not antisymmetric for (%d, %d)", a, b)
		}
		if IsBefore(a, b) != (a < b) {
			t.Fatalf("IsBefore(%d, %d) disagrees with < inside the window", a, b)
		}
	}
}

func TestNextMessageID_Wraps(t *testing.T) {
	if got := NextMessageID(MaxMessageID); got != 0 {
		t.Fatalf("wrap: got %d want 0", got)
	}
	if got := NextMessageID(41); got != 42 {
		t.Fatalf("increment: got %d want 42", got)
	}
}
