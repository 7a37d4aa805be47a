package bitio

import (
	"bytes"
	"testing"
)

func TestRoundTrip_AllWidths(t *testing.T) {
	values := []uint64{0, 1, 0x5a, 0x1234, 0xdeadbeef, 0x123456789abcdef0, ^uint64(0)}
	for width := 1; width <= 64; width++ {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		for _, v := range values {
			if err := w.WriteLongBits(v, width); err != nil {
				t.Fatalf("width %d: WriteLongBits: %v", width, err)
			}
		}
		if err := w.Close(); err != nil {
			t.Fatalf("width %d: Close: %v", width, err)
		}

		r := NewReader(&buf)
		mask := ^uint64(0) >> (64 - uint(width))
		for i, v := range values {
			got, err := r.ReadLongBits(width)
			if err != nil {
				t.Fatalf("width %d value %d: ReadLongBits: %v", width, i, err)
			}
			if want := v & mask; got != want {
				t.Fatalf("width %d value %d: got %#x want %#x", width, i, got, want)
			}
		}
	}
}

func TestRoundTrip_MixedWidths(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i := 0; i < 8; i++ {
		if err := w.WriteBits(1, 1); err != nil {
			t.Fatalf("WriteBits: %v", err)
		}
		if err := w.WriteBits(uint32(0x12+i), 8); err != nil {
			t.Fatalf("WriteBits: %v", err)
		}
		if err := w.WriteLongBits(0x123456789abcdef0, 64); err != nil {
			t.Fatalf("WriteLongBits: %v", err)
		}
		if err := w.WriteLongBits(^uint64(0), 64); err != nil {
			t.Fatalf("WriteLongBits: %v", err)
		}
		if err := w.WriteLongBits(0x80123456789abcde, 64); err != nil {
			t.Fatalf("WriteLongBits: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := NewReader(&buf)
	for i := 0; i < 8; i++ {
		marker, err := r.ReadBits(1)
		if err != nil || marker != 1 {
			t.Fatalf("marker %d: got %d err %v", i, marker, err)
		}
		b, _ := r.ReadBits(8)
		if b != uint32(0x12+i) {
			t.Fatalf("byte %d: got %#x want %#x", i, b, 0x12+i)
		}
		for _, want := range []uint64{0x123456789abcdef0, ^uint64(0), 0x80123456789abcde} {
			got, err := r.ReadLongBits(64)
			if err != nil {
				t.Fatalf("ReadLongBits: %v", err)
			}
			if got != want {
				t.Fatalf("long %d: got %#x want %#x", i, got, want)
			}
		}
	}
}

func TestWriteZeroBits(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	if err := w.WriteBits(1, 0); err == nil {
		t.Fatal("expected error writing 0 bits")
	}
	if err := w.WriteLongBits(1, 0); err == nil {
		t.Fatal("expected error writing 0 long bits")
	}
}

func TestReadPastEnd(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteBits(3, 2); err != nil {
		t.Fatalf("WriteBits: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := NewReader(&buf)
	if _, err := r.ReadBits(8); err != nil {
		t.Fatalf("first byte should be readable: %v", err)
	}
	if _, err := r.ReadBits(1); err == nil {
		t.Fatal("expected end of stream")
	}
}

func TestClosePadsPartialByte(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteBits(0x7, 3); err != nil {
		t.Fatalf("WriteBits: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buf.Len() != 1 {
		t.Fatalf("buffer length: got %d want 1", buf.Len())
	}
	// MSB-first: 111 followed by zero padding.
	if b := buf.Bytes()[0]; b != 0xe0 {
		t.Fatalf("padded byte: got %#x want 0xe0", b)
	}
}
