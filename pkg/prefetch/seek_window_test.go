package prefetch

import (
	"bytes"
	"testing"
)

func flatten(segs [][]byte) []byte {
	return bytes.Join(segs, nil)
}

func TestSeekWindowRetainsTail(t *testing.T) {
	w := seekWindow{max: 10}
	w.push([]byte("0123"))
	w.push([]byte("4567"))
	w.push([]byte("89abcd"))

	if w.len() != 10 {
		t.Fatalf("len = %d, want 10", w.len())
	}
	got := flatten(w.readBack(10))
	if string(got) != "456789abcd" {
		t.Errorf("readBack = %q", got)
	}
	if w.len() != 0 {
		t.Errorf("len after readBack = %d", w.len())
	}
}

func TestSeekWindowPartialReadBack(t *testing.T) {
	w := seekWindow{max: 100}
	w.push([]byte("hello "))
	w.push([]byte("world"))

	got := flatten(w.readBack(3))
	if string(got) != "rld" {
		t.Errorf("readBack(3) = %q", got)
	}
	got = flatten(w.readBack(5))
	if string(got) != "lo wo" {
		t.Errorf("readBack(5) = %q", got)
	}
	if w.len() != 3 {
		t.Errorf("len = %d, want 3", w.len())
	}
}

func TestSeekWindowOversizedPush(t *testing.T) {
	w := seekWindow{max: 4}
	w.push([]byte("ab"))
	w.push([]byte("0123456789"))
	if got := flatten(w.readBack(w.len())); string(got) != "6789" {
		t.Errorf("readBack = %q, want 6789", got)
	}
}

func TestSeekWindowDisabled(t *testing.T) {
	w := seekWindow{}
	w.push([]byte("data"))
	if w.len() != 0 {
		t.Errorf("len = %d, want 0", w.len())
	}
}
