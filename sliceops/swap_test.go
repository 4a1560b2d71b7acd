package sliceops

import (
	"bytes"
	"testing"
)

func TestReverse(t *testing.T) {
	in := []byte{1, 2, 3, 4, 5}
	out := Reverse(in)
	if !bytes.Equal(out, []byte{5, 4, 3, 2, 1}) {
		t.Fatalf("unexpected reverse %v", out)
	}
	if !bytes.Equal(in, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("input modified: %v", in)
	}

	even := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	ReverseInPlace(even)
	if !bytes.Equal(even, []byte{0xdd, 0xcc, 0xbb, 0xaa}) {
		t.Fatalf("unexpected in place reverse %v", even)
	}

	if len(Reverse(nil)) != 0 {
		t.Fatalf("nil input should give empty output")
	}
}
