package protocol

import (
	"bytes"
	"testing"
)

func TestPadUnpadIdempotence(t *testing.T) {
	for _, n := range []int{0, 1, 50, 239, 240} {
		data := bytes.Repeat([]byte{'x'}, n)
		padded := pad(data)
		got := unpad(padded)
		if !bytes.Equal(got, data) {
			t.Fatalf("len %d: unpad(pad(x)) mismatch: got %d bytes, want %d", n, len(got), len(data))
		}
	}
}

func TestPadChoosesSmallestFittingBlock(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 100)
	padded := pad(data)
	if len(padded) != 256 {
		t.Fatalf("expected block 256, got %d", len(padded))
	}
}

func TestPadAboveCapSkipsPadding(t *testing.T) {
	// 250 bytes only fits the 512 block, which would take 261 bytes of
	// padding, more than MaxPaddingLength; 3000 bytes fits no block at
	// all. Both must come back unpadded.
	for _, n := range []int{250, 3000} {
		data := bytes.Repeat([]byte{'x'}, n)
		padded := pad(data)
		if len(padded) != len(data) {
			t.Fatalf("len %d: expected unpadded output, got len %d", n, len(padded))
		}
	}
}

func TestUnpadOnNonBlockSizeIsNoop(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	if got := unpad(data); !bytes.Equal(got, data) {
		t.Fatalf("expected unchanged data, got %v", got)
	}
}
