package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressionRoundTrip(t *testing.T) {
	CompressionEnabled = true
	defer func() { CompressionEnabled = false }()

	original := []byte(strings.Repeat("compressible payload content ", 20))

	compressed := compress(original)
	if compressed == nil {
		t.Fatalf("expected compression to succeed on repetitive input")
	}
	if len(compressed) >= len(original) {
		t.Fatalf("compressed output not smaller: %d vs %d", len(compressed), len(original))
	}

	out, err := decompress(compressed, len(original))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(out, original) {
		t.Fatalf("round-trip mismatch")
	}
}

func TestCompressionDisabledByDefault(t *testing.T) {
	original := []byte(strings.Repeat("x", 200))
	if got := compress(original); got != nil {
		t.Fatalf("expected compression to be skipped when disabled, got %d bytes", len(got))
	}
}

func TestCompressionBelowThresholdSkipped(t *testing.T) {
	CompressionEnabled = true
	defer func() { CompressionEnabled = false }()

	if got := compress([]byte("short")); got != nil {
		t.Fatalf("expected no compression below threshold")
	}
}

func TestEncodeDecodeWithCompression(t *testing.T) {
	CompressionEnabled = true
	defer func() { CompressionEnabled = false }()

	p := testPacket([]byte(strings.Repeat("mesh chat payload ", 20)))

	raw, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded.Payload, p.Payload) {
		t.Fatalf("payload mismatch after compressed round-trip")
	}
}
