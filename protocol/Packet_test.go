package protocol

import (
	"bytes"
	"testing"
)

func testPacket(payload []byte) *Packet {
	p := &Packet{
		Type:         TypeMessage,
		TTL:          3,
		Timestamp:    1234567890,
		HasRecipient: true,
		Payload:      payload,
	}
	copy(p.SenderID[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	p.RecipientID = BroadcastRecipient
	return p
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := testPacket([]byte("hello"))

	raw, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if len(raw) != 256 {
		t.Fatalf("expected encoded length 256, got %d", len(raw))
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Type != p.Type || decoded.TTL != p.TTL || decoded.Timestamp != p.Timestamp {
		t.Fatalf("header mismatch: %+v vs %+v", decoded, p)
	}
	if decoded.SenderID != p.SenderID || decoded.RecipientID != p.RecipientID {
		t.Fatalf("id mismatch")
	}
	if !bytes.Equal(decoded.Payload, p.Payload) {
		t.Fatalf("payload mismatch: %q vs %q", decoded.Payload, p.Payload)
	}
}

func TestEncodeRejectsEmptyPayload(t *testing.T) {
	p := testPacket(nil)
	if _, err := Encode(p); err != ErrEmptyPayload {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	p := testPacket([]byte("x"))
	raw, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	unpadded := unpad(raw)
	unpadded[0] = Version + 1
	repadded := pad(unpadded)

	if _, err := Decode(repadded); err != ErrBadVersion {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	p := testPacket([]byte("hello world"))
	raw, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	unpadded := unpad(raw)
	if _, err := Decode(unpadded[:len(unpadded)-3]); err == nil {
		t.Fatalf("expected error decoding truncated packet")
	}
}

func TestNoRecipientPacket(t *testing.T) {
	p := &Packet{Type: TypeAnnounce, TTL: 1, Payload: []byte("ann")}
	copy(p.SenderID[:], []byte{9, 9, 9, 9, 9, 9, 9, 9})

	raw, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.HasRecipient {
		t.Fatalf("expected no recipient")
	}
	if !bytes.Equal(decoded.Payload, p.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestEncodingNeverExceeds64KiB(t *testing.T) {
	large := bytes.Repeat([]byte{'a'}, 60000)
	p := testPacket(large)

	raw, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(raw) > MaxPacketSize {
		t.Fatalf("encoded packet exceeds MaxPacketSize: %d", len(raw))
	}
}
