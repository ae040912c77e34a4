package noise

import (
	"bytes"
	"crypto/rand"
	"testing"

	flynnnoise "github.com/flynn/noise"

	"github.com/bitchat-mesh/mesh/protocol"
)

func genKeypair(t *testing.T) flynnnoise.DHKey {
	t.Helper()
	kp, err := flynnnoise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return kp
}

func peerID(b byte) protocol.PeerID {
	var id protocol.PeerID
	for i := range id {
		id[i] = b
	}
	return id
}

// TestHandshakeTieBreak exercises spec scenario 4: peer-ids
// "0000000000000001" and "00000000000000ff", the smaller initiates, both
// reach Established within the handshake deadline, and a subsequent
// encrypt/decrypt round trip succeeds.
func TestHandshakeTieBreak(t *testing.T) {
	small := peerID(0x01)
	large := peerID(0xff)

	if !ShouldInitiate(small, large) {
		t.Fatalf("expected smaller peer-id to initiate")
	}
	if ShouldInitiate(large, small) {
		t.Fatalf("expected larger peer-id not to initiate")
	}

	initKey := genKeypair(t)
	respKey := genKeypair(t)

	initiator, err := NewSession(large, true, initKey)
	if err != nil {
		t.Fatalf("NewSession initiator: %v", err)
	}
	responder, err := NewSession(small, false, respKey)
	if err != nil {
		t.Fatalf("NewSession responder: %v", err)
	}

	msg1, err := initiator.StartHandshake()
	if err != nil {
		t.Fatalf("StartHandshake: %v", err)
	}
	if len(msg1) != Msg1Size {
		t.Fatalf("msg1 size = %d, want %d", len(msg1), Msg1Size)
	}

	msg2, established, err := responder.ConsumeHandshakeMessage(msg1)
	if err != nil {
		t.Fatalf("responder consume msg1: %v", err)
	}
	if established {
		t.Fatalf("responder should not be established after msg1")
	}
	if len(msg2) != Msg2Size {
		t.Fatalf("msg2 size = %d, want %d", len(msg2), Msg2Size)
	}

	msg3, established, err := initiator.ConsumeHandshakeMessage(msg2)
	if err != nil {
		t.Fatalf("initiator consume msg2: %v", err)
	}
	if !established {
		t.Fatalf("initiator should be established after msg3 write")
	}
	if len(msg3) != Msg3Size {
		t.Fatalf("msg3 size = %d, want %d", len(msg3), Msg3Size)
	}

	reply, established, err := responder.ConsumeHandshakeMessage(msg3)
	if err != nil {
		t.Fatalf("responder consume msg3: %v", err)
	}
	if !established {
		t.Fatalf("responder should be established after msg3")
	}
	if reply != nil {
		t.Fatalf("responder should not reply after msg3, got %d bytes", len(reply))
	}

	if initiator.State() != StateEstablished || responder.State() != StateEstablished {
		t.Fatalf("both sessions should be established")
	}

	initFP, err := initiator.RemoteFingerprint()
	if err != nil {
		t.Fatalf("initiator fingerprint: %v", err)
	}
	respFP, err := responder.RemoteFingerprint()
	if err != nil {
		t.Fatalf("responder fingerprint: %v", err)
	}
	if len(initFP) != 64 || len(respFP) != 64 {
		t.Fatalf("fingerprints should be 64 hex chars, got %d and %d", len(initFP), len(respFP))
	}

	plaintext := []byte("hello world")
	ct, err := initiator.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := responder.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", pt, plaintext)
	}

	reply2, err := responder.Encrypt([]byte("ack"))
	if err != nil {
		t.Fatalf("responder Encrypt: %v", err)
	}
	pt2, err := initiator.Decrypt(reply2)
	if err != nil {
		t.Fatalf("initiator Decrypt: %v", err)
	}
	if string(pt2) != "ack" {
		t.Fatalf("reverse round trip mismatch: got %q", pt2)
	}
}

func TestDecryptFailureMarksSessionFailed(t *testing.T) {
	initKey := genKeypair(t)
	respKey := genKeypair(t)

	initiator, _ := NewSession(peerID(0x01), true, initKey)
	responder, _ := NewSession(peerID(0x02), false, respKey)

	msg1, _ := initiator.StartHandshake()
	msg2, _, _ := responder.ConsumeHandshakeMessage(msg1)
	msg3, _, _ := initiator.ConsumeHandshakeMessage(msg2)
	responder.ConsumeHandshakeMessage(msg3)

	ct, _ := initiator.Encrypt([]byte("x"))
	ct[len(ct)-1] ^= 0xFF

	if _, err := responder.Decrypt(ct); err == nil {
		t.Fatalf("expected decrypt failure on tampered ciphertext")
	}
	if responder.State() != StateFailed {
		t.Fatalf("session should transition to Failed after AEAD failure, got %v", responder.State())
	}
}

func TestFingerprintStableAcrossSessions(t *testing.T) {
	// Same static keypair, two separate sessions (simulating a peer-id
	// rotation): the fingerprint must not change.
	initKey := genKeypair(t)
	respKey := genKeypair(t)

	run := func(peer protocol.PeerID) string {
		initiator, _ := NewSession(peer, true, initKey)
		responder, _ := NewSession(peerID(0xAA), false, respKey)
		msg1, _ := initiator.StartHandshake()
		msg2, _, _ := responder.ConsumeHandshakeMessage(msg1)
		msg3, _, _ := initiator.ConsumeHandshakeMessage(msg2)
		responder.ConsumeHandshakeMessage(msg3)
		fp, err := responder.RemoteFingerprint()
		if err != nil {
			t.Fatalf("RemoteFingerprint: %v", err)
		}
		return fp
	}

	fp1 := run(peerID(0x01))
	fp2 := run(peerID(0x02))
	if fp1 != fp2 {
		t.Fatalf("fingerprint changed across peer-id rotation: %s vs %s", fp1, fp2)
	}
}
