package identity

import (
	"testing"
	"time"

	"github.com/bitchat-mesh/mesh/store"
)

func TestLoadGeneratesAndPersistsKeypair(t *testing.T) {
	s := store.NewMemoryStore()

	id1, err := Load(s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(id1.Static.Private) == 0 || len(id1.Static.Public) == 0 {
		t.Fatalf("expected a generated keypair")
	}
	if len(id1.Fingerprint) != 64 {
		t.Fatalf("fingerprint should be 64 hex chars, got %d", len(id1.Fingerprint))
	}

	id2, err := Load(s)
	if err != nil {
		t.Fatalf("Load again: %v", err)
	}
	if id1.Fingerprint != id2.Fingerprint {
		t.Fatalf("reloading from the same store should yield the same fingerprint")
	}
}

func TestFingerprintStableAcrossPeerIDRotation(t *testing.T) {
	s := store.NewMemoryStore()
	id, err := Load(s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	fp := id.Fingerprint
	before := id.PeerID

	if err := id.MarkRotationCompleted(time.Now()); err != nil {
		t.Fatalf("MarkRotationCompleted: %v", err)
	}

	if id.Fingerprint != fp {
		t.Fatalf("fingerprint changed after peer-id rotation")
	}
	if id.PeerID == before {
		t.Fatalf("expected a new peer-id after rotation")
	}
}

func TestShouldRotatePeerID(t *testing.T) {
	s := store.NewMemoryStore()
	id, err := Load(s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	id.MarkRotationCompleted(time.Now().Add(-RotationMax - time.Minute))
	if !id.ShouldRotatePeerID(time.Now()) {
		t.Fatalf("expected rotation due after next interval elapsed")
	}

	id.MarkRotationCompleted(time.Now())
	if id.ShouldRotatePeerID(time.Now()) {
		t.Fatalf("should not be due for rotation immediately after one completed")
	}
}
