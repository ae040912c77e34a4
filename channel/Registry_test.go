package channel

import (
	"testing"

	"github.com/bitchat-mesh/mesh/protocol"
)

func TestRegistryAnnounceAndCommitment(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Commitment("#general"); ok {
		t.Fatalf("unannounced channel should have no commitment")
	}

	var creator protocol.PeerID
	creator[0] = 0x01
	r.Announce("#general", creator, true)

	info, ok := r.Lookup("#general")
	if !ok || !info.HasCreator || info.Creator != creator || !info.PasswordProtected {
		t.Fatalf("got info=%+v ok=%v", info, ok)
	}

	var commitment [32]byte
	commitment[0] = 0xFF
	r.SetCommitment("#general", commitment)

	got, ok := r.Commitment("#general")
	if !ok || got != commitment {
		t.Fatalf("commitment not recorded: got=%v ok=%v", got, ok)
	}

	r.SetRetention("#general", 3600)
	info, _ = r.Lookup("#general")
	if info.RetentionSeconds != 3600 {
		t.Fatalf("retention not recorded: got %d", info.RetentionSeconds)
	}
}

func TestRegistrySetCommitmentImpliesPasswordProtected(t *testing.T) {
	r := NewRegistry()
	var commitment [32]byte
	r.SetCommitment("#secret", commitment)

	info, ok := r.Lookup("#secret")
	if !ok || !info.PasswordProtected {
		t.Fatalf("SetCommitment should mark the channel password protected")
	}
}
