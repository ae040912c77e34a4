package noise

import (
	"sync"
	"testing"
	"time"

	"github.com/bitchat-mesh/mesh/protocol"
)

type recordingDelegate struct {
	mu                sync.Mutex
	registered        map[protocol.PeerID]string
	handshakeRequired []protocol.PeerID
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{registered: make(map[protocol.PeerID]string)}
}

func (d *recordingDelegate) RegisterFingerprint(peerID protocol.PeerID, fingerprint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registered[peerID] = fingerprint
}

func (d *recordingDelegate) HandshakeRequired(peerID protocol.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handshakeRequired = append(d.handshakeRequired, peerID)
}

func TestManagerHandshakeRoundTrip(t *testing.T) {
	small := peerID(0x01)
	large := peerID(0xff)

	delegA := newRecordingDelegate()
	delegB := newRecordingDelegate()

	mgrLarge := NewManager(large, genKeypair(t), DefaultConfig(), delegA)
	mgrSmall := NewManager(small, genKeypair(t), DefaultConfig(), delegB)

	// large is not the initiator for small; only small->large direction
	// is permitted to call InitiateHandshake.
	if _, err := mgrLarge.InitiateHandshake(small); err != ErrNotInitiator {
		t.Fatalf("expected ErrNotInitiator, got %v", err)
	}

	msg1, err := mgrSmall.InitiateHandshake(large)
	if err != nil {
		t.Fatalf("InitiateHandshake: %v", err)
	}

	msg2, err := mgrLarge.HandleHandshakeMessage(small, msg1)
	if err != nil {
		t.Fatalf("large HandleHandshakeMessage(msg1): %v", err)
	}

	msg3, err := mgrSmall.HandleHandshakeMessage(large, msg2)
	if err != nil {
		t.Fatalf("small HandleHandshakeMessage(msg2): %v", err)
	}

	if _, err := mgrLarge.HandleHandshakeMessage(small, msg3); err != nil {
		t.Fatalf("large HandleHandshakeMessage(msg3): %v", err)
	}

	sessSmall, ok := mgrSmall.Session(large)
	if !ok || sessSmall.State() != StateEstablished {
		t.Fatalf("small's session with large should be established")
	}
	sessLarge, ok := mgrLarge.Session(small)
	if !ok || sessLarge.State() != StateEstablished {
		t.Fatalf("large's session with small should be established")
	}

	delegA.mu.Lock()
	_, gotA := delegA.registered[small]
	delegA.mu.Unlock()
	if !gotA {
		t.Fatalf("large's delegate should have been told small's fingerprint")
	}

	delegB.mu.Lock()
	_, gotB := delegB.registered[large]
	delegB.mu.Unlock()
	if !gotB {
		t.Fatalf("small's delegate should have been told large's fingerprint")
	}
}

func TestManagerSendQueuesDuringHandshake(t *testing.T) {
	small := peerID(0x01)
	large := peerID(0xff)
	deleg := newRecordingDelegate()
	mgr := NewManager(small, genKeypair(t), DefaultConfig(), deleg)

	if _, err := mgr.Send(large, []byte("queued")); err != ErrHandshakeInProgress {
		t.Fatalf("expected ErrHandshakeInProgress, got %v", err)
	}
}

func TestManagerNeedsRekeyOnMessageCount(t *testing.T) {
	small := peerID(0x01)
	large := peerID(0xff)
	delegA := newRecordingDelegate()
	delegB := newRecordingDelegate()

	cfg := Config{RekeyAge: time.Hour, RekeyMessagesInitiator: 2, RekeyMessagesResponder: 2}
	mgrSmall := NewManager(small, genKeypair(t), cfg, delegA)
	mgrLarge := NewManager(large, genKeypair(t), cfg, delegB)

	msg1, _ := mgrSmall.InitiateHandshake(large)
	msg2, _ := mgrLarge.HandleHandshakeMessage(small, msg1)
	msg3, _ := mgrSmall.HandleHandshakeMessage(large, msg2)
	mgrLarge.HandleHandshakeMessage(small, msg3)

	for i := 0; i < 3; i++ {
		if _, err := mgrSmall.Send(large, []byte("x")); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	if !mgrSmall.NeedsRekey(large) {
		t.Fatalf("expected rekey to be needed after exceeding threshold")
	}
}

func TestManagerRekeyDestroysOldSession(t *testing.T) {
	small := peerID(0x01)
	large := peerID(0xff)
	delegA := newRecordingDelegate()
	delegB := newRecordingDelegate()

	mgrSmall := NewManager(small, genKeypair(t), DefaultConfig(), delegA)
	mgrLarge := NewManager(large, genKeypair(t), DefaultConfig(), delegB)

	msg1, _ := mgrSmall.InitiateHandshake(large)
	msg2, _ := mgrLarge.HandleHandshakeMessage(small, msg1)
	msg3, _ := mgrSmall.HandleHandshakeMessage(large, msg2)
	mgrLarge.HandleHandshakeMessage(small, msg3)

	if _, ok := mgrSmall.Session(large); !ok {
		t.Fatalf("expected a session before rekey")
	}

	newMsg1, err := mgrSmall.Rekey(large)
	if err != nil {
		t.Fatalf("Rekey: %v", err)
	}
	if newMsg1 == nil {
		t.Fatalf("expected initiator side to produce a new msg1 on rekey")
	}

	sess, ok := mgrSmall.Session(large)
	if !ok {
		t.Fatalf("expected a fresh session after rekey")
	}
	if sess.State() != StateHandshaking {
		t.Fatalf("fresh session should be handshaking, got %v", sess.State())
	}
}
