/*
File Name:  Manager.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Per-peer session table for the Noise_XX layer: creates sessions on
demand, routes inbound handshake messages to the right one, and decides
when a session has aged or transmitted enough to warrant a rekey. Grounded
on the teacher's connection table (one entry per remote peer, looked up
by id, torn down and rebuilt rather than mutated in place on a fault).
*/

package noise

import (
	"errors"
	"sync"
	"time"

	flynnnoise "github.com/flynn/noise"

	"github.com/bitchat-mesh/mesh/protocol"
)

// Config carries the rekey thresholds. Only one of the message-count
// thresholds applies to a given session, chosen by its initiator role.
type Config struct {
	RekeyAge               time.Duration
	RekeyMessagesInitiator uint64
	RekeyMessagesResponder uint64
}

// DefaultConfig returns the spec-mandated rekey thresholds.
func DefaultConfig() Config {
	return Config{
		RekeyAge:               time.Hour,
		RekeyMessagesInitiator: 1000,
		RekeyMessagesResponder: 10000,
	}
}

// Delegate receives session lifecycle events the manager cannot act on
// by itself.
type Delegate interface {
	// RegisterFingerprint is called once a handshake establishes, so the
	// peer directory can bind peerID to the newly observed fingerprint.
	RegisterFingerprint(peerID protocol.PeerID, fingerprint string)

	// HandshakeRequired is called when an inbound handshake message fails,
	// when a handshake passes its deadline, or when a rekey is due and we
	// are not the initiating side, so the application can emit a
	// HANDSHAKE_REQUEST.
	HandshakeRequired(peerID protocol.PeerID)
}

// ErrNotInitiator is returned by InitiateHandshake when the tie-break
// rule assigns the initiator role to the remote peer instead.
var ErrNotInitiator = errors.New("noise: local peer is not the initiator for this peer-id")

// ErrHandshakeInProgress is returned by Send when no established cipher
// is yet available; the plaintext is queued instead.
var ErrHandshakeInProgress = errors.New("noise: handshake in progress, message queued")

// Manager owns every peer's Noise session and the local static keypair.
type Manager struct {
	self  protocol.PeerID
	local flynnnoise.DHKey
	cfg   Config
	deleg Delegate

	mu       sync.Mutex
	sessions map[protocol.PeerID]*Session
	pending  map[protocol.PeerID][][]byte
}

// NewManager creates a Manager for the local peer-id and static keypair.
func NewManager(self protocol.PeerID, local flynnnoise.DHKey, cfg Config, delegate Delegate) *Manager {
	if cfg.RekeyAge == 0 {
		cfg = DefaultConfig()
	}
	return &Manager{
		self:     self,
		local:    local,
		cfg:      cfg,
		deleg:    delegate,
		sessions: make(map[protocol.PeerID]*Session),
		pending:  make(map[protocol.PeerID][][]byte),
	}
}

// SetSelf updates the local peer-id after a rotation. Existing sessions
// are unaffected: the static keypair, not the peer-id, anchors them.
func (m *Manager) SetSelf(id protocol.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self = id
}

// Session returns the current session for peer, if any.
func (m *Manager) Session(peer protocol.PeerID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peer]
	return s, ok
}

// InitiateHandshake starts a new session with peer and returns message 1.
// Per the tie-break rule only the lexicographically smaller peer-id may
// call this; the other side waits for msg1 to arrive.
func (m *Manager) InitiateHandshake(peer protocol.PeerID) ([]byte, error) {
	m.mu.Lock()
	self := m.self
	local := m.local
	m.mu.Unlock()

	if !ShouldInitiate(self, peer) {
		return nil, ErrNotInitiator
	}

	sess, err := NewSession(peer, true, local)
	if err != nil {
		return nil, err
	}

	msg, err := sess.StartHandshake()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[peer] = sess
	m.mu.Unlock()

	return msg, nil
}

// HandleHandshakeMessage processes an inbound handshake message from
// peer, creating a responder session on demand. The returned reply (nil
// if none) must be sent back to peer over the same link.
func (m *Manager) HandleHandshakeMessage(peer protocol.PeerID, msg []byte) ([]byte, error) {
	m.mu.Lock()
	sess, ok := m.sessions[peer]
	local := m.local
	m.mu.Unlock()

	if !ok {
		var err error
		sess, err = NewSession(peer, false, local)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.sessions[peer] = sess
		m.mu.Unlock()
	}

	reply, established, err := sess.ConsumeHandshakeMessage(msg)
	if err != nil {
		m.deleg.HandshakeRequired(peer)
		return nil, err
	}

	if established {
		m.onEstablished(peer, sess)
	}

	return reply, nil
}

func (m *Manager) onEstablished(peer protocol.PeerID, sess *Session) {
	fp, err := sess.RemoteFingerprint()
	if err == nil {
		m.deleg.RegisterFingerprint(peer, fp)
	}
}

// Send encrypts plaintext for peer if a session is established. If not,
// the plaintext is queued (retained across a rekey) and
// ErrHandshakeInProgress is returned so the caller can trigger a
// handshake if it hasn't already.
func (m *Manager) Send(peer protocol.PeerID, plaintext []byte) ([]byte, error) {
	m.mu.Lock()
	sess, ok := m.sessions[peer]
	m.mu.Unlock()

	if ok && sess.State() == StateEstablished {
		return sess.Encrypt(plaintext)
	}

	m.mu.Lock()
	m.pending[peer] = append(m.pending[peer], append([]byte(nil), plaintext...))
	m.mu.Unlock()

	return nil, ErrHandshakeInProgress
}

// DrainPending returns and clears the plaintext queued for peer while its
// session was not yet established, encrypting each message with the now-
// established cipher. Call only after a session has reached Established.
func (m *Manager) DrainPending(peer protocol.PeerID) ([][]byte, error) {
	m.mu.Lock()
	sess, ok := m.sessions[peer]
	queued := m.pending[peer]
	delete(m.pending, peer)
	m.mu.Unlock()

	if !ok || sess.State() != StateEstablished {
		return nil, errors.New("noise: session not established")
	}

	out := make([][]byte, 0, len(queued))
	for _, plaintext := range queued {
		ct, err := sess.Encrypt(plaintext)
		if err != nil {
			return out, err
		}
		out = append(out, ct)
	}
	return out, nil
}

// Decrypt decrypts an inbound transport message from peer's established
// session.
func (m *Manager) Decrypt(peer protocol.PeerID, ciphertext []byte) ([]byte, error) {
	m.mu.Lock()
	sess, ok := m.sessions[peer]
	m.mu.Unlock()

	if !ok {
		return nil, errors.New("noise: no session for peer")
	}
	return sess.Decrypt(ciphertext)
}

// NeedsRekey reports whether peer's session has aged or transmitted past
// its role-specific threshold.
func (m *Manager) NeedsRekey(peer protocol.PeerID) bool {
	m.mu.Lock()
	sess, ok := m.sessions[peer]
	m.mu.Unlock()

	if !ok || sess.State() != StateEstablished {
		return false
	}

	if sess.Age() > m.cfg.RekeyAge {
		return true
	}

	sent, recv := sess.MessageCounts()
	total := sent + recv

	threshold := m.cfg.RekeyMessagesResponder
	if sess.IsInitiator() {
		threshold = m.cfg.RekeyMessagesInitiator
	}
	return total > threshold
}

// Rekey destroys peer's current session (retaining any still-queued
// plaintext) and, if the tie-break assigns us the initiator role,
// immediately starts a new handshake and returns its first message.
// Otherwise it signals the delegate so the peer can be asked to rekey.
func (m *Manager) Rekey(peer protocol.PeerID) ([]byte, error) {
	m.mu.Lock()
	delete(m.sessions, peer)
	self := m.self
	m.mu.Unlock()

	if !ShouldInitiate(self, peer) {
		m.deleg.HandshakeRequired(peer)
		return nil, nil
	}

	return m.InitiateHandshake(peer)
}

// Drop discards peer's session outright, e.g. on disconnect. Queued
// plaintext is discarded with it.
func (m *Manager) Drop(peer protocol.PeerID) {
	m.mu.Lock()
	delete(m.sessions, peer)
	delete(m.pending, peer)
	m.mu.Unlock()
}

// PurgeExpiredHandshakes fails any session whose handshake has run past
// its deadline without completing.
func (m *Manager) PurgeExpiredHandshakes(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for peer, sess := range m.sessions {
		if sess.Expired(now) {
			delete(m.sessions, peer)
			m.deleg.HandshakeRequired(peer)
		}
	}
}
