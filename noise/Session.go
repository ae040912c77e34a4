/*
File Name:  Session.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Per-peer Noise_XX_25519_ChaChaPoly_SHA256 session state machine. Grounded
on flynn/noise's HandshakeState/CipherState split (vendored copy studied
under other_examples) and the teacher's per-connection actor pattern
(Connection.go's one-mutex-per-direction discipline, generalized here
into distinct send/recv mutexes that are never held together).
*/

package noise

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	flynnnoise "github.com/flynn/noise"

	"github.com/bitchat-mesh/mesh/protocol"
)

// State is the lifecycle stage of a peer's Noise session.
type State int

const (
	StateUninitialized State = iota
	StateHandshaking
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HandshakeDeadline bounds how long a handshake may remain in progress
// before the session is considered failed.
const HandshakeDeadline = 5 * time.Second

// Message sizes fixed by the XX pattern (static key and MAC included).
const (
	Msg1Size = 32
	Msg2Size = 96
	Msg3Size = 48
)

var cipherSuite = flynnnoise.NewCipherSuite(flynnnoise.DH25519, flynnnoise.CipherChaChaPoly, flynnnoise.HashSHA256)

// ErrNotHandshaking is returned when a handshake message arrives for a
// session that is not expecting one.
var ErrNotHandshaking = errors.New("noise: session is not accepting handshake messages")

// ErrSplitBeforeCompletion is returned if the handshake library reports
// partial completion (one cipher but not the other), which should never
// happen with a well-formed XX pattern but is treated as a protocol
// violation rather than a panic.
var ErrSplitBeforeCompletion = errors.New("noise: handshake split before completion")

// Session is one peer's Noise_XX session. The handshake fields are guarded
// by mu; once Established, the send and receive ciphers are guarded by
// their own independent mutexes so that a slow outbound encrypt never
// blocks an inbound decrypt (and vice versa).
type Session struct {
	peerID    protocol.PeerID
	initiator bool

	mu       sync.Mutex
	state    State
	hs       *flynnnoise.HandshakeState
	deadline time.Time
	failErr  error

	remoteStatic  []byte
	handshakeHash []byte
	createdAt     time.Time

	sendMu   sync.Mutex
	send     *flynnnoise.CipherState
	sendMsgs uint64

	recvMu   sync.Mutex
	recv     *flynnnoise.CipherState
	recvMsgs uint64
}

// NewSession creates a session for peerID. initiator must be true exactly
// when our own peer-id is lexicographically smaller than peerID (the
// deterministic tie-break rule, see ShouldInitiate); the caller decides that, this
// constructor only builds the handshake state for the chosen role.
func NewSession(peerID protocol.PeerID, initiator bool, local flynnnoise.DHKey) (*Session, error) {
	hs, err := flynnnoise.NewHandshakeState(flynnnoise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       flynnnoise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: local,
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		peerID:    peerID,
		initiator: initiator,
		state:     StateUninitialized,
		hs:        hs,
		deadline:  time.Now().Add(HandshakeDeadline),
	}, nil
}

// ShouldInitiate applies the deterministic tie-break: the side with the
// lexicographically smaller peer-id is the Noise initiator.
func ShouldInitiate(self, peer protocol.PeerID) bool {
	for i := range self {
		if self[i] != peer[i] {
			return self[i] < peer[i]
		}
	}
	return false
}

// State returns the session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerID returns the peer-id this session is bound to.
func (s *Session) PeerID() protocol.PeerID { return s.peerID }

// Expired reports whether a handshake in progress has run past its
// deadline without completing.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateHandshaking && now.After(s.deadline)
}

// StartHandshake produces message 1 (32 bytes, the ephemeral public key).
// Only valid for the initiator role from the Uninitialized state.
func (s *Session) StartHandshake() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initiator || s.state != StateUninitialized {
		return nil, ErrNotHandshaking
	}

	msg, cs1, cs2, err := s.hs.WriteMessage(nil, nil)
	if err != nil {
		s.failLocked(err)
		return nil, err
	}
	if cs1 != nil || cs2 != nil {
		err := ErrSplitBeforeCompletion
		s.failLocked(err)
		return nil, err
	}

	s.state = StateHandshaking
	return msg, nil
}

// ConsumeHandshakeMessage processes one inbound handshake message. It
// returns a reply to send back (nil if none is needed) and whether the
// session reached Established as a result.
func (s *Session) ConsumeHandshakeMessage(msg []byte) (reply []byte, established bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEstablished || s.state == StateFailed {
		return nil, false, ErrNotHandshaking
	}

	_, cs1, cs2, err := s.hs.ReadMessage(nil, msg)
	if err != nil {
		s.failLocked(err)
		return nil, false, err
	}

	if cs1 != nil && cs2 != nil {
		if err := s.completeLocked(cs1, cs2); err != nil {
			s.failLocked(err)
			return nil, false, err
		}
		return nil, true, nil
	}

	// Responder's turn: pair the read with an immediate write (msg2).
	reply, cs1, cs2, err = s.hs.WriteMessage(nil, nil)
	if err != nil {
		s.failLocked(err)
		return nil, false, err
	}

	if cs1 != nil && cs2 != nil {
		if err := s.completeLocked(cs1, cs2); err != nil {
			s.failLocked(err)
			return nil, false, err
		}
		return reply, true, nil
	}

	s.state = StateHandshaking
	return reply, false, nil
}

func (s *Session) completeLocked(cs1, cs2 *flynnnoise.CipherState) error {
	remoteStatic := s.hs.PeerStatic()
	if len(remoteStatic) == 0 {
		return errors.New("noise: handshake completed without a remote static key")
	}

	s.remoteStatic = append([]byte(nil), remoteStatic...)
	s.handshakeHash = append([]byte(nil), s.hs.ChannelBinding()...)
	s.createdAt = time.Now()
	s.hs = nil

	// split() convention: cs1 encrypts initiator->responder, cs2 the
	// reverse.
	if s.initiator {
		s.send, s.recv = cs1, cs2
	} else {
		s.send, s.recv = cs2, cs1
	}

	s.state = StateEstablished
	return nil
}

func (s *Session) failLocked(reason error) {
	s.state = StateFailed
	s.failErr = reason
	s.hs = nil
}

// FailureReason returns why a Failed session failed, or nil.
func (s *Session) FailureReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failErr
}

// RemoteFingerprint returns hex(SHA-256(remote static public key)), the
// stable identity used by the peer directory and favorites/blocklists.
func (s *Session) RemoteFingerprint() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEstablished {
		return "", errors.New("noise: session not established")
	}
	return FingerprintOf(s.remoteStatic), nil
}

// FingerprintOf returns hex(SHA-256(pub)) for a raw Curve25519 public
// key, the same derivation a completed handshake uses internally.
func FingerprintOf(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// HandshakeHash returns the channel-binding hash of the completed
// handshake.
func (s *Session) HandshakeHash() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.handshakeHash...)
}

// Encrypt appends a 16-byte AEAD tag to plaintext and advances the
// send-side counter. Independent of Decrypt's mutex by design: the two
// directions never block each other.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.send == nil {
		return nil, errors.New("noise: session not established")
	}

	out, err := s.send.Encrypt(nil, nil, plaintext)
	if err != nil {
		return nil, err
	}
	s.sendMsgs++
	return out, nil
}

// Decrypt strips and verifies the AEAD tag, advancing the receive-side
// counter.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	if s.recv == nil {
		return nil, errors.New("noise: session not established")
	}

	out, err := s.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		s.mu.Lock()
		s.failLocked(err)
		s.mu.Unlock()
		return nil, err
	}
	s.recvMsgs++
	return out, nil
}

// MessageCounts returns the independent send/recv message counters.
func (s *Session) MessageCounts() (sent, recv uint64) {
	s.sendMu.Lock()
	sent = s.sendMsgs
	s.sendMu.Unlock()
	s.recvMu.Lock()
	recv = s.recvMsgs
	s.recvMu.Unlock()
	return
}

// Age returns how long ago the session reached Established.
func (s *Session) Age() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createdAt.IsZero() {
		return 0
	}
	return time.Since(s.createdAt)
}

// IsInitiator reports whether this session initiated the handshake.
func (s *Session) IsInitiator() bool { return s.initiator }
