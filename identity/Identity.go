/*
File Name:  Identity.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Persistent local identity: the static Curve25519 keypair that anchors
the Noise session manager and its derived fingerprint, plus the 8-byte
peer-id rotation schedule. Grounded on the teacher's profile data layer
(key/value pairs backed by store.Store) generalized from its original
torrent/DHT profile fields to the keys this mesh needs.
*/

package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	mathrand "math/rand"
	"time"

	flynnnoise "github.com/flynn/noise"

	"github.com/bitchat-mesh/mesh/protocol"
	"github.com/bitchat-mesh/mesh/store"
)

// Persistent key names, namespaced the way the teacher's profile store
// namespaces its settings.
const (
	keyStaticPriv   = "identity.static_priv"
	keyStaticPub    = "identity.static_pub"
	keyLastRotation = "identity.last_rotation_ms"
	keyNextInterval = "identity.next_interval_ms"
)

// RotationMin and RotationMax bound the randomized peer-id rotation
// interval.
const (
	RotationMin = 5 * time.Minute
	RotationMax = 15 * time.Minute
)

// Identity holds the local static keypair and the peer-id rotation
// schedule, persisted in s.
type Identity struct {
	store store.Store

	Static       flynnnoise.DHKey
	Fingerprint  string
	PeerID       protocol.PeerID
	lastRotation time.Time
	nextInterval time.Duration
}

// Load reads a persisted identity from s, generating and saving a fresh
// Curve25519 keypair if none exists yet.
func Load(s store.Store) (*Identity, error) {
	id := &Identity{store: s}

	privB64, hasPriv := s.Get([]byte(keyStaticPriv))
	pubB64, hasPub := s.Get([]byte(keyStaticPub))

	if hasPriv && hasPub {
		priv, err := base64.StdEncoding.DecodeString(string(privB64))
		if err != nil {
			return nil, err
		}
		pub, err := base64.StdEncoding.DecodeString(string(pubB64))
		if err != nil {
			return nil, err
		}
		id.Static = flynnnoise.DHKey{Private: priv, Public: pub}
	} else {
		kp, err := flynnnoise.DH25519.GenerateKeypair(rand.Reader)
		if err != nil {
			return nil, err
		}
		id.Static = kp
		if err := id.save(); err != nil {
			return nil, err
		}
	}

	id.Fingerprint = fingerprintOf(id.Static.Public)
	id.PeerID = randomPeerID()

	if raw, ok := s.Get([]byte(keyLastRotation)); ok {
		id.lastRotation = time.UnixMilli(int64(binary.BigEndian.Uint64(raw)))
	} else {
		id.lastRotation = time.Now()
	}
	if raw, ok := s.Get([]byte(keyNextInterval)); ok {
		id.nextInterval = time.Duration(binary.BigEndian.Uint64(raw))
	} else {
		id.nextInterval = randomInterval()
	}
	if err := id.persistRotationSchedule(); err != nil {
		return nil, err
	}

	return id, nil
}

func (id *Identity) save() error {
	if err := id.store.Set([]byte(keyStaticPriv), []byte(base64.StdEncoding.EncodeToString(id.Static.Private))); err != nil {
		return err
	}
	return id.store.Set([]byte(keyStaticPub), []byte(base64.StdEncoding.EncodeToString(id.Static.Public)))
}

func (id *Identity) persistRotationSchedule() error {
	var lastBuf [8]byte
	binary.BigEndian.PutUint64(lastBuf[:], uint64(id.lastRotation.UnixMilli()))
	if err := id.store.Set([]byte(keyLastRotation), lastBuf[:]); err != nil {
		return err
	}
	var nextBuf [8]byte
	binary.BigEndian.PutUint64(nextBuf[:], uint64(id.nextInterval))
	return id.store.Set([]byte(keyNextInterval), nextBuf[:])
}

// fingerprintOf returns hex(SHA-256(pub)), the stable identity referenced
// by the peer directory, favorites, and blocklists.
func fingerprintOf(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// ShouldRotatePeerID reports whether enough time has elapsed since the
// last rotation that a fresh peer-id should be generated.
func (id *Identity) ShouldRotatePeerID(now time.Time) bool {
	return now.Sub(id.lastRotation) >= id.nextInterval
}

// MarkRotationCompleted records that a peer-id rotation just happened,
// assigns the new random peer-id, and schedules the next rotation at a
// fresh random interval in [RotationMin, RotationMax].
func (id *Identity) MarkRotationCompleted(now time.Time) error {
	id.PeerID = randomPeerID()
	id.lastRotation = now
	id.nextInterval = randomInterval()
	return id.persistRotationSchedule()
}

func randomInterval() time.Duration {
	span := int64(RotationMax - RotationMin)
	return RotationMin + time.Duration(mathrand.Int63n(span+1))
}

func randomPeerID() protocol.PeerID {
	var id protocol.PeerID
	if _, err := rand.Read(id[:]); err != nil {
		panic(errors.New("identity: failed to read random peer-id: " + err.Error()))
	}
	return id
}
