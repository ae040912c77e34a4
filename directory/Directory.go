/*
File Name:  Directory.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Peer-id <-> fingerprint directory (L5). Grounded on the teacher's peer
table pattern (a mutex-guarded map looked up by a volatile network
address, generalized here to the mesh's volatile 8-byte peer-id) with
fingerprint-indexed favorites and blocklists added so identity survives
the address's own rotation.
*/

package directory

import (
	"sync"
	"time"

	"github.com/bitchat-mesh/mesh/protocol"
)

// Peer is one entry in the directory: a peer-id currently bound to a
// stable fingerprint, plus the bits of state that travel with the
// peer-id rather than the fingerprint.
type Peer struct {
	PeerID      protocol.PeerID
	Fingerprint string
	Nickname    string
	LastSeen    time.Time
	LinkQuality int
}

// Directory maintains the two maps described by the peer-id/fingerprint
// model: peer-id -> fingerprint and fingerprint -> current peer-id.
type Directory struct {
	mu sync.RWMutex

	byPeerID    map[protocol.PeerID]*Peer
	peerIDForFP map[string]protocol.PeerID
	favorites   map[string]bool
	blocked     map[string]bool
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		byPeerID:    make(map[protocol.PeerID]*Peer),
		peerIDForFP: make(map[string]protocol.PeerID),
		favorites:   make(map[string]bool),
		blocked:     make(map[string]bool),
	}
}

// Bind records that peerID is currently associated with fingerprint,
// e.g. after a Noise handshake completes or a NOISE_IDENTITY_ANNOUNCE is
// received.
func (d *Directory) Bind(peerID protocol.PeerID, fingerprint string, now time.Time) *Peer {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byPeerID[peerID]
	if !ok {
		p = &Peer{PeerID: peerID}
		d.byPeerID[peerID] = p
	}
	p.Fingerprint = fingerprint
	p.LastSeen = now

	d.peerIDForFP[fingerprint] = peerID
	return p
}

// UpdateNickname sets the nickname most recently announced for peerID.
func (d *Directory) UpdateNickname(peerID protocol.PeerID, nickname string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.byPeerID[peerID]; ok {
		p.Nickname = nickname
	}
}

// Seen records an ANNOUNCE from peerID: the entry is created on first
// sight (fingerprint unknown until a handshake or identity announce
// binds one) and refreshed on every later announce so the quiet-timeout
// eviction sweep does not reap a still-reachable peer.
func (d *Directory) Seen(peerID protocol.PeerID, nickname string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byPeerID[peerID]
	if !ok {
		p = &Peer{PeerID: peerID}
		d.byPeerID[peerID] = p
	}
	if nickname != "" {
		p.Nickname = nickname
	}
	p.LastSeen = now
}

// UpdateLinkQuality records the most recent signal-quality indicator
// observed for peerID (e.g. RSSI).
func (d *Directory) UpdateLinkQuality(peerID protocol.PeerID, quality int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.byPeerID[peerID]; ok {
		p.LinkQuality = quality
	}
}

// Lookup returns the directory entry for peerID, if any.
func (d *Directory) Lookup(peerID protocol.PeerID) (*Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byPeerID[peerID]
	return p, ok
}

// PeerIDFor returns the current peer-id bound to fingerprint, if the
// fingerprint is currently reachable.
func (d *Directory) PeerIDFor(fingerprint string) (protocol.PeerID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.peerIDForFP[fingerprint]
	return id, ok
}

// Forget removes peerID from the directory, e.g. on disconnect or
// eviction. The fingerprint -> peer-id mapping is cleared only if it
// still points at this peer-id, so a fresher binding (from a rotation
// that already completed) is never clobbered by a stale disconnect.
func (d *Directory) Forget(peerID protocol.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byPeerID[peerID]
	if !ok {
		return
	}
	delete(d.byPeerID, peerID)

	if current, ok := d.peerIDForFP[p.Fingerprint]; ok && current == peerID {
		delete(d.peerIDForFP, p.Fingerprint)
	}
}

// SetFavorite marks or unmarks fingerprint as a favorite. Favorites are
// indexed by fingerprint so they survive peer-id rotation.
func (d *Directory) SetFavorite(fingerprint string, favorite bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if favorite {
		d.favorites[fingerprint] = true
	} else {
		delete(d.favorites, fingerprint)
	}
}

// IsFavorite reports whether fingerprint is marked as a favorite.
func (d *Directory) IsFavorite(fingerprint string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.favorites[fingerprint]
}

// SetBlocked marks or unmarks fingerprint as blocked.
func (d *Directory) SetBlocked(fingerprint string, blocked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if blocked {
		d.blocked[fingerprint] = true
	} else {
		delete(d.blocked, fingerprint)
	}
}

// IsBlocked reports whether fingerprint is currently blocked.
func (d *Directory) IsBlocked(fingerprint string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.blocked[fingerprint]
}

// Snapshot returns every currently known peer, for UI listing ("who").
func (d *Directory) Snapshot() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, 0, len(d.byPeerID))
	for _, p := range d.byPeerID {
		out = append(out, *p)
	}
	return out
}

// EvictStale removes and returns every peer not seen within quiet,
// relative to now. The fingerprint->peer-id mapping is cleared the same
// way Forget does: only if it still points at the evicted peer-id.
func (d *Directory) EvictStale(now time.Time, quiet time.Duration) []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()

	var evicted []Peer
	for id, p := range d.byPeerID {
		if now.Sub(p.LastSeen) < quiet {
			continue
		}
		evicted = append(evicted, *p)
		delete(d.byPeerID, id)
		if current, ok := d.peerIDForFP[p.Fingerprint]; ok && current == id {
			delete(d.peerIDForFP, p.Fingerprint)
		}
	}
	return evicted
}
