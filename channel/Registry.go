/*
File Name:  Registry.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Local record of what this node has learned about each channel from the
wire: who created it, whether it takes a password, the commitment to
verify a derived key against, and its advertised retention window.
Grounded on the directory package's mutex-guarded map-by-key shape,
applied here to channel tags instead of peer-ids.
*/

package channel

import (
	"sync"

	"github.com/bitchat-mesh/mesh/protocol"
)

// Info is everything locally known about one channel tag.
type Info struct {
	Tag               string
	Creator           protocol.PeerID
	HasCreator        bool
	PasswordProtected bool
	RetentionSeconds  uint32
	Commitment        [32]byte
	HasCommitment     bool
}

// Registry tracks locally known channels, populated by CHANNEL_ANNOUNCE,
// CHANNEL_RETENTION, CHANNEL_METADATA, CHANNEL_KEY_VERIFY_RESPONSE, and
// CHANNEL_PASSWORD_UPDATE traffic.
type Registry struct {
	mu    sync.Mutex
	byTag map[string]*Info
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTag: make(map[string]*Info)}
}

func (r *Registry) entryLocked(tag string) *Info {
	e, ok := r.byTag[tag]
	if !ok {
		e = &Info{Tag: tag}
		r.byTag[tag] = e
	}
	return e
}

// Announce records a CHANNEL_ANNOUNCE for tag.
func (r *Registry) Announce(tag string, creator protocol.PeerID, passwordProtected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(tag)
	e.Creator = creator
	e.HasCreator = true
	e.PasswordProtected = passwordProtected
}

// SetRetention records a CHANNEL_RETENTION announcement for tag.
func (r *Registry) SetRetention(tag string, seconds uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entryLocked(tag).RetentionSeconds = seconds
}

// SetCommitment records the key commitment advertised for tag, via
// CHANNEL_METADATA, CHANNEL_KEY_VERIFY_RESPONSE, or
// CHANNEL_PASSWORD_UPDATE (the latter overwriting a prior commitment on
// a password rotation).
func (r *Registry) SetCommitment(tag string, commitment [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(tag)
	e.Commitment = commitment
	e.HasCommitment = true
	e.PasswordProtected = true
}

// Commitment returns the known commitment for tag, if any has been
// advertised yet.
func (r *Registry) Commitment(tag string) ([32]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byTag[tag]
	if !ok || !e.HasCommitment {
		return [32]byte{}, false
	}
	return e.Commitment, true
}

// Lookup returns what is known about tag.
func (r *Registry) Lookup(tag string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byTag[tag]
	if !ok {
		return Info{}, false
	}
	return *e, true
}
