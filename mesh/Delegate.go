/*
File Name:  Delegate.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Application callback surface, in the shape of the teacher's Filters
struct: a plain struct of optional function fields rather than an
interface, so the application only has to implement the callbacks it
cares about and every call site nil-checks before invoking.
*/

package mesh

import (
	"time"

	"github.com/bitchat-mesh/mesh/chat"
	"github.com/bitchat-mesh/mesh/protocol"
)

// Delegate is the event surface published to the application.
type Delegate struct {
	OnMessage      func(m *chat.Message)
	OnConnect      func(peerID protocol.PeerID)
	OnDisconnect   func(peerID protocol.PeerID)
	OnPeerList     func(ids []protocol.PeerID)
	OnChannelLeave func(channel string, peerID protocol.PeerID)
	OnDeliveryAck  func(messageID string, by protocol.PeerID, at time.Time)
	OnReadReceipt  func(messageID string, by protocol.PeerID, at time.Time)

	// OnDeliveryStatusRequest is called when a peer asks for the current
	// status of a message we sent; the application answers by replaying
	// a DeliveryAck or ReadReceipt from its own records via Service.
	OnDeliveryStatusRequest func(messageID string, from protocol.PeerID)

	// DecryptChannelMessage attempts to decrypt ciphertext for channel
	// using whatever password-derived key the application holds for it.
	// Returns ok=false if no key is known or decryption failed.
	DecryptChannelMessage func(ciphertext []byte, channel string) (plaintext []byte, ok bool)

	// GetNickname returns the application's current display name, or ""
	// if unset.
	GetNickname func() string

	// IsFavorite reports whether fingerprint is one of the application's
	// favorites.
	IsFavorite func(fingerprint string) bool
}

func (d Delegate) emitMessage(m *chat.Message) {
	if d.OnMessage != nil {
		d.OnMessage(m)
	}
}

func (d Delegate) emitConnect(peerID protocol.PeerID) {
	if d.OnConnect != nil {
		d.OnConnect(peerID)
	}
}

func (d Delegate) emitDisconnect(peerID protocol.PeerID) {
	if d.OnDisconnect != nil {
		d.OnDisconnect(peerID)
	}
}

func (d Delegate) emitPeerList(ids []protocol.PeerID) {
	if d.OnPeerList != nil {
		d.OnPeerList(ids)
	}
}

func (d Delegate) emitChannelLeave(channel string, peerID protocol.PeerID) {
	if d.OnChannelLeave != nil {
		d.OnChannelLeave(channel, peerID)
	}
}

func (d Delegate) nickname() string {
	if d.GetNickname != nil {
		return d.GetNickname()
	}
	return ""
}

func (d Delegate) isFavorite(fingerprint string) bool {
	if d.IsFavorite != nil {
		return d.IsFavorite(fingerprint)
	}
	return false
}
