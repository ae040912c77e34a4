/*
File Name:  Message.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Chat message record and delivery status (L8). Grounded on the teacher's
flat-struct-with-discriminant pattern (e.g. blockchain status records
with a numeric Kind field plus payload fields) generalized here into a
DeliveryStatus sum type, since idiomatic Go has no tagged unions.
*/

package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/bitchat-mesh/mesh/protocol"
)

// StatusKind discriminates the variant held by a DeliveryStatus.
type StatusKind int

const (
	StatusSending StatusKind = iota
	StatusSent
	StatusDelivered
	StatusRead
	StatusFailed
	StatusPartiallyDelivered
)

// DeliveryStatus is a tagged union over a message's delivery lifecycle.
// Only the fields relevant to Kind are meaningful.
type DeliveryStatus struct {
	Kind StatusKind

	// Delivered / Read
	By protocol.PeerID
	At time.Time

	// PartiallyDelivered
	N, M int
}

// Message is one chat message, public or private, as retained by the
// application layer.
type Message struct {
	ID             string
	SenderName     string
	SenderPeerID   protocol.PeerID
	HasSenderPeer  bool
	Timestamp      time.Time
	Content        string
	Mentions       []string
	Channel        string
	HasChannel     bool
	Private        bool
	Relay          bool
	Encrypted      bool
	DeliveryStatus DeliveryStatus
}

// NewMessage creates an outbound message with a fresh id and Sending
// status.
func NewMessage(senderName, content string) *Message {
	return &Message{
		ID:             uuid.NewString(),
		SenderName:     senderName,
		Timestamp:      time.Now(),
		Content:        content,
		DeliveryStatus: DeliveryStatus{Kind: StatusSending},
	}
}

// MarkSent transitions Sending -> Sent once the packet left the local
// router.
func (m *Message) MarkSent() {
	m.DeliveryStatus = DeliveryStatus{Kind: StatusSent}
}

// MarkDelivered transitions to Delivered{by, at}.
func (m *Message) MarkDelivered(by protocol.PeerID, at time.Time) {
	m.DeliveryStatus = DeliveryStatus{Kind: StatusDelivered, By: by, At: at}
}

// MarkRead transitions to Read{by, at}.
func (m *Message) MarkRead(by protocol.PeerID, at time.Time) {
	m.DeliveryStatus = DeliveryStatus{Kind: StatusRead, By: by, At: at}
}

// MarkFailed transitions to Failed, e.g. after a peer disconnects
// mid-flight.
func (m *Message) MarkFailed() {
	m.DeliveryStatus = DeliveryStatus{Kind: StatusFailed}
}

// MarkPartiallyDelivered transitions to PartiallyDelivered{n,m} for
// channel messages acknowledged by a subset of members.
func (m *Message) MarkPartiallyDelivered(n, m2 int) {
	m.DeliveryStatus = DeliveryStatus{Kind: StatusPartiallyDelivered, N: n, M: m2}
}
