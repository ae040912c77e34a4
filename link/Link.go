/*
File Name:  Link.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Link is the external collaborator interface the radio driver (GATT
central/peripheral roles, advertising, scanning) must satisfy. Everything
above this package treats a Link as an opaque byte-duplex channel to one
discovered peer; the driver owns framing at the radio level and delivers
whole frames here.
*/

package link

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send/Recv after Close.
var ErrClosed = errors.New("link: closed")

// Link is one byte-duplex channel to a single discovered peer.
type Link interface {
	// ID identifies this link instance, stable for its lifetime.
	ID() string

	// Send writes one frame to the peer. Frame delimiting is the
	// responsibility of the driver.
	Send(ctx context.Context, frame []byte) error

	// Recv blocks until the next frame arrives, the link is closed, or ctx
	// is done.
	Recv(ctx context.Context) ([]byte, error)

	// Close releases the link. Subsequent Send/Recv return ErrClosed.
	Close() error

	// MTU is the maximum single-frame size negotiated for this link.
	// Payloads larger than this are fragmented by the caller.
	MTU() int

	// Quality is an observable link-quality indicator (e.g. RSSI-derived),
	// for UI sort only; the router does not use it for routing decisions.
	Quality() int
}

// Discovered pairs a newly discovered peer with the link to reach it.
type Discovered struct {
	PeerID [8]byte
	Link   Link
}

// Discoverer enumerates peers as the radio driver finds them.
type Discoverer interface {
	// Discover starts scanning/advertising and returns a channel of newly
	// discovered peers. The channel is closed when ctx is done.
	Discover(ctx context.Context) (<-chan Discovered, error)
}

// LostNotifier is implemented by drivers that can report link loss
// out-of-band, in addition to Recv/Send returning errors.
type LostNotifier interface {
	OnLinkLost() <-chan struct{}
}
