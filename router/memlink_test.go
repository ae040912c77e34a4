package router

import (
	"context"
	"errors"
	"sync"

	"github.com/bitchat-mesh/mesh/link"
)

// memLink is an in-process Link used only by this package's tests: two
// memLinks connected back-to-back emulate a byte-duplex radio channel.
type memLink struct {
	id   string
	mtu  int
	peer *memLink

	mu     sync.Mutex
	closed bool
	inbox  chan []byte
}

func newMemLinkPair(mtu int) (a, b *memLink) {
	a = &memLink{id: "a", mtu: mtu, inbox: make(chan []byte, 64)}
	b = &memLink{id: "b", mtu: mtu, inbox: make(chan []byte, 64)}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *memLink) ID() string { return l.id }

func (l *memLink) Send(ctx context.Context, frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return link.ErrClosed
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case l.peer.inbox <- cp:
		return nil
	default:
		return errors.New("memlink: inbox full")
	}
}

func (l *memLink) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-l.inbox:
		if !ok {
			return nil, link.ErrClosed
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.inbox)
	}
	return nil
}

func (l *memLink) MTU() int     { return l.mtu }
func (l *memLink) Quality() int { return 0 }
