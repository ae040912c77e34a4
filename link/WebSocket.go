/*
File Name:  WebSocket.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

A development/test Link implementation carrying frames over a local
WebSocket connection, standing in for the BLE radio driver so the mesh
stack can be exercised end-to-end without real hardware.
*/

package link

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSUpgrader mirrors the permissive local-dev upgrader used by the
// broader Peernet tooling this package is descended from.
var WSUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// defaultMTU is the frame size assumed for WebSocket-backed test links,
// comfortably larger than typical BLE L2CAP MTUs so fragmentation tests
// can choose their own smaller values explicitly.
const defaultMTU = 512

// WebSocketLink wraps a *websocket.Conn as a Link. Each WebSocket message
// is one frame.
type WebSocketLink struct {
	id       string
	conn     *websocket.Conn
	mtu      int
	quality  int
	mu       sync.Mutex
	closed   bool
	recvOnce sync.Once
	recvCh   chan []byte
	errCh    chan error
}

// NewWebSocketLink wraps an established WebSocket connection as a Link.
func NewWebSocketLink(id string, conn *websocket.Conn, mtu int) *WebSocketLink {
	if mtu <= 0 {
		mtu = defaultMTU
	}
	l := &WebSocketLink{
		id:     id,
		conn:   conn,
		mtu:    mtu,
		recvCh: make(chan []byte, 16),
		errCh:  make(chan error, 1),
	}
	return l
}

func (l *WebSocketLink) startReader() {
	l.recvOnce.Do(func() {
		go func() {
			for {
				_, data, err := l.conn.ReadMessage()
				if err != nil {
					l.errCh <- err
					close(l.recvCh)
					return
				}
				l.recvCh <- data
			}
		}()
	})
}

// ID identifies this link.
func (l *WebSocketLink) ID() string { return l.id }

// Send writes one frame as a binary WebSocket message.
func (l *WebSocketLink) Send(ctx context.Context, frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return l.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Recv blocks for the next frame.
func (l *WebSocketLink) Recv(ctx context.Context) ([]byte, error) {
	l.startReader()
	select {
	case data, ok := <-l.recvCh:
		if !ok {
			select {
			case err := <-l.errCh:
				return nil, err
			default:
				return nil, ErrClosed
			}
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the underlying WebSocket connection.
func (l *WebSocketLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.conn.Close()
}

// MTU returns the configured frame size ceiling.
func (l *WebSocketLink) MTU() int { return l.mtu }

// Quality returns the last-observed link quality, defaulting to 0
// (unknown) until SetQuality is called by the driver.
func (l *WebSocketLink) Quality() int { return l.quality }

// SetQuality updates the link-quality indicator, e.g. derived from
// WebSocket RTT pings in lieu of a real RSSI reading.
func (l *WebSocketLink) SetQuality(q int) { l.quality = q }
