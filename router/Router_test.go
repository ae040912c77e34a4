package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bitchat-mesh/mesh/link"
	"github.com/bitchat-mesh/mesh/protocol"
)

type recordingDelegate struct {
	mu        sync.Mutex
	delivered []*protocol.Packet
	online    map[protocol.PeerID]bool
	enqueued  []*protocol.Packet
	lost      []protocol.PeerID
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{online: make(map[protocol.PeerID]bool)}
}

func (d *recordingDelegate) Deliver(pkt *protocol.Packet, from link.Link) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, pkt)
}

func (d *recordingDelegate) IsOnline(peerID protocol.PeerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online[peerID]
}

func (d *recordingDelegate) Enqueue(pkt *protocol.Packet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueued = append(d.enqueued, pkt)
}

func (d *recordingDelegate) LinkLost(peerID protocol.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = append(d.lost, peerID)
}

func (d *recordingDelegate) deliveredCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func (d *recordingDelegate) lostPeers() []protocol.PeerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.PeerID(nil), d.lost...)
}

func peerIDFrom(b byte) protocol.PeerID {
	var id protocol.PeerID
	for i := range id {
		id[i] = b
	}
	return id
}

func broadcastPacket(sender protocol.PeerID, ttl uint8, payload []byte) *protocol.Packet {
	return &protocol.Packet{
		Type:         protocol.TypeMessage,
		TTL:          ttl,
		Timestamp:    1,
		SenderID:     sender,
		HasRecipient: true,
		RecipientID:  protocol.BroadcastRecipient,
		Payload:      payload,
	}
}

func TestLoopSuppressionSamePacketTwice(t *testing.T) {
	delegate := newRecordingDelegate()
	self := peerIDFrom(0x02)
	r := New(self, DefaultConfig(), delegate)

	a, _ := newMemLinkPair(1024)
	b, _ := newMemLinkPair(1024)
	r.AttachLink(context.Background(), a)
	r.AttachLink(context.Background(), b)

	pkt := broadcastPacket(peerIDFrom(0x01), 3, []byte("hello"))
	raw, err := protocol.Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Same packet delivered on two different links within the window.
	r.HandleFrame(raw, a)
	r.HandleFrame(raw, b)

	time.Sleep(20 * time.Millisecond)

	if got := delegate.deliveredCount(); got != 1 {
		t.Fatalf("expected exactly one local delivery, got %d", got)
	}
}

func TestTTLDecayChain(t *testing.T) {
	// Linear chain A-B-C-D-E, broadcast with ttl=2 from A.
	delegateB := newRecordingDelegate()
	delegateC := newRecordingDelegate()
	delegateD := newRecordingDelegate()
	delegateE := newRecordingDelegate()

	rb := New(peerIDFrom(0x02), DefaultConfig(), delegateB)
	rc := New(peerIDFrom(0x03), DefaultConfig(), delegateC)
	rd := New(peerIDFrom(0x04), DefaultConfig(), delegateD)
	re := New(peerIDFrom(0x05), DefaultConfig(), delegateE)

	ctx := context.Background()

	abLinkB, abLinkA := newMemLinkPair(1024)
	bcLinkB, bcLinkC := newMemLinkPair(1024)
	cdLinkC, cdLinkD := newMemLinkPair(1024)
	deLinkD, deLinkE := newMemLinkPair(1024)

	rb.AttachLink(ctx, abLinkB)
	rb.AttachLink(ctx, bcLinkB)
	rc.AttachLink(ctx, bcLinkC)
	rc.AttachLink(ctx, cdLinkC)
	rd.AttachLink(ctx, cdLinkD)
	rd.AttachLink(ctx, deLinkD)
	re.AttachLink(ctx, deLinkE)

	pkt := broadcastPacket(peerIDFrom(0x01), 2, []byte("x"))
	raw, err := protocol.Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	rb.HandleFrame(raw, abLinkA)

	time.Sleep(100 * time.Millisecond)

	if delegateB.deliveredCount() != 1 {
		t.Fatalf("B should deliver once, got %d", delegateB.deliveredCount())
	}
	if delegateC.deliveredCount() != 1 {
		t.Fatalf("C should deliver once, got %d", delegateC.deliveredCount())
	}
	if delegateD.deliveredCount() != 1 {
		t.Fatalf("D should deliver once, got %d", delegateD.deliveredCount())
	}
	if delegateE.deliveredCount() != 0 {
		t.Fatalf("E (4 hops) should not receive, got %d", delegateE.deliveredCount())
	}
}

func TestTTLZeroDeliveredLocallyNotRelayed(t *testing.T) {
	delegate := newRecordingDelegate()
	r := New(peerIDFrom(0x02), DefaultConfig(), delegate)
	a, peerA := newMemLinkPair(1024)
	b, _ := newMemLinkPair(1024)
	r.AttachLink(context.Background(), a)
	r.AttachLink(context.Background(), b)

	pkt := broadcastPacket(peerIDFrom(0x01), 0, []byte("last hop"))
	raw, err := protocol.Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	r.HandleFrame(raw, a)

	time.Sleep(20 * time.Millisecond)

	if delegate.deliveredCount() != 1 {
		t.Fatalf("expected local delivery even at ttl 0, got %d", delegate.deliveredCount())
	}

	select {
	case <-peerA.inbox:
		t.Fatalf("did not expect relay when ttl reached 0")
	default:
	}
}

// TestBindLinkPeerAndDetachReportsLinkLost models the peer-level
// disconnection event from spec section 7: once a link has been bound
// to a peer-id (as Deliver does on every received frame), detaching
// that link notifies the delegate so it can fail in-flight sends.
func TestBindLinkPeerAndDetachReportsLinkLost(t *testing.T) {
	delegate := newRecordingDelegate()
	r := New(peerIDFrom(0x02), DefaultConfig(), delegate)
	a, _ := newMemLinkPair(1024)
	r.AttachLink(context.Background(), a)

	peer := peerIDFrom(0x01)
	r.BindLinkPeer(a.ID(), peer)
	r.DetachLink(a.ID())

	lost := delegate.lostPeers()
	if len(lost) != 1 || lost[0] != peer {
		t.Fatalf("expected LinkLost(%v), got %v", peer, lost)
	}
}

func TestDetachUnboundLinkDoesNotReportLinkLost(t *testing.T) {
	delegate := newRecordingDelegate()
	r := New(peerIDFrom(0x02), DefaultConfig(), delegate)
	a, _ := newMemLinkPair(1024)
	r.AttachLink(context.Background(), a)

	r.DetachLink(a.ID())

	if lost := delegate.lostPeers(); len(lost) != 0 {
		t.Fatalf("expected no LinkLost for a link never bound to a peer, got %v", lost)
	}
}

func TestSendFragmentsOversizedPayload(t *testing.T) {
	delegate := newRecordingDelegate()
	r := New(peerIDFrom(0x02), DefaultConfig(), delegate)
	a, peerA := newMemLinkPair(64)
	r.AttachLink(context.Background(), a)

	pkt := &protocol.Packet{
		Type:         protocol.TypeMessage,
		HasRecipient: true,
		RecipientID:  protocol.BroadcastRecipient,
		Payload:      make([]byte, 500),
	}
	if err := r.Send(pkt); err != nil {
		t.Fatalf("Send: %v", err)
	}

	count := 0
	for {
		select {
		case <-peerA.inbox:
			count++
		default:
			if count < 2 {
				t.Fatalf("expected multiple fragment frames, got %d", count)
			}
			return
		}
	}
}
