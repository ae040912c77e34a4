/*
File Name:  Router.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Flood router with TTL and de-dup. Decides deliver-locally vs relay vs
both, fragments oversized outbound packets, and reassembles inbound ones.
Grounded on the per-network fan-out loop used for broadcast/multicast send
(one goroutine-free iteration over every live link, skipping the one a
packet arrived on) and the sequence-expiry de-dup pattern generalized in
Dedup.go.
*/

package router

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bitchat-mesh/mesh/fragment"
	"github.com/bitchat-mesh/mesh/link"
	"github.com/bitchat-mesh/mesh/protocol"
)

// Config carries the router's tunable constants, all with spec defaults.
type Config struct {
	TTLDefault            uint8
	DedupWindow           time.Duration
	DedupCapacity         int
	FragmentDeadline      time.Duration
	FragmentArenaCapacity int
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		TTLDefault:            protocol.DefaultTTL,
		DedupWindow:           DefaultDedupWindow,
		DedupCapacity:         DefaultDedupCapacity,
		FragmentDeadline:      fragment.DefaultDeadline,
		FragmentArenaCapacity: fragment.DefaultCapacity,
	}
}

// Delegate receives events the router cannot resolve on its own.
type Delegate interface {
	// Deliver is called for every packet addressed to us (directly or by
	// broadcast), after de-dup and (if necessary) reassembly.
	Deliver(pkt *protocol.Packet, from link.Link)

	// IsOnline reports whether peerID is currently reachable. Used to
	// decide between immediate relay and enqueueing into store-and-forward.
	IsOnline(peerID protocol.PeerID) bool

	// Enqueue hands a directed packet to the store-and-forward cache
	// because its recipient is not currently reachable.
	Enqueue(pkt *protocol.Packet)

	// LinkLost is called when a link bound to peerID (via BindLinkPeer)
	// stops producing frames, whether from a clean close or a read
	// timeout. The peer-level disconnection event propagates from here.
	LinkLost(peerID protocol.PeerID)
}

// linkEntry tracks one attached link alongside bookkeeping the router
// needs (MTU for fragmentation decisions, and the peer-id it carries
// once known, for disconnect notification).
type linkEntry struct {
	link   link.Link
	peerID *protocol.PeerID
}

// Router implements L3: flood/relay with loop suppression and
// fragmentation.
type Router struct {
	self     protocol.PeerID
	cfg      Config
	delegate Delegate

	mu    sync.RWMutex
	links map[string]*linkEntry

	dedup       *dedupWindow
	reassembler *fragment.Reassembler

	droppedFraming uint64
	droppedRouting uint64
	statsMu        sync.Mutex
}

// New creates a Router for the local peer identified by self.
func New(self protocol.PeerID, cfg Config, delegate Delegate) *Router {
	if cfg.TTLDefault == 0 {
		cfg.TTLDefault = protocol.DefaultTTL
	}
	return &Router{
		self:        self,
		cfg:         cfg,
		delegate:    delegate,
		links:       make(map[string]*linkEntry),
		dedup:       newDedupWindow(cfg.DedupWindow, cfg.DedupCapacity),
		reassembler: fragment.NewReassembler(cfg.FragmentDeadline, cfg.FragmentArenaCapacity),
	}
}

// SetSelf updates the local peer ID, used after an identity rotation.
func (r *Router) SetSelf(id protocol.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.self = id
}

// Self returns the router's current local peer ID.
func (r *Router) Self() protocol.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self
}

// AttachLink registers a link for relay fan-out and starts reading frames
// from it until ctx is done or the link errors.
func (r *Router) AttachLink(ctx context.Context, l link.Link) {
	r.mu.Lock()
	r.links[l.ID()] = &linkEntry{link: l}
	r.mu.Unlock()

	go r.readLoop(ctx, l)
}

// DetachLink removes a link from the relay fan-out set, e.g. on disconnect.
func (r *Router) DetachLink(id string) {
	r.mu.Lock()
	entry, ok := r.links[id]
	delete(r.links, id)
	r.mu.Unlock()

	if ok && entry.peerID != nil {
		r.delegate.LinkLost(*entry.peerID)
	}
}

// BindLinkPeer records that link linkID carries traffic for peerID, once
// that becomes known (e.g. from the sender of a frame that arrived on
// it, as the mesh service does for every inbound frame). Until bound,
// a link's loss produces no peer-level disconnect event.
func (r *Router) BindLinkPeer(linkID string, peerID protocol.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.links[linkID]; ok {
		id := peerID
		entry.peerID = &id
	}
}

func (r *Router) readLoop(ctx context.Context, l link.Link) {
	defer r.DetachLink(l.ID())

	for {
		frame, err := l.Recv(ctx)
		if err != nil {
			return
		}
		r.HandleFrame(frame, l)
	}
}

// HandleFrame processes one inbound wire frame received on link l.
func (r *Router) HandleFrame(frame []byte, l link.Link) {
	pkt, err := protocol.Decode(frame)
	if err != nil {
		r.countDropFraming()
		return
	}

	r.handlePacket(pkt, l)
}

func (r *Router) handlePacket(pkt *protocol.Packet, from link.Link) {
	dedupKey := dedupKeyFor(pkt)
	if r.dedup.seenOrRecord(dedupKey) {
		r.countDropRouting()
		return
	}

	if pkt.Type == protocol.TypeFragmentStart || pkt.Type == protocol.TypeFragmentContinue || pkt.Type == protocol.TypeFragmentEnd {
		reconstructed, originalType, done, err := r.reassembler.Feed(pkt.Type, pkt.Payload)
		if err != nil {
			r.countDropFraming()
			return
		}
		if !done {
			return
		}
		pkt = &protocol.Packet{
			Type:         originalType,
			TTL:          pkt.TTL,
			Timestamp:    pkt.Timestamp,
			SenderID:     pkt.SenderID,
			RecipientID:  pkt.RecipientID,
			HasRecipient: pkt.HasRecipient,
			Payload:      reconstructed,
		}
	}

	addressedToUs := !pkt.HasRecipient || pkt.RecipientID == r.Self() || pkt.IsBroadcast()

	if addressedToUs {
		r.delegate.Deliver(pkt, from)
	}

	if pkt.TTL == 0 {
		return
	}

	relay := *pkt
	relay.TTL--
	r.relay(&relay, from)

	if pkt.HasRecipient && !pkt.IsBroadcast() && !addressedToUs && !r.delegate.IsOnline(pkt.RecipientID) {
		r.delegate.Enqueue(pkt)
	}
}

// relay re-emits pkt to every attached link except the one it arrived on.
func (r *Router) relay(pkt *protocol.Packet, excluding link.Link) {
	raw, err := protocol.Encode(pkt)
	if err != nil {
		r.countDropFraming()
		return
	}

	r.mu.RLock()
	targets := make([]link.Link, 0, len(r.links))
	for id, entry := range r.links {
		if excluding != nil && id == excluding.ID() {
			continue
		}
		targets = append(targets, entry.link)
	}
	r.mu.RUnlock()

	for _, l := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.Send(ctx, raw); err != nil {
			log.Printf("router: relay send to %s failed: %v", l.ID(), err)
		}
		cancel()
	}
}

// Send stamps and emits a locally originated packet to all attached links.
// If the payload exceeds the smallest attached link's MTU once encoded,
// it is fragmented first.
func (r *Router) Send(pkt *protocol.Packet) error {
	pkt.Timestamp = uint64(time.Now().UnixMilli())
	if pkt.TTL == 0 {
		pkt.TTL = r.cfg.TTLDefault
	}
	pkt.SenderID = r.Self()

	r.mu.RLock()
	mtu := 0
	targets := make([]link.Link, 0, len(r.links))
	for _, entry := range r.links {
		targets = append(targets, entry.link)
		if mtu == 0 || entry.link.MTU() < mtu {
			mtu = entry.link.MTU()
		}
	}
	r.mu.RUnlock()

	encoded, err := protocol.Encode(pkt)
	if err != nil {
		return err
	}

	if mtu > 0 && len(encoded) > mtu {
		return r.sendFragmented(pkt, mtu, targets)
	}

	for _, l := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := l.Send(ctx, encoded)
		cancel()
		if err != nil {
			log.Printf("router: send to %s failed: %v", l.ID(), err)
		}
	}

	return nil
}

func (r *Router) sendFragmented(pkt *protocol.Packet, mtu int, targets []link.Link) error {
	fragments, _, err := fragment.Split(pkt.Type, pkt.Payload, mtu)
	if err != nil {
		return err
	}

	for _, frag := range fragments {
		frag.TTL = pkt.TTL
		frag.Timestamp = pkt.Timestamp
		frag.SenderID = pkt.SenderID
		frag.HasRecipient = pkt.HasRecipient
		frag.RecipientID = pkt.RecipientID

		raw, err := protocol.Encode(frag)
		if err != nil {
			return err
		}

		for _, l := range targets {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := l.Send(ctx, raw); err != nil {
				log.Printf("router: fragment send to %s failed: %v", l.ID(), err)
			}
			cancel()
		}
	}

	return nil
}

// PurgeFragments discards fragment sets past their reassembly deadline.
func (r *Router) PurgeFragments() {
	r.reassembler.Purge()
}

func (r *Router) countDropFraming() {
	r.statsMu.Lock()
	r.droppedFraming++
	r.statsMu.Unlock()
}

func (r *Router) countDropRouting() {
	r.statsMu.Lock()
	r.droppedRouting++
	r.statsMu.Unlock()
}

// Stats returns drop counters for diagnostics.
func (r *Router) Stats() (droppedFraming, droppedRouting uint64) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.droppedFraming, r.droppedRouting
}

func dedupKeyFor(pkt *protocol.Packet) string {
	hash := protocol.HashData(pkt.Payload)
	key := make([]byte, 0, protocol.PeerIDSize+8+len(hash))
	key = append(key, pkt.SenderID[:]...)
	var ts [8]byte
	for i := 0; i < 8; i++ {
		ts[i] = byte(pkt.Timestamp >> (56 - 8*i))
	}
	key = append(key, ts[:]...)
	key = append(key, hash...)
	return string(key)
}
