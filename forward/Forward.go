/*
File Name:  Forward.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Store-and-forward cache (L5'): holds directed packets for recipients
that are not currently reachable, keyed by recipient fingerprint so a
peer-id rotation never orphans a queued message. Grounded on the
teacher's store.Store-backed expiring key/value layer (Pogreb.go),
generalized here into bounded per-recipient FIFO queues with a shared
byte budget, replayed oldest-first once the recipient becomes reachable.
*/

package forward

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitchat-mesh/mesh/protocol"
	"github.com/bitchat-mesh/mesh/store"
)

// Config bounds how much the cache will hold.
type Config struct {
	MaxPerRecipient int
	MaxTotalBytes   int
	TTL             time.Duration
}

// DefaultConfig returns conservative spec defaults: a modest per-peer
// queue depth, a shared byte budget, and a day-long retention window.
func DefaultConfig() Config {
	return Config{
		MaxPerRecipient: 100,
		MaxTotalBytes:   4 * 1024 * 1024,
		TTL:             24 * time.Hour,
	}
}

type queuedEntry struct {
	key         []byte
	size        int
	fingerprint string
	created     time.Time
}

// Cache is the per-recipient store-and-forward queue set.
type Cache struct {
	store store.Store
	cfg   Config

	mu         sync.Mutex
	queues     map[string][]*queuedEntry // fingerprint -> oldest-first
	totalBytes int
	seq        uint64
}

// NewCache creates a Cache backed by s.
func NewCache(s store.Store, cfg Config) *Cache {
	if cfg.MaxPerRecipient == 0 {
		cfg = DefaultConfig()
	}
	return &Cache{
		store:  s,
		cfg:    cfg,
		queues: make(map[string][]*queuedEntry),
	}
}

// Enqueue holds pkt for fingerprint until it is replayed or evicted.
func (c *Cache) Enqueue(fingerprint string, pkt *protocol.Packet) error {
	raw, err := protocol.Encode(pkt)
	if err != nil {
		return err
	}

	seq := atomic.AddUint64(&c.seq, 1)
	key := make([]byte, len(fingerprint)+8)
	copy(key, fingerprint)
	binary.BigEndian.PutUint64(key[len(fingerprint):], seq)

	expires := time.Now().Add(c.cfg.TTL)
	if err := c.store.StoreExpire(key, raw, expires); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &queuedEntry{key: key, size: len(raw), fingerprint: fingerprint, created: time.Now()}
	c.queues[fingerprint] = append(c.queues[fingerprint], entry)
	c.totalBytes += entry.size

	c.enforcePerRecipientCapLocked(fingerprint)
	c.enforceByteBudgetLocked()

	return nil
}

func (c *Cache) enforcePerRecipientCapLocked(fingerprint string) {
	q := c.queues[fingerprint]
	for len(q) > c.cfg.MaxPerRecipient {
		evicted := q[0]
		q = q[1:]
		c.store.Delete(evicted.key)
		c.totalBytes -= evicted.size
	}
	c.queues[fingerprint] = q
}

// enforceByteBudgetLocked evicts globally oldest entries (by insertion
// order across all recipients is approximated by scanning for the
// smallest creation time) until the shared byte budget is satisfied.
func (c *Cache) enforceByteBudgetLocked() {
	for c.totalBytes > c.cfg.MaxTotalBytes {
		var oldestFP string
		var oldestTime time.Time
		first := true
		for fp, q := range c.queues {
			if len(q) == 0 {
				continue
			}
			if first || q[0].created.Before(oldestTime) {
				oldestFP = fp
				oldestTime = q[0].created
				first = false
			}
		}
		if first {
			return
		}
		q := c.queues[oldestFP]
		evicted := q[0]
		c.queues[oldestFP] = q[1:]
		c.store.Delete(evicted.key)
		c.totalBytes -= evicted.size
	}
}

// Pending returns how many packets are currently queued for fingerprint.
func (c *Cache) Pending(fingerprint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues[fingerprint])
}

// Replay drains and decodes every packet queued for fingerprint,
// oldest-first, dropping (silently) any entry that outlived cfg.TTL
// before it could be replayed.
func (c *Cache) Replay(fingerprint string) ([]*protocol.Packet, error) {
	c.mu.Lock()
	q := c.queues[fingerprint]
	delete(c.queues, fingerprint)
	c.mu.Unlock()

	now := time.Now()
	out := make([]*protocol.Packet, 0, len(q))

	for _, entry := range q {
		c.mu.Lock()
		c.totalBytes -= entry.size
		c.mu.Unlock()

		if now.Sub(entry.created) > c.cfg.TTL {
			c.store.Delete(entry.key)
			continue
		}

		raw, found := c.store.Get(entry.key)
		c.store.Delete(entry.key)
		if !found {
			continue
		}

		pkt, err := protocol.Decode(raw)
		if err != nil {
			continue
		}
		out = append(out, pkt)
	}

	return out, nil
}

// Purge sweeps the backing store for entries that have passed their
// expiration, freeing memory held by recipients that never reconnect.
func (c *Cache) Purge() {
	c.store.ExpireKeys()
}
