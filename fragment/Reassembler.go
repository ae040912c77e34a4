/*
File Name:  Reassembler.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Fixed-size arena keyed by fragment-id. Drops oldest on pressure and frees
any entry that does not complete within the reassembly deadline, so a
peer that stops mid-fragment cannot grow the table without bound.
*/

package fragment

import (
	"sync"
	"time"
)

// DefaultDeadline is how long a partially received fragment set is kept
// before being discarded.
const DefaultDeadline = 10 * time.Second

// DefaultCapacity is the maximum number of in-flight fragment sets tracked
// at once.
const DefaultCapacity = 256

type entry struct {
	originalType uint8
	total        int
	chunks       map[int][]byte
	created      time.Time
	deadline     time.Time
}

// Reassembler reconstructs fragmented packets from FRAGMENT_START/
// CONTINUE/END wire packets.
type Reassembler struct {
	mutex    sync.Mutex
	table    map[uint64]*entry
	order    []uint64 // insertion order, for capacity eviction
	deadline time.Duration
	capacity int
}

// NewReassembler creates a reassembler with the given deadline and
// capacity. A zero deadline or capacity selects the package defaults.
func NewReassembler(deadline time.Duration, capacity int) *Reassembler {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Reassembler{
		table:    make(map[uint64]*entry),
		deadline: deadline,
		capacity: capacity,
	}
}

// Feed processes one FRAGMENT_START/CONTINUE/END packet. When the fragment
// set completes, it returns the reconstructed payload, the original
// packet type, and done=true. Malformed fragments are reported as errors
// and otherwise ignored by the caller.
func (r *Reassembler) Feed(pktType uint8, payload []byte) (reconstructed []byte, originalType uint8, done bool, err error) {
	chunk, err := decodeChunk(pktType, payload)
	if err != nil {
		return nil, 0, false, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	e, ok := r.table[chunk.fragmentID]
	if !ok {
		if len(r.table) >= r.capacity {
			r.evictOldestLocked()
		}
		e = &entry{
			chunks:   make(map[int][]byte),
			created:  time.Now(),
			deadline: time.Now().Add(r.deadline),
		}
		r.table[chunk.fragmentID] = e
		r.order = append(r.order, chunk.fragmentID)
	}

	if chunk.isStart {
		e.originalType = chunk.originalType
		e.total = chunk.total
		e.chunks[0] = chunk.data
	} else {
		e.chunks[chunk.index] = chunk.data
	}

	if e.total == 0 || len(e.chunks) < e.total {
		return nil, 0, false, nil
	}

	for i := 0; i < e.total; i++ {
		if _, ok := e.chunks[i]; !ok {
			return nil, 0, false, nil
		}
	}

	for i := 0; i < e.total; i++ {
		reconstructed = append(reconstructed, e.chunks[i]...)
	}
	originalType = e.originalType

	delete(r.table, chunk.fragmentID)
	r.removeFromOrderLocked(chunk.fragmentID)

	return reconstructed, originalType, true, nil
}

// Purge discards fragment sets past their deadline, reclaiming the arena
// slots they occupied.
func (r *Reassembler) Purge() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now()
	for id, e := range r.table {
		if now.After(e.deadline) {
			delete(r.table, id)
			r.removeFromOrderLocked(id)
		}
	}
}

// Count returns the number of fragment sets currently being tracked.
func (r *Reassembler) Count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.table)
}

func (r *Reassembler) evictOldestLocked() {
	if len(r.order) == 0 {
		return
	}
	oldest := r.order[0]
	r.order = r.order[1:]
	delete(r.table, oldest)
}

func (r *Reassembler) removeFromOrderLocked(id uint64) {
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
