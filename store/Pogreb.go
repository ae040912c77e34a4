/*
File Name:  Pogreb.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package store

import (
	"io"
	"log"
	"sync"
	"time"

	"github.com/akrylysov/pogreb"
)

// PogrebStore is a key/value store using Pogreb. Expiration is tracked
// in-memory alongside the on-disk database, so it does not survive a
// process restart; ExpireKeys must be called periodically to reclaim space.
type PogrebStore struct {
	mutex     sync.Mutex
	filename  string
	db        *pogreb.DB
	expireMap map[string]time.Time
}

// NewPogrebStore create a properly initialized Pogreb store.
func NewPogrebStore(filename string) (store *PogrebStore, err error) {
	pogreb.SetLogger(log.New(io.Discard, "", 0))

	// if the database does not exist, it will be created
	db, err := pogreb.Open(filename, nil)
	if err != nil {
		return nil, err
	}

	return &PogrebStore{
		filename:  filename,
		db:        db,
		expireMap: make(map[string]time.Time),
	}, nil
}

// ExpireKeys deletes all keys that are past their expiration time.
func (s *PogrebStore) ExpireKeys() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	for k, expires := range s.expireMap {
		if now.After(expires) {
			delete(s.expireMap, k)
			s.db.Delete([]byte(k))
		}
	}
}

// Set stores the key/value pair.
func (s *PogrebStore) Set(key []byte, data []byte) error {
	return s.db.Put(key, data)
}

// StoreExpire stores the key/value pair and deletes it after the expiration time.
func (s *PogrebStore) StoreExpire(key []byte, data []byte, expiration time.Time) error {
	if err := s.db.Put(key, data); err != nil {
		return err
	}

	s.mutex.Lock()
	s.expireMap[string(key)] = expiration
	s.mutex.Unlock()

	return nil
}

// Get returns the value for the key if present.
func (s *PogrebStore) Get(key []byte) (data []byte, found bool) {
	value, err := s.db.Get(key)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

// Delete deletes a key/value pair.
func (s *PogrebStore) Delete(key []byte) {
	s.db.Delete(key)

	s.mutex.Lock()
	delete(s.expireMap, string(key))
	s.mutex.Unlock()
}

// Iterate calls fn for every key/value pair currently stored.
func (s *PogrebStore) Iterate(fn func(key []byte, value []byte)) {
	it := s.db.Items()
	for {
		key, value, err := it.Next()
		if err != nil {
			return
		}
		fn(key, value)
	}
}

// Close releases the underlying database file handle.
func (s *PogrebStore) Close() error {
	return s.db.Close()
}
