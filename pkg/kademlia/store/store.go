// Package store implements the per-peer record store (spec §4.7).
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/mod/ipfs-sim/pkg/kademlia/key"
	"github.com/mod/ipfs-sim/pkg/ports"
)

// Record is an immutable (key, value, publisher_id, published_at, expires_at)
// tuple (spec §3). Republishing produces a new Record with refreshed
// timestamps, never a mutation of an existing one.
type Record struct {
	Key         key.Key
	Value       []byte
	PublisherID key.Key
	PublishedAt time.Duration
	ExpiresAt   time.Duration
}

// NewRecord builds a Record whose ExpiresAt is PublishedAt plus ttl,
// enforcing the invariant expires_at > published_at (spec §8 invariant 4)
// whenever ttl > 0.
func NewRecord(k, publisher key.Key, value []byte, publishedAt time.Duration, ttl time.Duration) Record {
	return Record{
		Key:         k,
		Value:       value,
		PublisherID: publisher,
		PublishedAt: publishedAt,
		ExpiresAt:   publishedAt + ttl,
	}
}

// Store is a peer's exclusively-owned map of RecordKey -> Record. It is safe
// for concurrent use, though in this single-threaded simulator that is only
// ever exercised from the scheduler's goroutine.
type Store struct {
	mu      sync.RWMutex
	records map[key.Key]Record
}

// New creates an empty Store.
func New() *Store {
	return &Store{records: make(map[key.Key]Record)}
}

// Put inserts or overwrites the record for record.Key, keeping the one with
// the later PublishedAt on conflict (spec §4.7).
func (s *Store) Put(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[r.Key]
	if !ok || r.PublishedAt >= existing.PublishedAt {
		s.records[r.Key] = r
	}
}

// Get returns the current record for k, if any.
func (s *Store) Get(k key.Key) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[k]
	return r, ok
}

// Delete removes the record for k, if present.
func (s *Store) Delete(k key.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, k)
}

// Len reports the number of records currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Keys returns a snapshot of every stored RecordKey.
func (s *Store) Keys() []key.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]key.Key, 0, len(s.records))
	for k := range s.records {
		out = append(out, k)
	}
	return out
}

// CheckInvariants verifies every stored record satisfies expires_at >=
// published_at (spec §8 invariant 4; equality is the "expiration disabled"
// sentinel NewRecord produces for a zero ttl, not a violation).
func (s *Store) CheckInvariants() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, r := range s.records {
		if r.ExpiresAt < r.PublishedAt {
			return ports.NewInvariantViolation("store.expires_before_published",
				fmt.Sprintf("record %s: expires_at=%s < published_at=%s", k.String(), r.ExpiresAt, r.PublishedAt))
		}
	}
	return nil
}

// Sweep removes every record whose ExpiresAt <= now, returning the keys
// removed. Called periodically by a Peer when expiration is enabled (spec
// §4.7 / §4.8 "Expiration").
func (s *Store) Sweep(now time.Duration) []key.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []key.Key
	for k, r := range s.records {
		if now >= r.ExpiresAt {
			delete(s.records, k)
			removed = append(removed, k)
		}
	}
	return removed
}
