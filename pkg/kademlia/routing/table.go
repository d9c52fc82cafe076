// Package routing implements the k-bucket routing table: XOR-metric
// bucketing by common-prefix length, the LRU-with-liveness-check update
// discipline, the bounded replacement cache, and the closest-peers query
// (spec §4.6).
package routing

import (
	"fmt"
	"sync"
	"time"

	"github.com/mod/ipfs-sim/pkg/kademlia/key"
	"github.com/mod/ipfs-sim/pkg/ports"
)

// PeerInfo is a (peer_id, last_seen_logical_time, address) tuple (spec §3).
// Address is opaque to this package.
type PeerInfo struct {
	ID       key.Key
	LastSeen time.Duration
	Address  string
}

// bucket holds up to k live entries (LRU-first, MRU-last) plus a bounded
// replacement cache, for peers at one common-prefix length with the local
// id (spec §3 "KBucket").
type bucket struct {
	live        []PeerInfo
	replacement []PeerInfo
	lastLookup  time.Duration
	everLookup  bool
}

// Pinger issues a liveness check against target and invokes onResult once
// the check resolves (true if target answered before the bounded window,
// false otherwise). Implemented by the peer/network layer, which is the
// only place that knows how to schedule a real (simulated) RPC; the table
// itself never touches the scheduler.
type Pinger func(target key.Key, onResult func(alive bool))

// Table is the routing table owned by exactly one Peer (spec §3). It is
// safe for concurrent use; in this simulator it is only ever touched from
// the single scheduler goroutine, but the locking keeps the invariants
// honest regardless of caller discipline.
type Table struct {
	self key.Key
	k    int

	mu      sync.Mutex
	buckets map[int]*bucket
}

// New creates a Table for self with a live-set / replacement-cache size of
// k (spec's "k", bucket size and query width).
func New(self key.Key, k int) *Table {
	return &Table{
		self:    self,
		k:       k,
		buckets: make(map[int]*bucket),
	}
}

func (t *Table) bucketFor(cpl int) *bucket {
	b, ok := t.buckets[cpl]
	if !ok {
		b = &bucket{}
		t.buckets[cpl] = b
	}
	return b
}

func indexOf(entries []PeerInfo, id key.Key) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func removeAt(entries []PeerInfo, i int) []PeerInfo {
	return append(entries[:i], entries[i+1:]...)
}

// Observe applies the update-on-observation discipline of spec §4.6. It
// must be called whenever the peer successfully exchanges a message with
// p. When the bucket is full, ping probes the current LRU entry; if it
// answers, it moves to the MRU end and p is parked in the replacement
// cache, otherwise it is evicted and p takes its place in the live set.
// ping may be nil (e.g.
// in unit tests that only exercise the below-capacity path); a full bucket
// then simply parks the new peer in the replacement cache without a
// liveness check.
func (t *Table) Observe(p PeerInfo, now time.Duration, ping Pinger) {
	if p.ID == t.self {
		return
	}
	cpl := key.CPL(t.self, p.ID)

	t.mu.Lock()
	b := t.bucketFor(cpl)

	if i := indexOf(b.live, p.ID); i >= 0 {
		b.live = removeAt(b.live, i)
		p.LastSeen = now
		b.live = append(b.live, p)
		t.mu.Unlock()
		return
	}

	if len(b.live) < t.k {
		p.LastSeen = now
		b.live = append(b.live, p)
		if i := indexOf(b.replacement, p.ID); i >= 0 {
			b.replacement = removeAt(b.replacement, i)
		}
		t.mu.Unlock()
		return
	}

	lru := b.live[0]
	t.mu.Unlock()

	if ping == nil {
		t.mu.Lock()
		t.pushReplacement(t.bucketFor(cpl), p)
		t.mu.Unlock()
		return
	}

	ping(lru.ID, func(alive bool) {
		t.mu.Lock()
		defer t.mu.Unlock()
		b := t.bucketFor(cpl)
		if alive {
			if i := indexOf(b.live, lru.ID); i >= 0 {
				b.live = removeAt(b.live, i)
				lru.LastSeen = now
				b.live = append(b.live, lru)
			}
			t.pushReplacement(b, p)
			return
		}
		if i := indexOf(b.live, lru.ID); i >= 0 {
			b.live = removeAt(b.live, i)
		}
		if i := indexOf(b.replacement, p.ID); i >= 0 {
			b.replacement = removeAt(b.replacement, i)
		}
		p.LastSeen = now
		b.live = append(b.live, p)
	})
}

// pushReplacement parks p in b's replacement cache (MRU-last), evicting the
// LRU cache entry if it is already at capacity k. Caller holds t.mu.
func (t *Table) pushReplacement(b *bucket, p PeerInfo) {
	if i := indexOf(b.replacement, p.ID); i >= 0 {
		b.replacement = removeAt(b.replacement, i)
	}
	if len(b.replacement) >= t.k {
		b.replacement = b.replacement[1:]
	}
	b.replacement = append(b.replacement, p)
}

// Remove evicts id from both the live set and replacement cache of its
// bucket, if present. Used when a peer is known dead outside the
// bucket-full liveness-check path.
func (t *Table) Remove(id key.Key) {
	cpl := key.CPL(t.self, id)
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[cpl]
	if !ok {
		return
	}
	if i := indexOf(b.live, id); i >= 0 {
		b.live = removeAt(b.live, i)
	}
	if i := indexOf(b.replacement, id); i >= 0 {
		b.replacement = removeAt(b.replacement, i)
	}
}

// Closest returns the count live peers with smallest XOR distance to
// target, drawn across all buckets, ties broken by PeerId (spec §4.6 "the
// table's hot path").
func (t *Table) Closest(target key.Key, count int) []PeerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	var all []PeerInfo
	for _, b := range t.buckets {
		all = append(all, b.live...)
	}

	ks := make([]key.Key, len(all))
	byID := make(map[key.Key]PeerInfo, len(all))
	for i, p := range all {
		ks[i] = p.ID
		byID[p.ID] = p
	}
	closestKeys := key.Closest(ks, target, count)

	out := make([]PeerInfo, len(closestKeys))
	for i, k := range closestKeys {
		out[i] = byID[k]
	}
	return out
}

// CheckInvariants verifies every bucket's live set and replacement cache are
// within capacity k, that no bucket holds this table's own id, and that
// every live entry sits in the bucket its CPL to self maps to (spec §3
// "Live set size ≤ k; replacement cache size ≤ k", §8 invariants 1-3).
func (t *Table) CheckInvariants() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for cpl, b := range t.buckets {
		if len(b.live) > t.k {
			return ports.NewInvariantViolation("routing.live_set_size",
				fmt.Sprintf("bucket cpl=%d holds %d live entries, k=%d", cpl, len(b.live), t.k))
		}
		if len(b.replacement) > t.k {
			return ports.NewInvariantViolation("routing.replacement_cache_size",
				fmt.Sprintf("bucket cpl=%d holds %d replacement entries, k=%d", cpl, len(b.replacement), t.k))
		}
		seen := make(map[key.Key]bool, len(b.live))
		for _, p := range b.live {
			if p.ID == t.self {
				return ports.NewInvariantViolation("routing.self_in_table",
					fmt.Sprintf("bucket cpl=%d contains the table's own id", cpl))
			}
			if seen[p.ID] {
				return ports.NewInvariantViolation("routing.duplicate_peer",
					fmt.Sprintf("bucket cpl=%d lists peer %s twice", cpl, p.ID.String()))
			}
			seen[p.ID] = true
			if got := key.CPL(t.self, p.ID); got != cpl {
				return ports.NewInvariantViolation("routing.bucket_cpl_mismatch",
					fmt.Sprintf("peer %s lives in bucket cpl=%d but its true cpl is %d", p.ID.String(), cpl, got))
			}
		}
	}
	return nil
}

// Len returns the total number of live entries across all buckets.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.buckets {
		n += len(b.live)
	}
	return n
}

// Contains reports whether id is in the live set of its bucket.
func (t *Table) Contains(id key.Key) bool {
	cpl := key.CPL(t.self, id)
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[cpl]
	if !ok {
		return false
	}
	return indexOf(b.live, id) >= 0
}

// BucketCPLs returns the CPLs of every bucket that has ever held an entry,
// used by refresh to enumerate candidate ranges.
func (t *Table) BucketCPLs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.buckets))
	for cpl := range t.buckets {
		out = append(out, cpl)
	}
	return out
}

// MarkLookupSuccess records that bucket cpl saw a successful lookup at now,
// per spec §4.6 Refresh ("for each bucket that has not seen a successful
// lookup within the interval").
func (t *Table) MarkLookupSuccess(cpl int, now time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bucketFor(cpl)
	b.lastLookup = now
	b.everLookup = true
}

// NeedsRefresh reports whether bucket cpl has not seen a successful lookup
// within interval as of now.
func (t *Table) NeedsRefresh(cpl int, now time.Duration, interval time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[cpl]
	if !ok || !b.everLookup {
		return true
	}
	return now-b.lastLookup >= interval
}
