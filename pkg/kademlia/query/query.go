// Package query implements the iterative, alpha-parallel, k-closest state
// machine underlying FindNode, FindValue, and the Put precursor (spec
// §4.8). It is the single largest component of the simulator and the one
// place the teacher's goroutine+sync.WaitGroup fan-out had to be redesigned
// into an explicit state machine (see SPEC_FULL.md REDESIGN FLAGS #1):
// Lookup never blocks. It is advanced exclusively by RPC response/timeout
// callbacks and a deadline check, all driven by the scheduler through the
// Transport this Lookup is given at construction.
package query

import (
	"time"

	"github.com/mod/ipfs-sim/pkg/kademlia/key"
	"github.com/mod/ipfs-sim/pkg/kademlia/routing"
	"github.com/mod/ipfs-sim/pkg/ports"
)

// Kind selects which RPC a Lookup issues and how it completes (spec §3
// "Query"). Put's iterative phase behaves exactly like FindNode (it also
// locates the k closest peers to a key); the STORE fan-out that follows is
// composed on top by the peer layer, not by Lookup itself (spec §4.8
// "Put (PublishData)").
type Kind int

const (
	FindNode Kind = iota
	FindValue
	Put
)

// status is a candidate's place in the per-query state partition (spec §3,
// §8 invariant 5: "Query candidate statuses partition the candidate set").
type status int

const (
	pending status = iota
	inFlight
	responded
	failed
)

type candidate struct {
	info   routing.PeerInfo
	status status
}

// Transport sends the RPC appropriate to a Lookup's Kind and reports the
// result (or timeout) back via callback, exactly once per call. It is
// implemented by the peer layer, which is the only component that knows
// how to route a message through the virtual network and schedule a
// bounded wait (spec §4.5/§4.8).
type Transport interface {
	SendFindNode(self, peer, target key.Key, now time.Duration, onResult func(now time.Duration, peers []routing.PeerInfo, ok bool))
	SendFindValue(self, peer, target key.Key, now time.Duration, onResult func(now time.Duration, value []byte, found bool, peers []routing.PeerInfo, ok bool))
}

// Result is what a converged or timed-out Lookup yields (spec §4.8
// "Completion").
type Result struct {
	Kind      Kind
	Peers     []routing.PeerInfo // k closest responded peers
	Value     []byte
	Found     bool
	WriteBack []routing.PeerInfo // FindValue only: closest responders without the value
	TimedOut  bool

	// Err carries the typed reason a FindValue came back empty or a query
	// ran out the clock: *ports.ErrNotFound (wrapping *ports.QueryTimeout
	// when the deadline, not convergence, ended the search) or
	// *ports.QueryTimeout directly for a timed-out FindNode/Put precursor.
	// Nil on a found/converged result (spec §7).
	Err error
	// Failures is every candidate whose RPC went unanswered during this
	// query, oldest first (spec §7 "ProtocolTimeout... recovered locally").
	Failures []*ports.ProtocolTimeout
}

// Lookup is a single query's state machine, owned by its initiating peer
// for its lifetime (spec §3).
type Lookup struct {
	self       key.Key
	target     key.Key
	kind       Kind
	k          int
	alpha      int
	cachingMax int
	deadline   time.Duration
	transport  Transport
	onDone     func(Result)

	candidates map[key.Key]*candidate
	value      []byte
	found      bool
	peersOnly  []routing.PeerInfo // responders without value, in response order
	failures   []*ports.ProtocolTimeout

	done bool
}

// New seeds the candidate set with the k closest peers from table (spec
// §4.8 "Initialization") and returns a Lookup ready to be pumped. Callers
// should call Advance immediately after New to dispatch the first round.
func New(self, target key.Key, kind Kind, k, alpha, cachingMax int, now time.Duration, timeout time.Duration, table *routing.Table, transport Transport, onDone func(Result)) *Lookup {
	l := &Lookup{
		self:       self,
		target:     target,
		kind:       kind,
		k:          k,
		alpha:      alpha,
		cachingMax: cachingMax,
		deadline:   now + timeout,
		transport:  transport,
		onDone:     onDone,
		candidates: make(map[key.Key]*candidate),
	}
	for _, p := range table.Closest(target, k) {
		l.candidates[p.ID] = &candidate{info: p, status: pending}
	}
	return l
}

// Advance runs the main loop (spec §4.8 "Main loop"): while in-flight
// candidates are fewer than alpha and pending candidates remain, dispatch
// the closest pending one, unless doing so would be moot because the
// query has already converged. Safe to call repeatedly; a no-op once done.
func (l *Lookup) Advance(now time.Duration) {
	if l.done {
		return
	}
	if now >= l.deadline {
		l.finish(now, true)
		return
	}
	for l.countInFlight() < l.alpha {
		next := l.closestPending()
		if next == nil {
			break
		}
		if l.dominatedByResponded(next) {
			l.finish(now, false)
			return
		}
		next.status = inFlight
		l.dispatch(next.info.ID, now)
	}
	if l.countPending() == 0 && l.countInFlight() == 0 {
		l.finish(now, false)
	}
}

func (l *Lookup) countInFlight() int {
	n := 0
	for _, c := range l.candidates {
		if c.status == inFlight {
			n++
		}
	}
	return n
}

func (l *Lookup) countPending() int {
	n := 0
	for _, c := range l.candidates {
		if c.status == pending {
			n++
		}
	}
	return n
}

func (l *Lookup) closestPending() *candidate {
	var best *candidate
	for _, c := range l.candidates {
		if c.status != pending {
			continue
		}
		if best == nil || key.LessDistantThan(c.info.ID, best.info.ID, l.target) {
			best = c
		}
	}
	return best
}

// respondedSortedByDistance returns every responded candidate's PeerInfo,
// closest first.
func (l *Lookup) respondedSortedByDistance() []routing.PeerInfo {
	var ks []key.Key
	byID := make(map[key.Key]routing.PeerInfo)
	for id, c := range l.candidates {
		if c.status == responded {
			ks = append(ks, id)
			byID[id] = c.info
		}
	}
	closest := key.Closest(ks, l.target, len(ks))
	out := make([]routing.PeerInfo, len(closest))
	for i, id := range closest {
		out[i] = byID[id]
	}
	return out
}

// dominatedByResponded implements the per-round convergence check (spec
// §4.8 step 2): true when c is already farther than the k-th closest
// responded peer, meaning every pending candidate (c is the closest of
// them) can no longer improve the result.
func (l *Lookup) dominatedByResponded(c *candidate) bool {
	resp := l.respondedSortedByDistance()
	if len(resp) < l.k {
		return false
	}
	kth := resp[l.k-1]
	return !key.LessDistantThan(c.info.ID, kth.ID, l.target)
}

func (l *Lookup) dispatch(id key.Key, now time.Duration) {
	switch l.kind {
	case FindValue:
		l.transport.SendFindValue(l.self, id, l.target, now, func(respNow time.Duration, value []byte, found bool, peers []routing.PeerInfo, ok bool) {
			if !ok {
				l.onFailure(id, respNow)
				return
			}
			l.onFindValueResponse(id, respNow, value, found, peers)
		})
	default: // FindNode, Put precursor
		l.transport.SendFindNode(l.self, id, l.target, now, func(respNow time.Duration, peers []routing.PeerInfo, ok bool) {
			if !ok {
				l.onFailure(id, respNow)
				return
			}
			l.onFindNodeResponse(id, respNow, peers)
		})
	}
}

func (l *Lookup) mergeCandidates(peers []routing.PeerInfo) {
	for _, p := range peers {
		if p.ID == l.self {
			continue
		}
		if _, exists := l.candidates[p.ID]; !exists {
			l.candidates[p.ID] = &candidate{info: p, status: pending}
		}
	}
}

func (l *Lookup) onFindNodeResponse(id key.Key, now time.Duration, peers []routing.PeerInfo) {
	if l.done {
		return
	}
	if c, ok := l.candidates[id]; ok {
		c.status = responded
	}
	l.mergeCandidates(peers)
	l.Advance(now)
}

func (l *Lookup) onFindValueResponse(id key.Key, now time.Duration, value []byte, found bool, peers []routing.PeerInfo) {
	if l.done {
		return
	}
	c, ok := l.candidates[id]
	if !ok {
		return
	}
	c.status = responded
	if found {
		l.value = value
		l.found = true
		l.finish(now, false)
		return
	}
	l.peersOnly = append(l.peersOnly, c.info)
	l.mergeCandidates(peers)
	l.Advance(now)
}

func (l *Lookup) onFailure(id key.Key, now time.Duration) {
	if l.done {
		return
	}
	if c, ok := l.candidates[id]; ok {
		c.status = failed
	}
	l.failures = append(l.failures, ports.NewProtocolTimeout(id.Hex(), nil))
	l.Advance(now)
}

func (l *Lookup) finish(now time.Duration, timedOut bool) {
	if l.done {
		return
	}
	l.done = true
	res := Result{Kind: l.kind, TimedOut: timedOut, Failures: l.failures}
	if l.kind == FindValue {
		res.Value = l.value
		res.Found = l.found
		if l.found {
			res.WriteBack = closestN(l.peersOnly, l.target, l.cachingMax)
		} else {
			var cause error
			if timedOut {
				cause = ports.NewQueryTimeout(l.target.Hex(), l.failures)
			}
			res.Err = ports.NewErrNotFound(l.target.Hex(), cause)
		}
	} else if timedOut {
		res.Err = ports.NewQueryTimeout(l.target.Hex(), l.failures)
	}
	res.Peers = l.respondedSortedByDistance()
	if len(res.Peers) > l.k {
		res.Peers = res.Peers[:l.k]
	}
	l.onDone(res)
}

func closestN(peers []routing.PeerInfo, target key.Key, n int) []routing.PeerInfo {
	ks := make([]key.Key, len(peers))
	byID := make(map[key.Key]routing.PeerInfo, len(peers))
	for i, p := range peers {
		ks[i] = p.ID
		byID[p.ID] = p
	}
	closest := key.Closest(ks, target, n)
	out := make([]routing.PeerInfo, len(closest))
	for i, id := range closest {
		out[i] = byID[id]
	}
	return out
}
