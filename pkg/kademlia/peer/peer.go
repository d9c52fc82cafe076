// Package peer binds a routing table, a record store, and the query engine
// into the unit the simulator schedules events against (spec §4.9). A Peer
// answers inbound RPCs synchronously (within the same dispatch), and drives
// its own bootstrap, refresh, republish, and expiration timers by
// rescheduling itself on the shared scheduler — there is no peer-owned
// goroutine, matching the rest of the core (spec §5).
package peer

import (
	"time"

	"github.com/google/uuid"
	"github.com/mod/ipfs-sim/pkg/kademlia/key"
	"github.com/mod/ipfs-sim/pkg/kademlia/metrics"
	"github.com/mod/ipfs-sim/pkg/kademlia/network"
	"github.com/mod/ipfs-sim/pkg/kademlia/query"
	"github.com/mod/ipfs-sim/pkg/kademlia/rng"
	"github.com/mod/ipfs-sim/pkg/kademlia/routing"
	"github.com/mod/ipfs-sim/pkg/kademlia/rpc"
	"github.com/mod/ipfs-sim/pkg/kademlia/scheduler"
	"github.com/mod/ipfs-sim/pkg/kademlia/store"
	"github.com/mod/ipfs-sim/pkg/ports"
)

// Config holds the per-peer parameters drawn from the simulation's
// configuration (spec §6). Expiration sweeps are active whenever
// RecordExpirationInterval > 0; the spec's option table has no separate
// enable_expiration flag, so a zero interval is read as "disabled" and a
// positive one as both the TTL and the sweep cadence.
type Config struct {
	K                         int
	Alpha                     int
	RPCTimeout                time.Duration
	QueryTimeout              time.Duration
	CachingMaxPeers           int
	RecordExpirationInterval  time.Duration
	RecordPublicationInterval time.Duration
	KBucketsRefreshInterval   time.Duration
	EnableBootstrap           bool
	EnableRepublishing        bool
}

type pendingRPC struct {
	onResponse    func(rpc.Response, bool)
	timeoutHandle scheduler.Handle
}

// Peer is one simulated Kademlia node.
type Peer struct {
	id    key.Key
	cfg   Config
	table *routing.Table
	store *store.Store
	net   *network.VirtualNetwork
	sched *scheduler.Scheduler
	sink  ports.EventSink
	rngs  *rng.Streams

	pending map[uuid.UUID]pendingRPC
}

// New constructs a Peer. Call Start to register it with the network and
// arm its timers.
func New(id key.Key, cfg Config, table *routing.Table, st *store.Store, net *network.VirtualNetwork, sched *scheduler.Scheduler, sink ports.EventSink, streams *rng.Streams) *Peer {
	return &Peer{
		id:      id,
		cfg:     cfg,
		table:   table,
		store:   st,
		net:     net,
		sched:   sched,
		sink:    sink,
		rngs:    streams,
		pending: make(map[uuid.UUID]pendingRPC),
	}
}

// ID returns the peer's id.
func (p *Peer) ID() key.Key { return p.id }

// Table exposes the routing table, mainly for topology seeding and tests.
func (p *Peer) Table() *routing.Table { return p.table }

// Store exposes the record store, mainly for tests asserting write-back
// caching.
func (p *Peer) Store() *store.Store { return p.store }

// CheckInvariants verifies this peer's routing table and record store still
// satisfy the invariants spec §8 names, returning a *ports.InvariantViolation
// (wrapped with the peer id by the caller) on the first broken one found.
func (p *Peer) CheckInvariants() error {
	if err := p.table.CheckInvariants(); err != nil {
		return err
	}
	return p.store.CheckInvariants()
}

// Start registers the peer with the network and schedules its bootstrap,
// refresh, and expiration timers (spec §4.9).
func (p *Peer) Start() {
	p.net.Register(p.id, p.deliver)
	if p.cfg.EnableBootstrap {
		p.runFindNode(p.id, func(query.Result) {})
	}
	if p.cfg.KBucketsRefreshInterval > 0 {
		p.scheduleRefreshTick()
	}
	if p.cfg.RecordExpirationInterval > 0 {
		p.scheduleExpirationSweep()
	}
}

func (p *Peer) emit(kind string, fields map[string]any) {
	if p.sink == nil {
		return
	}
	p.sink.Emit(metrics.Event(p.sched.Now(), kind, p.id.String(), fields))
}

// deliver is the network.Deliver handler registered for this peer.
func (p *Peer) deliver(from key.Key, msg any) {
	switch m := msg.(type) {
	case *rpc.Request:
		p.handleRequest(from, m)
	case *rpc.Response:
		p.handleResponse(m)
	}
}

func (p *Peer) handleRequest(from key.Key, req *rpc.Request) {
	p.table.Observe(routing.PeerInfo{ID: from}, p.sched.Now(), p.ping)
	resp := &rpc.Response{ID: req.ID, From: p.id}
	switch req.Kind {
	case rpc.Ping:
		resp.Alive = true
	case rpc.FindNode:
		resp.Peers = p.table.Closest(req.Target, p.cfg.K)
	case rpc.FindValue:
		if rec, ok := p.store.Get(req.Target); ok {
			resp.Value = rec.Value
			resp.Found = true
		} else {
			resp.Peers = p.table.Closest(req.Target, p.cfg.K)
		}
	case rpc.Store_:
		p.store.Put(req.Record)
		resp.Ack = true
		p.emit(metrics.RecordStored, map[string]any{"key": req.Record.Key.Hex()})
	}
	p.emit(metrics.RPCReceived, map[string]any{"kind": req.Kind.String(), "from": from.String()})
	p.net.Send(p.id, from, resp)
}

func (p *Peer) handleResponse(resp *rpc.Response) {
	entry, ok := p.pending[resp.ID]
	if !ok {
		return // matched no in-flight request: a late, already-timed-out reply
	}
	delete(p.pending, resp.ID)
	p.sched.Cancel(entry.timeoutHandle)
	p.table.Observe(routing.PeerInfo{ID: resp.From}, p.sched.Now(), p.ping)
	entry.onResponse(*resp, true)
}

// sendRequest issues req to peer and arranges for onResult to be called
// exactly once, either with the matching Response or, if RPCTimeout
// elapses first, a zero Response and ok=false (spec §4.8 "on
// failure/timeout").
func (p *Peer) sendRequest(to key.Key, kind rpc.Kind, target key.Key, rec store.Record, onResult func(rpc.Response, bool)) {
	id := uuid.New()
	req := &rpc.Request{ID: id, Kind: kind, From: p.id, Target: target, Record: rec}
	handle := p.sched.Schedule(p.cfg.RPCTimeout, func() {
		if _, ok := p.pending[id]; !ok {
			return
		}
		delete(p.pending, id)
		p.emit(metrics.RPCTimeout, map[string]any{"kind": kind.String(), "peer": to.String()})
		onResult(rpc.Response{}, false)
	})
	p.pending[id] = pendingRPC{
		onResponse:    onResult,
		timeoutHandle: handle,
	}
	p.emit(metrics.RPCSent, map[string]any{"kind": kind.String(), "to": to.String()})
	p.net.Send(p.id, to, req)
}

// ping implements routing.Pinger for this peer's own table.
func (p *Peer) ping(target key.Key, onResult func(bool)) {
	p.sendRequest(target, rpc.Ping, key.Key{}, store.Record{}, func(resp rpc.Response, ok bool) {
		onResult(ok && resp.Alive)
	})
}

// SendFindNode implements query.Transport.
func (p *Peer) SendFindNode(self, peer, target key.Key, now time.Duration, onResult func(time.Duration, []routing.PeerInfo, bool)) {
	p.sendRequest(peer, rpc.FindNode, target, store.Record{}, func(resp rpc.Response, ok bool) {
		onResult(p.sched.Now(), resp.Peers, ok)
	})
}

// SendFindValue implements query.Transport.
func (p *Peer) SendFindValue(self, peer, target key.Key, now time.Duration, onResult func(time.Duration, []byte, bool, []routing.PeerInfo, bool)) {
	p.sendRequest(peer, rpc.FindValue, target, store.Record{}, func(resp rpc.Response, ok bool) {
		onResult(p.sched.Now(), resp.Value, resp.Found, resp.Peers, ok)
	})
}

func (p *Peer) runFindNode(target key.Key, onDone func(query.Result)) {
	now := p.sched.Now()
	p.emit(metrics.QueryStarted, map[string]any{"kind": "find_node", "target": target.Hex()})
	l := query.New(p.id, target, query.FindNode, p.cfg.K, p.cfg.Alpha, p.cfg.CachingMaxPeers, now, p.cfg.QueryTimeout, p.table, p, func(res query.Result) {
		fields := map[string]any{"kind": "find_node", "target": target.Hex(), "timed_out": res.TimedOut, "failures": len(res.Failures)}
		if res.Err != nil {
			fields["err"] = res.Err.Error()
		}
		p.emit(metrics.QueryCompleted, fields)
		onDone(res)
	})
	l.Advance(now)
}

// PublishData computes the content key via fp, stores the record locally
// (publishers keep their own copy, as Kademlia publishers always do), and
// launches the Put precursor lookup followed by a STORE fan-out to the k
// closest peers found (spec §4.8 "Put (PublishData)"). The RecordKey is
// returned immediately since it is a pure function of data; the storage
// fan-out itself proceeds asynchronously through the scheduler.
func (p *Peer) PublishData(data []byte, fp ports.Fingerprint) key.Key {
	k := fp(data)
	now := p.sched.Now()
	rec := store.NewRecord(k, p.id, data, now, p.cfg.RecordExpirationInterval)
	p.store.Put(rec)
	p.runPut(k, rec)
	if p.cfg.EnableRepublishing {
		p.scheduleRepublish(k)
	}
	return k
}

func (p *Peer) runPut(target key.Key, rec store.Record) {
	p.runFindNode(target, func(res query.Result) {
		for _, dest := range res.Peers {
			p.sendRequest(dest.ID, rpc.Store_, key.Key{}, rec, func(rpc.Response, bool) {})
		}
	})
}

// RetrieveData runs a FindValue lookup and reports the outcome via
// onResult(value, found). A value already present in the local store is
// returned without touching the network. On a successful network lookup,
// the closest responders that did not hold the value receive a write-back
// STORE (spec §4.8 "Write-back caching").
func (p *Peer) RetrieveData(target key.Key, onResult func(value []byte, found bool)) {
	if rec, ok := p.store.Get(target); ok {
		onResult(rec.Value, true)
		return
	}
	now := p.sched.Now()
	p.emit(metrics.QueryStarted, map[string]any{"kind": "find_value", "target": target.Hex()})
	l := query.New(p.id, target, query.FindValue, p.cfg.K, p.cfg.Alpha, p.cfg.CachingMaxPeers, now, p.cfg.QueryTimeout, p.table, p, func(res query.Result) {
		fields := map[string]any{"kind": "find_value", "target": target.Hex(), "found": res.Found, "timed_out": res.TimedOut, "failures": len(res.Failures)}
		if res.Err != nil {
			fields["err"] = res.Err.Error()
		}
		p.emit(metrics.QueryCompleted, fields)
		if res.Found {
			rec := store.NewRecord(target, p.id, res.Value, p.sched.Now(), p.cfg.RecordExpirationInterval)
			for _, wb := range res.WriteBack {
				p.sendRequest(wb.ID, rpc.Store_, key.Key{}, rec, func(rpc.Response, bool) {})
			}
		}
		onResult(res.Value, res.Found)
	})
	l.Advance(now)
}

func (p *Peer) refreshBucket(cpl int, now time.Duration) {
	read := p.rngs.For(rng.Refresh).Read
	target := key.RandomInRange(p.id, cpl, read)
	p.runFindNode(target, func(query.Result) {
		p.table.MarkLookupSuccess(cpl, p.sched.Now())
	})
}

func (p *Peer) scheduleRefreshTick() {
	var tick func()
	tick = func() {
		now := p.sched.Now()
		for _, cpl := range p.table.BucketCPLs() {
			if p.table.NeedsRefresh(cpl, now, p.cfg.KBucketsRefreshInterval) {
				p.refreshBucket(cpl, now)
			}
		}
		p.sched.Schedule(p.cfg.KBucketsRefreshInterval, tick)
	}
	p.sched.Schedule(p.cfg.KBucketsRefreshInterval, tick)
}

func (p *Peer) scheduleExpirationSweep() {
	var tick func()
	tick = func() {
		removed := p.store.Sweep(p.sched.Now())
		for _, k := range removed {
			p.emit(metrics.RecordExpired, map[string]any{"key": k.Hex()})
		}
		p.sched.Schedule(p.cfg.RecordExpirationInterval, tick)
	}
	p.sched.Schedule(p.cfg.RecordExpirationInterval, tick)
}

func (p *Peer) scheduleRepublish(k key.Key) {
	var tick func()
	tick = func() {
		if rec, ok := p.store.Get(k); ok {
			now := p.sched.Now()
			fresh := store.NewRecord(k, rec.PublisherID, rec.Value, now, p.cfg.RecordExpirationInterval)
			p.store.Put(fresh)
			p.runPut(k, fresh)
		}
		p.sched.Schedule(p.cfg.RecordPublicationInterval, tick)
	}
	p.sched.Schedule(p.cfg.RecordPublicationInterval, tick)
}
