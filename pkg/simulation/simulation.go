// Package simulation wires a config.Config into a running set of peers
// sharing a scheduler and virtual network (spec §2 "Control flow"). It is
// the one place that knows about every leaf package; nothing in
// pkg/kademlia imports it.
package simulation

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/mod/ipfs-sim/internal/config"
	"github.com/mod/ipfs-sim/internal/logging"
	"github.com/mod/ipfs-sim/pkg/adapters/duckdbsink"
	"github.com/mod/ipfs-sim/pkg/adapters/sha3fingerprint"
	"github.com/mod/ipfs-sim/pkg/kademlia/delay"
	"github.com/mod/ipfs-sim/pkg/kademlia/key"
	"github.com/mod/ipfs-sim/pkg/kademlia/metrics"
	"github.com/mod/ipfs-sim/pkg/kademlia/network"
	"github.com/mod/ipfs-sim/pkg/kademlia/peer"
	"github.com/mod/ipfs-sim/pkg/kademlia/rng"
	"github.com/mod/ipfs-sim/pkg/kademlia/routing"
	"github.com/mod/ipfs-sim/pkg/kademlia/scheduler"
	"github.com/mod/ipfs-sim/pkg/kademlia/store"
	"github.com/mod/ipfs-sim/pkg/kademlia/topology"
	"github.com/mod/ipfs-sim/pkg/kademlia/userload"
	"github.com/mod/ipfs-sim/pkg/ports"
)

// Simulation owns every peer, the scheduler that drives them, and the
// collaborators (network, sinks, RNG streams) spec §9 says must be passed
// explicitly rather than reached for globally.
type Simulation struct {
	cfg       config.Config
	sched     *scheduler.Scheduler
	net       *network.VirtualNetwork
	peers     map[key.Key]*peer.Peer
	logger    *slog.Logger
	gen       *userload.Generator
	closers   []io.Closer
	multiSink *metrics.MultiSink
}

// New builds a Simulation from cfg. cfg is assumed already validated (see
// config.Load).
func New(cfg config.Config) (*Simulation, error) {
	logger, logCloser, err := logging.New(logging.Config{LevelFilter: cfg.LogLevelFilter, FilePath: cfg.LogFilePath})
	if err != nil {
		return nil, err
	}
	closers := []io.Closer{logCloser}

	sinks := []ports.EventSink{metrics.NewSlogSink(logger)}
	if cfg.EventStorePath != "" {
		db, err := duckdbsink.New(cfg.EventStorePath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, db)
		closers = append(closers, db)
	}
	multiSink := metrics.NewMultiSink(sinks...)
	var sink ports.EventSink = multiSink

	streams := rng.New(cfg.Seed)
	sched := scheduler.New()
	if cfg.SimulationHorizon > 0 {
		sched.SetHorizon(config.Seconds(cfg.SimulationHorizon))
	}
	sampler := delay.New(cfg.DelayDistribution)
	net := network.New(sched, sampler, streams.For(rng.Delay))

	peerCfg := peer.Config{
		K:                         cfg.K,
		Alpha:                     cfg.Alpha,
		RPCTimeout:                config.Seconds(cfg.QueryTimeout),
		QueryTimeout:              config.Seconds(cfg.QueryTimeout),
		CachingMaxPeers:           cfg.CachingMaxPeers,
		RecordExpirationInterval:  config.Seconds(cfg.RecordExpirationInterval),
		RecordPublicationInterval: config.Seconds(cfg.RecordPublicationInterval),
		KBucketsRefreshInterval:   config.Seconds(cfg.KBucketsRefreshInterval),
		EnableBootstrap:           cfg.EnableBootstrap,
		EnableRepublishing:        cfg.EnableRepublishing,
	}

	topologyRNG := streams.For(rng.Topology)
	peers := make(map[key.Key]*peer.Peer, cfg.NumPeers)
	ids := make([]key.Key, 0, cfg.NumPeers)
	for len(ids) < cfg.NumPeers {
		id := key.Random(topologyRNG.Read)
		if _, exists := peers[id]; exists {
			continue
		}
		p := peer.New(id, peerCfg, routing.New(id, cfg.K), store.New(), net, sched, sink, streams)
		peers[id] = p
		ids = append(ids, id)
	}

	seeds := topology.New(cfg.Topology).Seed(ids)
	for id, neighbors := range seeds {
		for _, nb := range neighbors {
			peers[id].Table().Observe(routing.PeerInfo{ID: nb}, 0, nil)
		}
	}
	for _, p := range peers {
		p.Start()
	}

	sim := &Simulation{cfg: cfg, sched: sched, net: net, peers: peers, logger: logger, closers: closers, multiSink: multiSink}

	if cfg.EnableUserLoadGeneration {
		list := sim.PeerList()
		sim.gen = userload.New(userload.Config{
			BlockSize:      cfg.UserLoadBlockSize,
			BlocksPoolSize: cfg.UserLoadBlocksPoolSize,
			EventsInterval: config.Seconds(cfg.UserLoadEventsInterval),
		}, sched, list, sha3fingerprint.Fingerprint, streams.For(rng.UserLoad))
		sim.gen.Start()
	}

	return sim, nil
}

// Fingerprint is the simulation's content-addressing function, exposed so
// callers can compute a RecordKey ahead of calling Publish.
func (s *Simulation) Fingerprint() ports.Fingerprint { return sha3fingerprint.Fingerprint }

// Peer returns the peer with id, if present.
func (s *Simulation) Peer(id key.Key) (*peer.Peer, bool) {
	p, ok := s.peers[id]
	return p, ok
}

// PeerList returns every peer, sorted by id for deterministic iteration.
func (s *Simulation) PeerList() []*peer.Peer {
	ids := make([]key.Key, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	out := make([]*peer.Peer, len(ids))
	for i, id := range ids {
		out[i] = s.peers[id]
	}
	return out
}

// AddSink appends sink to the simulation's event fan-out, letting a caller
// (e.g. a test) observe events emitted by every peer from this point on.
func (s *Simulation) AddSink(sink ports.EventSink) { s.multiSink.Add(sink) }

// CheckInvariants verifies every peer's routing table and record store
// still satisfy spec §8's invariants, returning the first
// *ports.InvariantViolation found, wrapped with the offending peer's id
// (errors.As still recovers the original typed error through this wrap).
func (s *Simulation) CheckInvariants() error {
	for _, p := range s.PeerList() {
		if err := p.CheckInvariants(); err != nil {
			return fmt.Errorf("peer %s: %w", p.ID().String(), err)
		}
	}
	return nil
}

// Now returns the scheduler's current logical time.
func (s *Simulation) Now() time.Duration { return s.sched.Now() }

// Run drains the event queue (or runs until the configured horizon).
func (s *Simulation) Run() { s.sched.Run() }

// Close releases the logger and any optional persisted-event sink.
func (s *Simulation) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
