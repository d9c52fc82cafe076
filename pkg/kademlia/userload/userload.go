// Package userload implements the background traffic generator (spec
// §4.10): a pool of fixed-size blocks, periodically published or retrieved
// by a randomly chosen peer, to exercise the simulator under load without
// a real application driving it.
package userload

import (
	"math/rand"
	"time"

	"github.com/mod/ipfs-sim/pkg/kademlia/key"
	"github.com/mod/ipfs-sim/pkg/kademlia/peer"
	"github.com/mod/ipfs-sim/pkg/kademlia/scheduler"
	"github.com/mod/ipfs-sim/pkg/ports"
)

// Config mirrors the user_load_* fields of spec §6.
type Config struct {
	BlockSize      int
	BlocksPoolSize int
	EventsInterval time.Duration
}

// Generator drives PublishData/RetrieveData traffic against a fixed set of
// peers, chosen uniformly at random per event.
type Generator struct {
	cfg    Config
	sched  *scheduler.Scheduler
	rng    *rand.Rand
	peers  []*peer.Peer
	fp     ports.Fingerprint
	blocks [][]byte

	published []key.Key
}

// New builds a Generator whose block pool is filled deterministically from
// rng at construction time.
func New(cfg Config, sched *scheduler.Scheduler, peers []*peer.Peer, fp ports.Fingerprint, rng *rand.Rand) *Generator {
	blocks := make([][]byte, cfg.BlocksPoolSize)
	for i := range blocks {
		b := make([]byte, cfg.BlockSize)
		rng.Read(b)
		blocks[i] = b
	}
	return &Generator{cfg: cfg, sched: sched, rng: rng, peers: peers, fp: fp, blocks: blocks}
}

// Start schedules the first event; the generator reschedules itself every
// EventsInterval thereafter.
func (g *Generator) Start() {
	if len(g.peers) == 0 || g.cfg.EventsInterval <= 0 {
		return
	}
	g.sched.Schedule(g.cfg.EventsInterval, g.tick)
}

func (g *Generator) tick() {
	if len(g.published) == 0 || g.rng.Intn(2) == 0 {
		g.publish()
	} else {
		g.retrieve()
	}
	g.sched.Schedule(g.cfg.EventsInterval, g.tick)
}

func (g *Generator) publish() {
	block := g.blocks[g.rng.Intn(len(g.blocks))]
	p := g.peers[g.rng.Intn(len(g.peers))]
	k := p.PublishData(block, g.fp)
	g.published = append(g.published, k)
}

func (g *Generator) retrieve() {
	target := g.published[g.rng.Intn(len(g.published))]
	p := g.peers[g.rng.Intn(len(g.peers))]
	p.RetrieveData(target, func([]byte, bool) {})
}
