// Package network implements the virtual network mediator (spec §4.5): it
// knows every peer by id, samples a link delay per send, and schedules the
// resulting delivery as a future event. It holds no reference cycles with
// Peer (spec §9 "Cyclic references peer<->network"): peers never hold
// pointers to each other, only to this mediator.
package network

import (
	"math/rand"

	"github.com/mod/ipfs-sim/pkg/kademlia/delay"
	"github.com/mod/ipfs-sim/pkg/kademlia/key"
	"github.com/mod/ipfs-sim/pkg/kademlia/scheduler"
)

// Deliver is invoked on the receiving peer when a message arrives.
type Deliver func(from key.Key, msg any)

// VirtualNetwork routes messages peer->peer, applying a per-send delay
// sample before scheduling a Deliver event at the destination.
type VirtualNetwork struct {
	sched   *scheduler.Scheduler
	sampler delay.Sampler
	rng     *rand.Rand
	peers   map[key.Key]Deliver
}

// New creates a VirtualNetwork driven by sched, sampling delays from
// sampler using rng.
func New(sched *scheduler.Scheduler, sampler delay.Sampler, rng *rand.Rand) *VirtualNetwork {
	return &VirtualNetwork{
		sched:   sched,
		sampler: sampler,
		rng:     rng,
		peers:   make(map[key.Key]Deliver),
	}
}

// Register associates id with the handler invoked when a message addressed
// to id is delivered.
func (n *VirtualNetwork) Register(id key.Key, deliver Deliver) {
	n.peers[id] = deliver
}

// Unregister removes a peer from the network, e.g. to model a departed
// node; after this call, messages sent to id are silently dropped, which
// the query-level timeout interprets as non-response.
func (n *VirtualNetwork) Unregister(id key.Key) {
	delete(n.peers, id)
}

// Send computes a delay sample and schedules a Deliver(to, from, msg) event
// at now+delay (spec §4.5). There is no packet loss: if to is not a known
// peer, the send is simply a no-op, which manifests at the query layer as a
// peer that never responds before its RPC deadline. Message ordering
// between the same pair of peers is not guaranteed, since each Send draws
// an independent delay sample.
func (n *VirtualNetwork) Send(from, to key.Key, msg any) {
	deliver, ok := n.peers[to]
	if !ok {
		return
	}
	d := n.sampler.Sample(n.rng)
	n.sched.Schedule(d, func() {
		deliver(from, msg)
	})
}
