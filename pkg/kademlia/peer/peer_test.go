package peer_test

import (
	"testing"
	"time"

	"github.com/mod/ipfs-sim/pkg/adapters/sha3fingerprint"
	"github.com/mod/ipfs-sim/pkg/kademlia/delay"
	"github.com/mod/ipfs-sim/pkg/kademlia/key"
	"github.com/mod/ipfs-sim/pkg/kademlia/network"
	"github.com/mod/ipfs-sim/pkg/kademlia/peer"
	"github.com/mod/ipfs-sim/pkg/kademlia/rng"
	"github.com/mod/ipfs-sim/pkg/kademlia/routing"
	"github.com/mod/ipfs-sim/pkg/kademlia/scheduler"
	"github.com/mod/ipfs-sim/pkg/kademlia/store"
	"github.com/mod/ipfs-sim/pkg/kademlia/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(b byte) key.Key {
	var k key.Key
	k[0] = b
	return k
}

// buildNetwork wires n peers over a full topology with a constant,
// effectively-zero link delay, mirroring the shape of spec scenario 1.
func buildNetwork(t *testing.T, n int, cfg peer.Config) (*scheduler.Scheduler, map[key.Key]*peer.Peer) {
	t.Helper()
	sched := scheduler.New()
	sampler := delay.New(delay.Config{Kind: delay.Constant, Mean: 0.01})
	streams := rng.New(1)
	net := network.New(sched, sampler, streams.For(rng.Delay))

	ids := make([]key.Key, n)
	for i := 0; i < n; i++ {
		ids[i] = id(byte(i + 1))
	}
	seeds := topology.New(topology.Config{Kind: topology.Full, FirstID: ids[0], LastID: ids[n-1]}).Seed(ids)

	peers := make(map[key.Key]*peer.Peer, n)
	for _, pid := range ids {
		tbl := routing.New(pid, cfg.K)
		p := peer.New(pid, cfg, tbl, store.New(), net, sched, nil, streams)
		peers[pid] = p
	}
	for pid, neighbors := range seeds {
		for _, nb := range neighbors {
			peers[pid].Table().Observe(routing.PeerInfo{ID: nb}, 0, nil)
		}
	}
	for _, p := range peers {
		p.Start()
	}
	return sched, peers
}

func TestPublishRetrieveRoundTrip(t *testing.T) {
	cfg := peer.Config{
		K:            5,
		Alpha:        3,
		RPCTimeout:   time.Second,
		QueryTimeout: 5 * time.Second,
	}
	sched, peers := buildNetwork(t, 6, cfg)

	publisher := peers[id(1)]
	retriever := peers[id(6)]
	fp := sha3fingerprint.Fingerprint

	published := publisher.PublishData([]byte("hello"), fp)
	sched.Run()

	var value []byte
	var found bool
	retriever.RetrieveData(published, func(v []byte, f bool) {
		value, found = v, f
	})
	sched.Run()

	require.True(t, found)
	assert.Equal(t, []byte("hello"), value)
}

func TestRetrieveNotFoundForUnknownKey(t *testing.T) {
	cfg := peer.Config{
		K:            5,
		Alpha:        3,
		RPCTimeout:   time.Second,
		QueryTimeout: 5 * time.Second,
	}
	sched, peers := buildNetwork(t, 4, cfg)
	retriever := peers[id(1)]

	var missing key.Key
	missing[0] = 0xFF

	var found bool
	called := false
	retriever.RetrieveData(missing, func(v []byte, f bool) {
		found, called = f, true
	})
	sched.Run()

	require.True(t, called)
	assert.False(t, found)
}

func TestWriteBackCachesAtNonHoldingResponders(t *testing.T) {
	// K must be small relative to n so Put's STORE fan-out leaves some peers
	// without the record; under full topology every peer shares the same
	// view of "k closest to the key", so a K that reaches everyone (K=n-1)
	// would make the retriever already hold a copy before it even asks,
	// defeating the write-back path entirely.
	cfg := peer.Config{
		K:               3,
		Alpha:           2,
		RPCTimeout:      time.Second,
		QueryTimeout:    5 * time.Second,
		CachingMaxPeers: 2,
	}
	sched, peers := buildNetwork(t, 8, cfg)

	publisher := peers[id(1)]
	fp := sha3fingerprint.Fingerprint
	target := publisher.PublishData([]byte("cache-me"), fp)
	sched.Run()

	before := make(map[key.Key]bool)
	for pid, p := range peers {
		if _, ok := p.Store().Get(target); ok {
			before[pid] = true
		}
	}
	require.GreaterOrEqual(t, len(before)-1, 1, "Put should have replicated to at least one peer besides the publisher")

	var retriever *peer.Peer
	for pid, p := range peers {
		if pid == publisher.ID() || before[pid] {
			continue
		}
		retriever = p
		break
	}
	require.NotNil(t, retriever, "expected at least one peer without the record after Put")

	retriever.RetrieveData(target, func([]byte, bool) {})
	sched.Run()

	newHolders := 0
	for pid, p := range peers {
		if before[pid] {
			continue
		}
		if _, ok := p.Store().Get(target); ok {
			newHolders++
		}
	}
	// write-back caches at most caching_max_peers previously-non-holding
	// responders; the retriever itself never self-caches on success.
	assert.LessOrEqual(t, newHolders, cfg.CachingMaxPeers)
	_, retrieverCached := retriever.Store().Get(target)
	assert.False(t, retrieverCached)
}
