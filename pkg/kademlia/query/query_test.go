package query_test

import (
	"testing"
	"time"

	"github.com/mod/ipfs-sim/pkg/kademlia/key"
	"github.com/mod/ipfs-sim/pkg/kademlia/query"
	"github.com/mod/ipfs-sim/pkg/kademlia/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(b byte) key.Key {
	var k key.Key
	k[0] = b
	return k
}

func seedTable(self key.Key, peers ...key.Key) *routing.Table {
	tbl := routing.New(self, 20)
	for _, p := range peers {
		tbl.Observe(routing.PeerInfo{ID: p}, 0, nil)
	}
	return tbl
}

// fakeTransport answers FindNode with a scripted map of peer->response,
// invoking callbacks synchronously (the scheduler in production supplies
// the "later" part; the state machine itself is scheduler-agnostic).
type fakeTransport struct {
	findNodeAnswers map[key.Key][]routing.PeerInfo
	unreachable     map[key.Key]bool
	findValueAt     key.Key // peer that returns the value
	value           []byte
}

func (f *fakeTransport) SendFindNode(self, peer, target key.Key, now time.Duration, onResult func(time.Duration, []routing.PeerInfo, bool)) {
	if f.unreachable[peer] {
		onResult(now+time.Millisecond, nil, false)
		return
	}
	onResult(now+time.Millisecond, f.findNodeAnswers[peer], true)
}

func (f *fakeTransport) SendFindValue(self, peer, target key.Key, now time.Duration, onResult func(time.Duration, []byte, bool, []routing.PeerInfo, bool)) {
	if f.unreachable[peer] {
		onResult(now+time.Millisecond, nil, false, nil, false)
		return
	}
	if peer == f.findValueAt {
		onResult(now+time.Millisecond, f.value, true, nil, true)
		return
	}
	onResult(now+time.Millisecond, nil, false, f.findNodeAnswers[peer], true)
}

func TestFindNodeConvergesOnKClosest(t *testing.T) {
	self := id(0)
	p1, p2, p3 := id(1), id(2), id(3)
	tbl := seedTable(self, p1, p2, p3)
	transport := &fakeTransport{findNodeAnswers: map[key.Key][]routing.PeerInfo{
		p1: nil, p2: nil, p3: nil,
	}}

	var result query.Result
	done := false
	l := query.New(self, id(9), query.FindNode, 3, 3, 5, 0, time.Second, tbl, transport, func(r query.Result) {
		result = r
		done = true
	})
	l.Advance(0)

	require.True(t, done)
	assert.False(t, result.TimedOut)
	assert.Len(t, result.Peers, 3)
}

func TestFindNodeEndsEmptyWhenNoCandidatesRespond(t *testing.T) {
	self := id(0)
	p1 := id(1)
	tbl := seedTable(self, p1)
	transport := &fakeTransport{unreachable: map[key.Key]bool{p1: true}}

	var result query.Result
	l := query.New(self, id(9), query.FindNode, 3, 3, 5, 0, 500*time.Millisecond, tbl, transport, func(r query.Result) {
		result = r
	})
	l.Advance(0)
	// p1's failure leaves nothing pending, so the query already finished on
	// the first Advance; a later call at the deadline is a no-op.
	l.Advance(500 * time.Millisecond)

	assert.Empty(t, result.Peers)
}

func TestFindValueStopsOnFirstHit(t *testing.T) {
	self := id(0)
	p1, p2 := id(1), id(2)
	tbl := seedTable(self, p1, p2)
	transport := &fakeTransport{
		findValueAt:     p1,
		value:           []byte("payload"),
		findNodeAnswers: map[key.Key][]routing.PeerInfo{p2: nil},
	}

	var result query.Result
	l := query.New(self, id(9), query.FindValue, 3, 3, 5, 0, time.Second, tbl, transport, func(r query.Result) {
		result = r
	})
	l.Advance(0)

	require.True(t, result.Found)
	assert.Equal(t, []byte("payload"), result.Value)
}

func TestFindValueRecordsWriteBackTargets(t *testing.T) {
	self := id(0)
	near, far, holder := id(1), id(200), id(2)
	tbl := seedTable(self, near, far, holder)
	target := id(9)
	transport := &fakeTransport{
		findValueAt: holder,
		value:       []byte("v"),
		findNodeAnswers: map[key.Key][]routing.PeerInfo{
			near: nil,
			far:  nil,
		},
	}

	var result query.Result
	l := query.New(self, target, query.FindValue, 3, 1, 1, 0, time.Second, tbl, transport, func(r query.Result) {
		result = r
	})
	l.Advance(0)

	require.True(t, result.Found)
	assert.LessOrEqual(t, len(result.WriteBack), 1)
	require.Len(t, result.WriteBack, 1)
	assert.Equal(t, near, result.WriteBack[0].ID)
}

func TestFindNodeMergesDiscoveredPeers(t *testing.T) {
	self := id(0)
	p1 := id(1)
	p2 := id(2) // only discoverable via p1's response
	tbl := seedTable(self, p1)
	transport := &fakeTransport{findNodeAnswers: map[key.Key][]routing.PeerInfo{
		p1: {{ID: p2}},
		p2: nil,
	}}

	var result query.Result
	l := query.New(self, id(9), query.FindNode, 3, 1, 5, 0, time.Second, tbl, transport, func(r query.Result) {
		result = r
	})
	l.Advance(0)

	ids := make([]key.Key, 0, len(result.Peers))
	for _, p := range result.Peers {
		ids = append(ids, p.ID)
	}
	assert.Contains(t, ids, p1)
	assert.Contains(t, ids, p2)
}
