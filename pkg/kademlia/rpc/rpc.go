// Package rpc defines the wire messages peers exchange over the virtual
// network (spec §4.9 "Receives RPC events (PING, FIND_NODE, FIND_VALUE,
// STORE)"). Messages are plain data; nothing here touches the scheduler or
// the network directly.
package rpc

import (
	"github.com/google/uuid"
	"github.com/mod/ipfs-sim/pkg/kademlia/key"
	"github.com/mod/ipfs-sim/pkg/kademlia/routing"
	"github.com/mod/ipfs-sim/pkg/kademlia/store"
)

// Kind names an RPC method.
type Kind int

const (
	Ping Kind = iota
	FindNode
	FindValue
	Store_
)

func (k Kind) String() string {
	switch k {
	case Ping:
		return "PING"
	case FindNode:
		return "FIND_NODE"
	case FindValue:
		return "FIND_VALUE"
	case Store_:
		return "STORE"
	default:
		return "UNKNOWN"
	}
}

// Request is sent peer->peer through the virtual network. ID correlates it
// with its Response; From lets the receiver update its routing table (spec
// §4.6 "update on observation").
type Request struct {
	ID     uuid.UUID
	Kind   Kind
	From   key.Key
	Target key.Key     // FIND_NODE / FIND_VALUE
	Record store.Record // STORE
}

// Response answers a Request with the same ID.
type Response struct {
	ID    uuid.UUID
	From  key.Key
	Peers []routing.PeerInfo // FIND_NODE, and FIND_VALUE when no value held
	Value []byte             // FIND_VALUE, when held
	Found bool                // FIND_VALUE
	Alive bool                // PING
	Ack   bool                // STORE
}
