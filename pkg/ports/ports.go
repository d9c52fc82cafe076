package ports

import (
	"time"

	"github.com/mod/ipfs-sim/pkg/kademlia/key"
)

// Fingerprint maps arbitrary bytes to a Key. The core treats it as an
// opaque collaborator (spec §1): the multiformats/CID codec tables that a
// real IPFS node would use live entirely behind this function.
type Fingerprint func(data []byte) key.Key

// KeyPair is an opaque asymmetric keypair used to derive a PeerId and to
// sign/verify protocol messages. The core never inspects its internals
// (spec §1 "cryptographic primitives").
type KeyPair interface {
	// PeerID derives this keypair's PeerId via fp.
	PeerID(fp Fingerprint) key.Key
	Sign(data []byte) ([]byte, error)
	Verify(data, sig []byte) bool
}

// Event is a structured observability record (spec §6): one of
// query_started, rpc_sent, rpc_received, rpc_timeout, record_stored,
// record_expired, query_completed.
type Event struct {
	LogicalTime time.Duration
	Kind        string
	PeerID      string
	Fields      map[string]any
}

// EventSink accepts structured events for post-hoc analysis (spec §2
// "Metrics/log sink", §6 "Observability"). Implementations must not block
// the caller for long, since the caller is always the single scheduler
// goroutine.
type EventSink interface {
	Emit(Event)
}
