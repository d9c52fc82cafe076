// Package sha3fingerprint implements the default fingerprint(bytes) -> Key
// adapter (spec §1's opaque multiformats codec), backed by Keccak/SHA-3 as
// used throughout the pack's Ethereum/IPFS-adjacent examples.
package sha3fingerprint

import (
	"github.com/mod/ipfs-sim/pkg/kademlia/key"
	"github.com/mod/ipfs-sim/pkg/ports"
	"golang.org/x/crypto/sha3"
)

// Fingerprint hashes data with SHA3-256 and truncates to a Key (spec's
// 256-bit identifier is already exactly the SHA3-256 output width).
func Fingerprint(data []byte) key.Key {
	sum := sha3.Sum256(data)
	var k key.Key
	copy(k[:], sum[:])
	return k
}

// New returns Fingerprint as a ports.Fingerprint value, for wiring into
// components that depend on the port rather than this package directly.
func New() ports.Fingerprint {
	return Fingerprint
}
