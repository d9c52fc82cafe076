// Package key implements the 256-bit identifier space shared by peer ids and
// record keys, and the XOR metric used to order them.
package key

import (
	"bytes"
	"encoding/hex"
	"math/big"
)

// Length is the width, in bytes, of a Key (256 bits).
const Length = 32

// Key is an immutable 256-bit identifier. Peer ids and record keys are both
// Keys; the distinction is purely in how the bytes were derived, which is
// the fingerprint port's concern, not this package's.
type Key [Length]byte

// String returns a shortened hex form, suitable for logs.
func (k Key) String() string {
	s := hex.EncodeToString(k[:])
	return s[:8]
}

// Hex returns the full hex encoding.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// Less orders keys lexicographically. Used only to break ties in
// closest-first sorts; it carries no metric meaning on its own.
func (k Key) Less(other Key) bool {
	return bytes.Compare(k[:], other[:]) < 0
}

// Distance returns a XOR interpreted as a 256-bit unsigned integer.
func Distance(a, b Key) *big.Int {
	var xor [Length]byte
	for i := range xor {
		xor[i] = a[i] ^ b[i]
	}
	return new(big.Int).SetBytes(xor[:])
}

// CPL returns the common-prefix length of a and b: the number of leading
// zero bits of a^b, in [0, 256]. CPL(a, a) == 256.
func CPL(a, b Key) int {
	for i := 0; i < Length; i++ {
		x := a[i] ^ b[i]
		if x == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if x&(0x80>>uint(bit)) != 0 {
				return i*8 + bit
			}
		}
	}
	return Length * 8
}

// LessDistantThan reports whether x is strictly closer to target than y is.
// Ties are broken by lexicographic Key order so that closest-first sorts
// are a deterministic function of the input set.
func LessDistantThan(x, y, target Key) bool {
	dx := Distance(x, target)
	dy := Distance(y, target)
	cmp := dx.Cmp(dy)
	if cmp != 0 {
		return cmp < 0
	}
	return x.Less(y)
}

// Random derives a pseudo-random Key using the supplied byte source, e.g. a
// seeded *rand.Rand via rng.Read. It never consults crypto/rand, so callers
// get reproducible keys under a fixed simulation seed.
func Random(read func([]byte) (int, error)) Key {
	var k Key
	_, _ = read(k[:])
	return k
}

// RandomInRange derives a random key sharing exactly cpl leading bits with
// base, used by routing-table refresh (spec §4.6) to target a bucket's CPL
// range.
func RandomInRange(base Key, cpl int, read func([]byte) (int, error)) Key {
	k := Random(read)
	if cpl < 0 {
		return k
	}
	if cpl >= Length*8 {
		return base
	}
	fullBytes := cpl / 8
	remBits := cpl % 8
	for i := 0; i < fullBytes; i++ {
		k[i] = base[i]
	}
	// Copy base's leading remBits of the boundary byte, then force bit cpl
	// itself to the opposite of base's so the two keys diverge there exactly.
	mask := byte(0xFF << uint(8-remBits))
	flipBit := byte(0x80 >> uint(remBits))
	boundary := (base[fullBytes] & mask) | (k[fullBytes] &^ mask)
	boundary = (boundary &^ flipBit) | (^base[fullBytes] & flipBit)
	k[fullBytes] = boundary
	return k
}

// Closest sorts candidates by ascending distance to target, ties broken by
// PeerId order (spec §4.1), and returns at most count of them. candidates is
// not mutated.
func Closest(candidates []Key, target Key, count int) []Key {
	out := make([]Key, len(candidates))
	copy(out, candidates)
	sortByDistance(out, target)
	if len(out) > count {
		out = out[:count]
	}
	return out
}

func sortByDistance(ks []Key, target Key) {
	// insertion sort is fine: bucket/candidate sets are bounded by k (tens),
	// never large enough to warrant sort.Slice's overhead tuning.
	for i := 1; i < len(ks); i++ {
		for j := i; j > 0 && LessDistantThan(ks[j], ks[j-1], target); j-- {
			ks[j], ks[j-1] = ks[j-1], ks[j]
		}
	}
}
