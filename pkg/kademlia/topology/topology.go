// Package topology produces the initial peer-visibility graph each peer is
// told about at bootstrap (spec §4.3). Topology only seeds initial routing
// tables; the simulation evolves them thereafter.
package topology

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/mod/ipfs-sim/pkg/kademlia/key"
)

// Kind names a topology variant.
type Kind string

const (
	Full Kind = "full"
	Ring Kind = "ring"
	Star Kind = "star"
)

// Config is the dependent-field configuration for a topology variant.
type Config struct {
	Kind     Kind    `yaml:"kind"`
	FirstID  key.Key `yaml:"-"` // full: resolved from FirstIDHex at load time
	LastID   key.Key `yaml:"-"`
	CenterID key.Key `yaml:"-"` // star

	FirstIDHex  string `yaml:"first_id"`
	LastIDHex   string `yaml:"last_id"`
	CenterIDHex string `yaml:"center_id"`
}

// Validate checks that the fields required by Kind are present.
func (c Config) Validate() error {
	switch c.Kind {
	case Full:
		if c.FirstIDHex == "" || c.LastIDHex == "" {
			return fmt.Errorf("topology.full: first_id and last_id are required")
		}
	case Ring:
		// no dependent fields
	case Star:
		if c.CenterIDHex == "" {
			return fmt.Errorf("topology.star: center_id is required")
		}
	default:
		return fmt.Errorf("topology: unknown kind %q", c.Kind)
	}
	return nil
}

// Seeder returns, for each known peer id, the set of peer ids it should
// start out knowing.
type Seeder interface {
	Seed(peers []key.Key) map[key.Key][]key.Key
}

// New builds the Seeder named by cfg.Kind. Callers must Validate cfg first.
func New(cfg Config) Seeder {
	switch cfg.Kind {
	case Full:
		return fullSeeder{first: cfg.FirstID, last: cfg.LastID}
	case Ring:
		return ringSeeder{}
	case Star:
		return starSeeder{center: cfg.CenterID}
	default:
		panic(fmt.Sprintf("topology: unknown kind %q", cfg.Kind))
	}
}

func sortedCopy(peers []key.Key) []key.Key {
	out := make([]key.Key, len(peers))
	copy(out, peers)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// fullSeeder makes every peer in [first,last] (by key ordering over the
// supplied peer set) know every other peer in that range.
type fullSeeder struct{ first, last key.Key }

func (f fullSeeder) Seed(peers []key.Key) map[key.Key][]key.Key {
	in := sortedCopy(peers)
	var ranged []key.Key
	for _, p := range in {
		if bytes.Compare(p[:], f.first[:]) >= 0 && bytes.Compare(p[:], f.last[:]) <= 0 {
			ranged = append(ranged, p)
		}
	}
	result := make(map[key.Key][]key.Key, len(peers))
	for _, p := range peers {
		result[p] = nil
	}
	for _, p := range ranged {
		neighbors := make([]key.Key, 0, len(ranged)-1)
		for _, q := range ranged {
			if q != p {
				neighbors = append(neighbors, q)
			}
		}
		result[p] = neighbors
	}
	return result
}

// ringSeeder gives each peer its two neighbors in sorted id order, wrapping
// around at the ends.
type ringSeeder struct{}

func (ringSeeder) Seed(peers []key.Key) map[key.Key][]key.Key {
	in := sortedCopy(peers)
	n := len(in)
	result := make(map[key.Key][]key.Key, n)
	if n == 0 {
		return result
	}
	if n == 1 {
		result[in[0]] = nil
		return result
	}
	for i, p := range in {
		prev := in[(i-1+n)%n]
		next := in[(i+1)%n]
		if n == 2 {
			result[p] = []key.Key{next}
			continue
		}
		result[p] = []key.Key{prev, next}
	}
	return result
}

// starSeeder gives every non-center peer the center, and the center every
// other peer.
type starSeeder struct{ center key.Key }

func (s starSeeder) Seed(peers []key.Key) map[key.Key][]key.Key {
	result := make(map[key.Key][]key.Key, len(peers))
	var rest []key.Key
	for _, p := range peers {
		if p != s.center {
			rest = append(rest, p)
		}
	}
	for _, p := range peers {
		if p == s.center {
			result[p] = rest
		} else {
			result[p] = []key.Key{s.center}
		}
	}
	return result
}
