// Package config loads and validates the simulator's configuration file
// (spec §6). Durations in the YAML source are plain seconds, matching the
// delay/topology sub-configs' own convention (spec §4.2's "non-negative
// real").
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/mod/ipfs-sim/internal/logging"
	"github.com/mod/ipfs-sim/pkg/kademlia/delay"
	"github.com/mod/ipfs-sim/pkg/kademlia/key"
	"github.com/mod/ipfs-sim/pkg/kademlia/topology"
	"github.com/mod/ipfs-sim/pkg/ports"
	"gopkg.in/yaml.v3"
)


// Config is the plain options record spec §6 describes. YAML tags name the
// option exactly as listed there.
type Config struct {
	LogLevelFilter logging.Level `yaml:"log_level_filter"`
	LogFilePath    string        `yaml:"log_file_path"`

	Seed  uint64 `yaml:"seed"`
	K     int    `yaml:"k"`
	Alpha int    `yaml:"alpha"`

	NumPeers int `yaml:"num_peers"`

	DelayDistribution delay.Config    `yaml:"delay_distribution"`
	Topology          topology.Config `yaml:"topology"`

	RecordPublicationInterval float64 `yaml:"record_publication_interval"`
	RecordExpirationInterval  float64 `yaml:"record_expiration_interval"`
	KBucketsRefreshInterval   float64 `yaml:"kbuckets_refresh_interval"`
	QueryTimeout              float64 `yaml:"query_timeout"`
	CachingMaxPeers           int     `yaml:"caching_max_peers"`

	EnableBootstrap          bool `yaml:"enable_bootstrap"`
	EnableRepublishing       bool `yaml:"enable_republishing"`
	EnableUserLoadGeneration bool `yaml:"enable_user_load_generation"`

	UserLoadBlockSize       int     `yaml:"user_load_block_size"`
	UserLoadBlocksPoolSize  int     `yaml:"user_load_blocks_pool_size"`
	UserLoadEventsInterval  float64 `yaml:"user_load_events_interval"`

	// SimulationHorizon bounds the logical-time run length (spec §4.4
	// "Termination"); zero means run until the event queue drains.
	SimulationHorizon float64 `yaml:"simulation_horizon"`

	// EventStorePath, if set, additionally persists structured events to a
	// DuckDB database at this path (spec §2 "Metrics/log sink"); the slog
	// sink is always active regardless of this field.
	EventStorePath string `yaml:"event_store_path"`
}

// Load reads and parses the YAML file at path, then validates it.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, ports.NewConfigError("path", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, ports.NewConfigError("yaml", err)
	}
	if err := cfg.resolveHexFields(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// resolveHexFields decodes the topology's hex-encoded key fields into the
// key.Key values its Seeder implementations consume.
func (c *Config) resolveHexFields() error {
	decode := func(field, s string) (key.Key, error) {
		var k key.Key
		if s == "" {
			return k, nil
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return k, ports.NewConfigError(field, err)
		}
		if len(b) != key.Length {
			return k, ports.NewConfigError(field, fmt.Errorf("expected %d bytes, got %d", key.Length, len(b)))
		}
		copy(k[:], b)
		return k, nil
	}
	var err error
	if c.Topology.FirstID, err = decode("topology.first_id", c.Topology.FirstIDHex); err != nil {
		return err
	}
	if c.Topology.LastID, err = decode("topology.last_id", c.Topology.LastIDHex); err != nil {
		return err
	}
	if c.Topology.CenterID, err = decode("topology.center_id", c.Topology.CenterIDHex); err != nil {
		return err
	}
	return nil
}

// Validate rejects negative delay parameters, alpha > k, and missing
// dependent fields (spec §6 "Validation").
func (c Config) Validate() error {
	if c.K <= 0 {
		return ports.NewConfigError("k", fmt.Errorf("must be positive, got %d", c.K))
	}
	if c.Alpha <= 0 {
		return ports.NewConfigError("alpha", fmt.Errorf("must be positive, got %d", c.Alpha))
	}
	if c.Alpha > c.K {
		return ports.NewConfigError("alpha", fmt.Errorf("must be <= k (%d), got %d", c.K, c.Alpha))
	}
	if c.NumPeers <= 0 {
		return ports.NewConfigError("num_peers", fmt.Errorf("must be positive, got %d", c.NumPeers))
	}
	if err := c.DelayDistribution.Validate(); err != nil {
		return ports.NewConfigError("delay_distribution", err)
	}
	if err := c.Topology.Validate(); err != nil {
		return ports.NewConfigError("topology", err)
	}
	for field, v := range map[string]float64{
		"record_publication_interval": c.RecordPublicationInterval,
		"record_expiration_interval":  c.RecordExpirationInterval,
		"kbuckets_refresh_interval":   c.KBucketsRefreshInterval,
		"query_timeout":               c.QueryTimeout,
	} {
		if v < 0 {
			return ports.NewConfigError(field, fmt.Errorf("must be >= 0, got %v", v))
		}
	}
	if c.CachingMaxPeers < 0 {
		return ports.NewConfigError("caching_max_peers", fmt.Errorf("must be >= 0, got %d", c.CachingMaxPeers))
	}
	if c.EnableUserLoadGeneration {
		if c.UserLoadBlockSize <= 0 {
			return ports.NewConfigError("user_load_block_size", fmt.Errorf("required and must be positive when user load generation is enabled"))
		}
		if c.UserLoadBlocksPoolSize <= 0 {
			return ports.NewConfigError("user_load_blocks_pool_size", fmt.Errorf("required and must be positive when user load generation is enabled"))
		}
		if c.UserLoadEventsInterval <= 0 {
			return ports.NewConfigError("user_load_events_interval", fmt.Errorf("required and must be positive when user load generation is enabled"))
		}
	}
	return nil
}

// Seconds converts a spec-style "non-negative real" duration field into a
// time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
