package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mod/ipfs-sim/internal/config"
	"github.com/mod/ipfs-sim/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validBody = `
seed: 1
k: 5
alpha: 3
num_peers: 20
delay_distribution:
  kind: constant
  mean: 0.01
topology:
  kind: full
  first_id: "0000000000000000000000000000000000000000000000000000000000000001"
  last_id: "00000000000000000000000000000000000000000000000000000000000000ff"
record_publication_interval: 60
record_expiration_interval: 120
kbuckets_refresh_interval: 30
query_timeout: 5
caching_max_peers: 3
enable_bootstrap: true
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validBody)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.K)
	assert.Equal(t, 3, cfg.Alpha)
	assert.True(t, cfg.EnableBootstrap)
}

func TestLoadRejectsAlphaGreaterThanK(t *testing.T) {
	path := writeConfig(t, strings.Replace(validBody, "alpha: 3", "alpha: 99", 1))
	_, err := config.Load(path)
	require.Error(t, err)
	var cfgErr *ports.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "alpha", cfgErr.Field)
}

func TestLoadRejectsNegativeDelayParameter(t *testing.T) {
	body := `
seed: 1
k: 5
alpha: 3
num_peers: 20
delay_distribution:
  kind: constant
  mean: -1
topology:
  kind: ring
query_timeout: 5
`
	path := writeConfig(t, body)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRequiresUserLoadFieldsWhenEnabled(t *testing.T) {
	path := writeConfig(t, validBody+"\nenable_user_load_generation: true\n")
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingTopologyDependentFields(t *testing.T) {
	body := `
seed: 1
k: 5
alpha: 3
num_peers: 20
delay_distribution:
  kind: constant
  mean: 0.01
topology:
  kind: star
query_timeout: 5
`
	path := writeConfig(t, body)
	_, err := config.Load(path)
	require.Error(t, err)
}
