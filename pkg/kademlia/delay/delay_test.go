package delay_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/mod/ipfs-sim/pkg/kademlia/delay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantSamplesReturnMean(t *testing.T) {
	cfg := delay.Config{Kind: delay.Constant, Mean: 0.25}
	require.NoError(t, cfg.Validate())
	s := delay.New(cfg)
	r := rand.New(rand.NewSource(1))
	assert.Equal(t, 250*time.Millisecond, s.Sample(r))
}

func TestUniformSamplesWithinRange(t *testing.T) {
	cfg := delay.Config{Kind: delay.Uniform, Min: 0.1, Max: 0.2}
	require.NoError(t, cfg.Validate())
	s := delay.New(cfg)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		d := s.Sample(r)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}

func TestPositiveNormalNeverNegative(t *testing.T) {
	cfg := delay.Config{Kind: delay.PositiveNormal, Mean: 0, StdDev: 1}
	require.NoError(t, cfg.Validate())
	s := delay.New(cfg)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		assert.GreaterOrEqual(t, s.Sample(r), time.Duration(0))
	}
}

func TestValidateRejectsNegativeParams(t *testing.T) {
	cases := []delay.Config{
		{Kind: delay.Constant, Mean: -1},
		{Kind: delay.Uniform, Min: -1, Max: 1},
		{Kind: delay.Uniform, Min: 2, Max: 1},
		{Kind: delay.PositiveNormal, Mean: -1, StdDev: 1},
		{Kind: "bogus"},
	}
	for _, c := range cases {
		assert.Error(t, c.Validate(), "%+v", c)
	}
}
