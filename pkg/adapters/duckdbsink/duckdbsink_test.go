package duckdbsink_test

import (
	"testing"
	"time"

	"github.com/mod/ipfs-sim/pkg/adapters/duckdbsink"
	"github.com/mod/ipfs-sim/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitPersistsRowsQueryableByKind(t *testing.T) {
	sink, err := duckdbsink.New("")
	require.NoError(t, err)
	defer sink.Close()

	sink.Emit(ports.Event{LogicalTime: time.Second, Kind: "query_started", PeerID: "p1", Fields: map[string]any{"target": "abc"}})
	sink.Emit(ports.Event{LogicalTime: 2 * time.Second, Kind: "query_completed", PeerID: "p1"})

	n, err := sink.CountByKind("query_started")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
