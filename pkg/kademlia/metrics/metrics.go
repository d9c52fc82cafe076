// Package metrics implements the structured event sink named in spec §2/§6:
// it fans out query_started/rpc_sent/rpc_received/rpc_timeout/
// record_stored/record_expired/query_completed events to one or more
// ports.EventSink backends (a slog logger always; optionally a persisted
// sink such as pkg/adapters/duckdbsink).
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/mod/ipfs-sim/pkg/ports"
)

// Event kind constants, matching spec §6 exactly.
const (
	QueryStarted   = "query_started"
	RPCSent        = "rpc_sent"
	RPCReceived    = "rpc_received"
	RPCTimeout     = "rpc_timeout"
	RecordStored   = "record_stored"
	RecordExpired  = "record_expired"
	QueryCompleted = "query_completed"
)

// SlogSink adapts a *slog.Logger into a ports.EventSink, always active
// regardless of configuration (spec's "The only true global is the logger
// sink").
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink wraps logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

// Emit logs evt at a level derived from its kind: timeouts are warnings,
// everything else is informational.
func (s *SlogSink) Emit(evt ports.Event) {
	level := slog.LevelInfo
	if evt.Kind == RPCTimeout {
		level = slog.LevelWarn
	}
	attrs := make([]any, 0, 4+2*len(evt.Fields))
	attrs = append(attrs, slog.Duration("logical_time", evt.LogicalTime))
	if evt.PeerID != "" {
		attrs = append(attrs, slog.String("peer_id", evt.PeerID))
	}
	for k, v := range evt.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.Log(context.Background(), level, evt.Kind, attrs...)
}

// MultiSink fans a single Emit out to every configured backend, in order.
type MultiSink struct {
	sinks []ports.EventSink
}

// NewMultiSink builds a MultiSink over sinks.
func NewMultiSink(sinks ...ports.EventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Emit(evt ports.Event) {
	for _, s := range m.sinks {
		s.Emit(evt)
	}
}

// Add appends s to the fan-out list, letting a caller (e.g. a test) observe
// events emitted after construction without rebuilding every peer's sink.
func (m *MultiSink) Add(s ports.EventSink) {
	m.sinks = append(m.sinks, s)
}

// Event is a small helper for building a ports.Event inline at call sites.
func Event(now time.Duration, kind, peerID string, fields map[string]any) ports.Event {
	return ports.Event{LogicalTime: now, Kind: kind, PeerID: peerID, Fields: fields}
}
