// Package duckdbsink persists simulation events to DuckDB for post-hoc
// analysis (spec §2 "Metrics/log sink"), adapted from the schema-file +
// parameterized-query pattern of the teacher's dstore demo. Unlike that
// demo, the schema is embedded rather than read from a relative
// schema.sql, since a simulator binary has no fixed working directory to
// resolve that against.
package duckdbsink

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/mod/ipfs-sim/pkg/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS simulation_events (
	logical_time_ns BIGINT,
	kind             VARCHAR,
	peer_id          VARCHAR,
	fields           VARCHAR
);
`

// Sink is a ports.EventSink backed by a DuckDB database.
type Sink struct {
	db *sql.DB
}

// New opens (or creates) the DuckDB database at path and ensures the
// simulation_events table exists. An empty path opens an in-memory
// database, convenient for tests and short-lived runs.
func New(path string) (*Sink, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("duckdbsink: open %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("duckdbsink: create schema: %w", err)
	}
	return &Sink{db: db}, nil
}

// Emit inserts evt as a row. Errors are swallowed rather than propagated:
// the event sink must never block or abort the single scheduler goroutine
// it is called from (spec §9, EventSink's doc contract).
func (s *Sink) Emit(evt ports.Event) {
	fields, err := json.Marshal(evt.Fields)
	if err != nil {
		fields = []byte("{}")
	}
	_, _ = s.db.Exec(
		`INSERT INTO simulation_events (logical_time_ns, kind, peer_id, fields) VALUES (?, ?, ?, ?)`,
		evt.LogicalTime.Nanoseconds(), evt.Kind, evt.PeerID, string(fields),
	)
}

// Close releases the underlying database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

// CountByKind is a small query helper used by tests and post-run reporting
// to tally how many events of a given kind were recorded.
func (s *Sink) CountByKind(kind string) (int, error) {
	row := s.db.QueryRow(`SELECT count(*) FROM simulation_events WHERE kind = ?`, kind)
	var n int
	err := row.Scan(&n)
	return n, err
}
