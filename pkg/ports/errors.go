// Package ports collects the interfaces and error kinds that let the
// simulator core talk to its external collaborators (fingerprint codec,
// signing, configuration, logging) without depending on their concrete
// implementations (spec §1 "Out of scope: external collaborators").
package ports

import "fmt"

// ConfigError wraps an invalid or missing configuration option. It is fatal
// at startup (spec §7).
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError for field, wrapping msg as its cause.
func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Err: err}
}

// ProtocolTimeout records that a single RPC did not respond before the
// per-query deadline. It is recovered locally by the query engine: the
// candidate is marked failed and the query continues (spec §7).
type ProtocolTimeout struct {
	Peer  string
	Cause error
}

func (e *ProtocolTimeout) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol timeout waiting on peer %s: %v", e.Peer, e.Cause)
	}
	return fmt.Sprintf("protocol timeout waiting on peer %s", e.Peer)
}

func (e *ProtocolTimeout) Unwrap() error { return e.Cause }

// NewProtocolTimeout builds a ProtocolTimeout for peer, optionally wrapping
// cause (nil when the RPC simply never answered rather than erroring out).
func NewProtocolTimeout(peer string, cause error) *ProtocolTimeout {
	return &ProtocolTimeout{Peer: peer, Cause: cause}
}

// QueryTimeout records that a whole query's deadline was reached. It is
// surfaced to the caller as a best-effort result rather than treated as a
// hard failure (spec §7).
type QueryTimeout struct {
	Target   string
	Failures []*ProtocolTimeout
}

func (e *QueryTimeout) Error() string {
	return fmt.Sprintf("query timeout for target %s (%d candidates unreachable)", e.Target, len(e.Failures))
}

func (e *QueryTimeout) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0]
}

// NewQueryTimeout builds a QueryTimeout for target, carrying the per-candidate
// ProtocolTimeouts observed while the query was still pending.
func NewQueryTimeout(target string, failures []*ProtocolTimeout) *QueryTimeout {
	return &QueryTimeout{Target: target, Failures: failures}
}

// ErrNotFound is returned when a FindValue query converges without any peer
// returning the value (spec §7). It is a normal outcome, not an exception.
type ErrNotFound struct {
	Key   string
	Cause error
}

func (e *ErrNotFound) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("value not found for key %s: %v", e.Key, e.Cause)
	}
	return fmt.Sprintf("value not found for key %s", e.Key)
}

func (e *ErrNotFound) Unwrap() error { return e.Cause }

// NewErrNotFound builds an ErrNotFound for key, optionally wrapping the
// QueryTimeout (or other cause) that ended the search.
func NewErrNotFound(key string, cause error) *ErrNotFound {
	return &ErrNotFound{Key: key, Cause: cause}
}

// InvariantViolation indicates a routing-table or record-store invariant was
// broken: a bug in this implementation, not a recoverable runtime
// condition. Callers should treat it as fatal (spec §7).
type InvariantViolation struct {
	Invariant string
	Detail    string
	Cause     error
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated (%s): %s", e.Invariant, e.Detail)
}

func (e *InvariantViolation) Unwrap() error { return e.Cause }

// NewInvariantViolation builds an InvariantViolation naming the broken
// invariant and a human-readable detail of the observed state.
func NewInvariantViolation(invariant, detail string) *InvariantViolation {
	return &InvariantViolation{Invariant: invariant, Detail: detail}
}
