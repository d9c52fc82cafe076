// Package logging builds the simulator's single *slog.Logger from
// configuration (spec §6 log_level_filter / log_file_path). The logger is
// the one true global collaborator (spec §9 "Global state"): every other
// component receives it explicitly rather than reaching for slog.Default.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mod/ipfs-sim/pkg/ports"
)

// Level names the accepted values of log_level_filter.
type Level string

const (
	Off   Level = "off"
	Error Level = "error"
	Warn  Level = "warn"
	Info  Level = "info"
	Debug Level = "debug"
	Trace Level = "trace"
)

// Config mirrors the logging-related fields of spec §6's option table.
type Config struct {
	LevelFilter Level  `yaml:"log_level_filter"`
	FilePath    string `yaml:"log_file_path"`
}

// slogLevel maps Level onto slog's levels. Trace has no stdlib equivalent;
// it is treated one step below Debug, matching the convention the kernel
// mesh logger uses for its most verbose tier.
func (l Level) slogLevel() slog.Level {
	switch l {
	case Error:
		return slog.LevelError
	case Warn:
		return slog.LevelWarn
	case Info:
		return slog.LevelInfo
	case Debug:
		return slog.LevelDebug
	case Trace:
		return slog.LevelDebug - 4
	default:
		return slog.LevelInfo
	}
}

// discardHandler silences all output, used for log_level_filter=off.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }

// New builds a *slog.Logger per cfg. An empty FilePath logs to stderr;
// otherwise the file at FilePath is opened for appending (created if
// absent). The returned closer must be called at simulation shutdown.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	if cfg.LevelFilter == Off {
		return slog.New(discardHandler{}), nopCloser{}, nil
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, ports.NewConfigError("log_file_path", fmt.Errorf("open %q: %w", cfg.FilePath, err))
		}
		w = f
		closer = f
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.LevelFilter.slogLevel()})
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
