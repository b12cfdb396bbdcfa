// Package logging builds the slog logger used by the CLI.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalid is returned for an unknown level or format.
var ErrInvalid = errors.New("logging: invalid option")

// Options selects where and how logs are written.
type Options struct {
	// Level is one of debug, info, warn or error. Default: info
	Level string

	// Format is text or json. Default: text
	Format string

	// Output is stderr, stdout or a file path appended to.
	// Default: stderr
	Output string
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: level %q", ErrInvalid, s)
	}
}

// New creates a logger. The returned closer releases the log file, if any,
// and is always non-nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	format := strings.ToLower(opts.Format)
	if format != "" && format != "text" && format != "json" {
		return nil, nil, fmt.Errorf("%w: format %q", ErrInvalid, opts.Format)
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(opts.Output) {
	case "", "stderr":
	case "stdout":
		w = os.Stdout
	default:
		if dir := filepath.Dir(opts.Output); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create log directory %s: %w", dir, err)
			}
		}
		f, err := os.OpenFile(opts.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", opts.Output, err)
		}
		w, closer = f, f
	}

	return NewWithWriter(w, level, format), closer, nil
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level slog.Level, format string) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
