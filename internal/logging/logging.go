// Package logging builds the slog loggers shared by staffctl and staffapi.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects level, format, and destination for a logger.
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string
	// Format is "text" or "json".
	Format string
	// Output is "stderr" (default), "stdout", or "discard".
	Output string
}

// New creates a logger from Config.
// Output defaults to stderr; stdout is reserved for command output such as
// `staffctl auth export`.
func New(cfg Config) *slog.Logger {
	var w io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		w = os.Stdout
	case "discard":
		w = io.Discard
	default:
		w = os.Stderr
	}
	return NewWithWriter(ParseLevel(cfg.Level), cfg.Format, w)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
