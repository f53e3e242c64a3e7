// Package logging provides the structured logger shared by every
// component of dispatch-proxy.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with a few dispatch-proxy-specific helpers.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing text-formatted records at the given level
// to w.
func New(level slog.Level, w io.Writer) *Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(handler)}
}

// NewDefault returns an Info-level logger writing to stderr.
func NewDefault() *Logger {
	return New(slog.LevelInfo, os.Stderr)
}

// ParseLevel parses a log level name, defaulting to Info for anything
// unrecognized.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional attributes attached.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a Logger tagged with a "component" attribute, used to
// scope log lines to a subsystem (e.g. "socks", "server", "dispatcher").
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Conn returns a Logger tagged with the connection's remote address.
func (l *Logger) Conn(remoteAddr string) *Logger {
	return l.With("remote", remoteAddr)
}
