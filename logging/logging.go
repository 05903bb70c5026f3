// Package logging builds the structured loggers the libtrack packages
// expect to be handed.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a structured logger for the given environment,
// writing to stdout. Production logs JSON at info level; anything else
// logs human-readable text at debug level.
func NewLogger(env string) *slog.Logger {
	return slog.New(NewHandler(os.Stdout, env))
}

// NewHandler builds the slog handler NewLogger wraps, writing to w.
// Exposed so hosts can redirect the output or stack middleware
// handlers on top.
func NewHandler(w io.Writer, env string) slog.Handler {
	if env == "production" {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	}

	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
}

// Discard returns a logger that drops everything. Useful for tests and
// for hosts that bring their own logging.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1 << 30)}))
}
