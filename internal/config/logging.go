package config

import (
	"io"
	"log/slog"
)

// NewLogger builds the process-wide structured logger: a JSON handler to
// the given writer (stderr in cmd/coagent).
func NewLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
