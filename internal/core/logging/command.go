package logging

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger creates a logger for CLI work outside a sync session
// (rollback, cleanup). Text output on a terminal, JSON when piped.
func NewCommandLogger(level slog.Level) *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
