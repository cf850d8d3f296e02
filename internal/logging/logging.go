// Package logging builds the process-wide slog logger.
package logging

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// New returns a logger writing to f: human-readable text when f is a
// terminal, JSON lines otherwise.
func New(f *os.File, level slog.Level) *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(f.Fd())) {
		handler = slog.NewTextHandler(f, options)
	} else {
		handler = slog.NewJSONHandler(f, options)
	}
	return slog.New(handler)
}
