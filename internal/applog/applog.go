// Package applog wires up the process-wide structured logger. Grounded on
// the original CLI's internal/commands/root.go, which installs a JSON slog
// handler as the process default before any command runs; blocksql
// generalizes that one call site into Init. The CLI installs its handler
// directly, and the library's Open() path falls back to Default.
package applog

import (
	"log/slog"
	"os"
)

// Init installs a JSON slog handler at the given level as the process
// default logger. pretty selects a human-readable text handler instead,
// for interactive CLI use (mirrors the original's VYBE_PRETTY_JSON knob,
// applied here to logging rather than JSON output formatting).
func Init(level slog.Level, pretty bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if pretty {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Default returns the process default logger (slog.Default). It installs
// no handler of its own; without Init, that is slog's built-in default.
func Default() *slog.Logger {
	return slog.Default()
}
