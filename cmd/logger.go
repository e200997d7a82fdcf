package cmd

import (
	"log/slog"
	"os"
)

// newLogger builds the process-wide logger and installs it as the slog default.
// Debug mode switches to the human-readable text handler.
func newLogger(debug bool) *slog.Logger {
	var h slog.Handler
	if debug {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		})
	} else {
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}

	logger := slog.New(h).With("service", "sessiond")
	slog.SetDefault(logger)
	return logger
}
