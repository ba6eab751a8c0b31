// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"

	"github.com/miiohome/vacuumd/internal/config"
)

// New builds a slog.Logger from config: JSON for machines, text for
// terminals, with the device name attached to every record.
func New(cfg config.LoggingConfig, device string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("device", device)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
