// Package logging builds the service-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Option adjusts logger construction.
type Option func(*settings)

type settings struct {
	output io.Writer
}

// WithOutput redirects log records away from stdout. Tests use it to
// capture output.
func WithOutput(w io.Writer) Option {
	return func(s *settings) { s.output = w }
}

// NewJSONLogger returns a JSON slog logger tagged with the service name.
// Unknown level strings fall back to info.
func NewJSONLogger(service, level string, opts ...Option) *slog.Logger {
	cfg := settings{output: os.Stdout}
	for _, opt := range opts {
		opt(&cfg)
	}
	handler := slog.NewJSONHandler(cfg.output, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler).With("service", service)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
