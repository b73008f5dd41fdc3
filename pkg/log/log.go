// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
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

// NewHandler returns a JSON handler when format is "json" and a text handler otherwise.
func NewHandler(w io.Writer, logLevel, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(logLevel)}

	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

func Setup(logLevel, format string) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, logLevel, format)))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
