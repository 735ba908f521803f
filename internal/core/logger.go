package core

import (
	"log/slog"
	"os"
	"strings"
)

// Logger provides structured logging for Vigil
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new logger instance. Format selects between
// human-readable text output and JSON output, level sets the minimum
// level that is emitted.
func NewLogger(format, level string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// ForComponent returns a logger that tags every record with the component name
func (l *Logger) ForComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
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
