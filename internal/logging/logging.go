// Package logging configures the process slog logger and provides the
// dispatcher's diagnostic reporter.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LevelCritical sits above slog.LevelError; it is used for task failures.
const LevelCritical = slog.Level(12)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the process logger once; later calls are ignored.
func Setup(level, format string) {
	once.Do(func() {
		logger = NewLoggerWithWriter(ParseLevel(level), format, os.Stdout)
		slog.SetDefault(logger)
	})
}

// Get returns the process logger, setting up a JSON INFO logger if Setup was never called.
func Get() *slog.Logger {
	Setup("info", "json")
	return logger
}

// WithComponent returns the process logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// NewLoggerWithWriter creates a logger writing to w. format is "json" or "text".
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a level name to slog.Level; unknown names map to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}
