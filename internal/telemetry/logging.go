package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger writing to w. Format "json" selects the JSON
// handler; anything else is human readable text.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// SetupLogger initializes the global logger on stderr. Empty arguments fall
// back to LOG_LEVEL and LOG_FORMAT.
func SetupLogger(level, format string) *slog.Logger {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}

	logger := NewLogger(os.Stderr, level, format)
	slog.SetDefault(logger)
	return logger
}

type ctxKey string

const ctxLogger ctxKey = "logger"

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLogger, logger)
}

// FromContext returns the logger stored in ctx, or the global one.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

func WithFlowID(logger *slog.Logger, flowID string) *slog.Logger {
	return logger.With("flow_id", flowID)
}
