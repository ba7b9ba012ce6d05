package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("Should write json records", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&buf, "info", "json")
		WithFlowID(l, "f1").Info("Compiled", "warnings", 2)

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "Compiled", record["msg"])
		assert.Equal(t, "f1", record["flow_id"])
	})

	t.Run("Should filter below the level", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&buf, "warn", "text")
		l.Info("hidden")
		l.Warn("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))

	l := slog.New(slog.DiscardHandler)
	ctx := WithLogger(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}
