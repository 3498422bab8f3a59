package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		log := New(nil)
		require.NotNil(t, log)
		ctx := context.Background()
		assert.False(t, log.Enabled(ctx, slog.LevelDebug))
		assert.True(t, log.Enabled(ctx, slog.LevelInfo))
	})

	t.Run("json output", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(&Config{Level: "info", Format: "json", Output: &buf})

		log.Info("request handled", "status", 200, "path", "/api/v1/payments")

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "request handled", record["msg"])
		assert.Equal(t, float64(200), record["status"])
		assert.Equal(t, "/api/v1/payments", record["path"])
	})

	t.Run("text output", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(&Config{Level: "info", Format: "text", Output: &buf})

		log.Warn("slow request", "latency_ms", 1200)

		assert.Contains(t, buf.String(), "slow request")
		assert.Contains(t, buf.String(), "latency_ms=1200")
	})

	t.Run("level filters below threshold", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(&Config{Level: "error", Format: "json", Output: &buf})

		log.Info("dropped")
		assert.Empty(t, buf.String())

		log.Error("kept")
		assert.Contains(t, buf.String(), "kept")
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run("level "+tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "info", Format: "json", Output: &buf})

	scoped := log.With("request_id", "req-42")
	scoped.Info("handled")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "req-42", record["request_id"])
}

func TestNewZapLogger(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		log, err := NewZapLogger(nil)
		require.NoError(t, err)
		require.NotNil(t, log)
	})

	t.Run("bad level falls back to info", func(t *testing.T) {
		log, err := NewZapLogger(&Config{Level: "bogus", Format: "json"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})
}
