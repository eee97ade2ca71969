package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-archiver/internal/config"
)

func jsonConfig(level string) config.LoggingConfig {
	return config.LoggingConfig{Level: level, Format: "json", ContextFields: map[string]string{"service": "test"}}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestLoggerManager_ContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(jsonConfig("info"), &buf)

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithInstrument(ctx, "000001.SZ")
	ctx = WithSegment(ctx, "2020-01-01~2020-12-31")

	lm.WithContext(ctx).Info("segment fetched")

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "INFO", recs[0]["level"])
	assert.Equal(t, "run-1", recs[0]["run_id"])
	assert.Equal(t, "000001.SZ", recs[0]["instrument"])
	assert.Equal(t, "2020-01-01~2020-12-31", recs[0]["segment"])
	assert.Equal(t, "test", recs[0]["service"])
}

func TestLoggerManager_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(jsonConfig("warn"), &buf)

	lm.GetLogger().Info("dropped")
	lm.GetLogger().Warn("kept")

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "kept", recs[0]["msg"])
}

func TestComponentLoggerIsCached(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(jsonConfig("info"), &buf)

	a := lm.GetComponentLogger("collector")
	b := lm.GetComponentLogger("collector")
	assert.Same(t, a.Logger, b.Logger)

	a.WithInstrument("600000.SH").Info("hello")
	recs := decodeLines(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "collector", recs[0]["component"])
	assert.Equal(t, "600000.SH", recs[0]["instrument"])
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(jsonConfig("debug"), &buf)
	boom := errors.New("boom")

	err := TimedOperation(context.Background(), lm.GetLogger(), "write", func() error { return boom })
	assert.ErrorIs(t, err, boom)

	require.NoError(t, TimedOperation(context.Background(), lm.GetLogger(), "write", func() error { return nil }))

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "ERROR", recs[0]["level"])
	assert.Equal(t, "write", recs[0]["operation"])
	assert.Equal(t, "DEBUG", recs[1]["level"])
}

func TestNewLoggerManager_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "archiver.log")
	lm, err := NewLoggerManager(config.LoggingConfig{Level: "info", Format: "text", Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)
	lm.GetLogger().Info("to file")
	require.NoError(t, lm.Close())
	assert.FileExists(t, path)
}

func TestNewLoggerManager_FileOutputRequiresPath(t *testing.T) {
	_, err := NewLoggerManager(config.LoggingConfig{Level: "info", Format: "text", Output: "file"})
	assert.Error(t, err)
}

func TestNewRunID(t *testing.T) {
	id := NewRunID()
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.NotEqual(t, id, NewRunID())
	assert.Equal(t, id, GetRunID(WithRunID(context.Background(), id)))
}
