package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(t *testing.T, lvl slog.Level) *bytes.Buffer {
	t.Helper()
	prev, prevLevel := Logger, level.Level()
	t.Cleanup(func() {
		Logger = prev
		level.Set(prevLevel)
	})
	var buf bytes.Buffer
	level.Set(lvl)
	Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level}))
	return &buf
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestWithAddsAttributes(t *testing.T) {
	buf := captureLogger(t, slog.LevelInfo)

	With("device", "living").Info("Manual up", "pin", "5")
	Debug("dropped")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "Manual up", rec["msg"])
	assert.Equal(t, "living", rec["device"])
	assert.Equal(t, "5", rec["pin"])
}

func TestWrapSlogWritesDebug(t *testing.T) {
	buf := captureLogger(t, slog.LevelDebug)

	WrapSlog("bus", "bus1").Printf("modbus: sending % x", []byte{1, 5})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "bus1", rec["bus"])
	assert.Equal(t, "modbus: sending 01 05", rec["msg"])
}

func TestInitReadsLevel(t *testing.T) {
	prev, prevLevel := Logger, level.Level()
	t.Cleanup(func() {
		Logger = prev
		level.Set(prevLevel)
		slog.SetDefault(prev)
	})
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "text")

	Init()
	assert.Equal(t, slog.LevelWarn, level.Level())
	assert.False(t, Logger.Enabled(t.Context(), slog.LevelInfo))
}
