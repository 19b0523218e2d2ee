package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"Warn", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestDefaultLogConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	config := DefaultLogConfig()

	assert.Equal(t, InfoLevel, config.Level)
	assert.Nil(t, config.Output)
	assert.Equal(t, FormatConsole, config.Format)
	assert.Equal(t, "", config.Prefix)
}

func newJSONLogger(t *testing.T, level LogLevel) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: level, Output: &buf, Format: FormatJSON})
	require.NoError(t, err)
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	logger, buf := newJSONLogger(t, WarnLevel)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", errors.New("boom"))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "ERROR", entries[1]["level"])
	assert.Equal(t, "boom", entries[1]["error"])
}

func TestZapLogger_Fields(t *testing.T) {
	logger, buf := newJSONLogger(t, DebugLevel)

	logger.WithFields(String("provider", "google")).Info("token refreshed",
		Int("attempt", 1),
		Bool("proactive", true),
	)

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "token refreshed", entries[0]["msg"])
	assert.Equal(t, "google", entries[0]["provider"])
	assert.Equal(t, float64(1), entries[0]["attempt"])
	assert.Equal(t, true, entries[0]["proactive"])
}

func TestZapLogger_WithContext(t *testing.T) {
	logger, buf := newJSONLogger(t, DebugLevel)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithUserID(ctx, "user-42")
	logger.WithContext(ctx).Info("handled")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0]["request_id"])
	assert.Equal(t, "user-42", entries[0]["user_id"])
}

func TestZapLogger_WithContextEmpty(t *testing.T) {
	logger, _ := newJSONLogger(t, DebugLevel)
	assert.Same(t, logger, logger.WithContext(context.Background()))
	assert.Same(t, logger, logger.WithFields())
}

func TestZapLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf, Prefix: "connect"})
	require.NoError(t, err)

	logger.Info("started", String("port", "8080"))

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "connect")
	assert.Contains(t, out, "started")
	assert.Contains(t, out, "8080")
}

func TestContextHelpers(t *testing.T) {
	_, ok := RequestIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = UserIDFromContext(ContextWithUserID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := UserIDFromContext(ContextWithUserID(context.Background(), "u1"))
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}

func TestInitGlobalLogger_File(t *testing.T) {
	previous := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(previous) })

	path := filepath.Join(t.TempDir(), "connect.log")
	require.NoError(t, InitGlobalLogger("debug", path, FormatJSON))

	Info("written to file", String("key", "value"))
	MustSync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), `"key":"value"`)
}

func TestInitGlobalLogger_BadPath(t *testing.T) {
	err := InitGlobalLogger("info", filepath.Join(t.TempDir(), "missing", "dir", "x.log"), FormatJSON)
	assert.Error(t, err)
}

func TestSetGlobalLogger(t *testing.T) {
	previous := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(previous) })

	logger, buf := newJSONLogger(t, DebugLevel)
	SetGlobalLogger(logger)

	Debug("debug")
	Warn("warn")
	Error("error", nil)
	WithFields(String("a", "b")).Info("info")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 4)
	assert.Equal(t, "b", entries[3]["a"])
	_, hasErr := entries[2]["error"]
	assert.False(t, hasErr)
}
