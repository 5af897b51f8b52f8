package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	require.Equal(t, slog.LevelWarn, parseLogLevel("WARN"))
	require.Equal(t, slog.LevelError, parseLogLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLogLevel("info"))
	require.Equal(t, slog.LevelInfo, parseLogLevel("garbage"), "unknown levels fall back to info")
}

func TestNewLoggerPicksHandlerByFormat(t *testing.T) {
	jsonLogger := NewLogger(&Config{LogFormat: "json", LogLevel: "debug"})
	require.IsType(t, &slog.JSONHandler{}, jsonLogger.Handler())
	require.True(t, jsonLogger.Enabled(context.Background(), slog.LevelDebug))

	textLogger := NewLogger(&Config{LogFormat: "pretty", LogLevel: "warn"})
	require.IsType(t, &slog.TextHandler{}, textLogger.Handler())
	require.False(t, textLogger.Enabled(context.Background(), slog.LevelInfo))
}
