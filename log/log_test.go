package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"trace": LevelTrace,
		"DEBUG": LevelDebug,
		"info":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
		"crit":  LevelCrit,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestModuleFiltering(t *testing.T) {
	var buf bytes.Buffer
	prev := Root()
	defer SetDefault(prev)
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(&buf, LevelTrace, false)))

	DisableModule(CoderMonitoring)
	Debug(CoderMonitoring, "hidden")
	require.Empty(t, buf.String())

	EnableModules("cvm_coder, cvm_unroll")
	defer DisableModule(CoderMonitoring)
	defer DisableModule(UnrollMonitoring)
	Debug(CoderMonitoring, "method compiled", "bytes", 120)
	out := buf.String()
	require.Contains(t, out, "DEBUG")
	require.Contains(t, out, "cvm_coder")
	require.Contains(t, out, "bytes=120")

	buf.Reset()
	Info(CacheMonitoring, "always shown")
	require.True(t, strings.HasPrefix(buf.String(), "INFO "))
}

func TestRecordLogs(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(&bytes.Buffer{}, LevelInfo, false)))

	RecordLogs()
	Warn(EngineMonitoring, "first")
	Error(EngineMonitoring, "second", "err", "boom")
	recs := RecordedLogs()
	require.Len(t, recs, 2)
	require.Equal(t, "first", recs[0].Message)
	require.Equal(t, slog.LevelError, recs[1].Level)
}
