package logging

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferDropsOldestWhenFull(t *testing.T) {
	buf := NewBuffer(3)
	for i := range 5 {
		buf.Push(Entry{Message: fmt.Sprintf("m%d", i)})
	}
	require.Equal(t, 3, buf.Len())

	got := buf.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].Message)
	assert.Equal(t, "m3", got[1].Message)
	assert.Equal(t, "m4", got[2].Message)
	assert.Zero(t, buf.Len())
	assert.Empty(t, buf.Drain())
}

func TestBufferDrainKeepsOrderAfterWrap(t *testing.T) {
	buf := NewBuffer(2)
	buf.Push(Entry{Message: "a"})
	buf.Push(Entry{Message: "b"})
	buf.Push(Entry{Message: "c"})
	_ = buf.Drain()
	buf.Push(Entry{Message: "d"})

	got := buf.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "d", got[0].Message)
}

func TestLoggerRecordsIntoBuffer(t *testing.T) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	buf := NewBuffer(10)
	logger := New(level, buf).With("component", "cache")

	logger.Debug("hidden")
	logger.Warn("download failed", "file", "7.png")

	got := buf.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, slog.LevelWarn, got[0].Level)
	assert.Equal(t, "download failed component=cache file=7.png", got[0].Message)

	level.Set(LevelOff)
	logger.Error("suppressed")
	assert.Zero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"trace": slog.LevelDebug,
		"audit": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"error": slog.LevelError,
		"off":   LevelOff,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v, want %v", raw, got, ok, want)
		}
	}
	if _, ok := ParseLevel("verbose"); ok {
		t.Fatal("expected unknown level to be rejected")
	}
}
