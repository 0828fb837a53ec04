package logging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level zapcore.Level) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewLoggerFromCore(core), logs
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := NewLogger(LogConfig{Level: "debug", Format: format})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
}

func TestNewLogger_BadOutputPath(t *testing.T) {
	l, err := NewLogger(LogConfig{OutputPaths: []string{"/nonexistent-dir/x/y.log"}})
	assert.Error(t, err)
	assert.Nil(t, l)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, ok := ParseLevel(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	got, ok := ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, zapcore.InfoLevel, got)
}

func TestZapLogger_LevelsAndFields(t *testing.T) {
	l, logs := newObservedLogger(zapcore.InfoLevel)

	l.Debug("hidden")
	l.Info("apply done", DatasetID("ds-1"), Int("edits", 3), Bool("merged", true))
	l.Warn("fallback", Err(errors.New("api1 down")))
	l.Error("commit failed", Err(nil))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "apply done", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "ds-1", ctx[KeyDatasetID])
	assert.Equal(t, int64(3), ctx["edits"])
	assert.Equal(t, true, ctx["merged"])
	assert.Equal(t, "api1 down", entries[1].ContextMap()["error"])
	assert.Equal(t, "<nil>", entries[2].ContextMap()["error"])
}

func TestZapLogger_WithAndNamed(t *testing.T) {
	l, logs := newObservedLogger(zapcore.DebugLevel)

	child := l.Named("batchedit").With(SessionID("s-9"))
	child.Info("preview")

	entry := logs.All()[0]
	assert.Equal(t, "batchedit", entry.LoggerName)
	assert.Equal(t, "s-9", entry.ContextMap()[KeySessionID])
}

func TestZapLogger_WithContext(t *testing.T) {
	l, logs := newObservedLogger(zapcore.DebugLevel)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithSessionID(ctx, "sess-1")
	l.WithContext(ctx).Info("hello")
	l.WithContext(context.Background()).Info("bare")

	all := logs.All()
	require.Len(t, all, 2)
	assert.Equal(t, "req-1", all[0].ContextMap()[KeyRequestID])
	assert.Equal(t, "sess-1", all[0].ContextMap()[KeySessionID])
	assert.Empty(t, all[1].ContextMap())
}

func TestNopLogger(t *testing.T) {
	n := NewNopLogger()
	n.Debug("x")
	n.Info("x")
	n.Warn("x")
	n.Error("x")
	assert.Equal(t, n, n.With(String("k", "v")))
	assert.Equal(t, n, n.Named("x"))
	assert.Equal(t, n, n.WithContext(context.Background()))
	assert.NoError(t, n.Sync())
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	l, logs := newObservedLogger(zapcore.InfoLevel)
	SetDefault(nil)
	assert.Equal(t, prev, Default())

	SetDefault(l)
	Default().Info("via default")
	assert.Equal(t, 1, logs.Len())
}
