package logging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/systmms/dsstore/pkg/errkind"
)

func observed() (*Sink, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewSinkFromLogger(zap.New(core)), logs
}

func TestTimer_Success(t *testing.T) {
	t.Parallel()

	sink, logs := observed()
	now := time.Unix(100, 0)
	sink = sink.WithClock(func() time.Time { return now })

	timer := sink.Start("secrets", "create", "projects/p/secrets/db-pass")
	now = now.Add(1500 * time.Microsecond)
	timer.Add(zap.Bool("cache_hit", false)).Done(nil)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	assert.Equal(t, "operation completed", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, "create", fields[FieldOperation])
	assert.Equal(t, "secrets", fields[FieldStore])
	assert.Equal(t, "projects/p/secrets/db-pass", fields[FieldResource])
	assert.Equal(t, 1.5, fields[FieldDuration])
	assert.Equal(t, OutcomeSuccess, fields[FieldOutcome])
	assert.Equal(t, timer.RequestID(), fields[FieldRequestID])
	assert.Equal(t, false, fields["cache_hit"])
	assert.NotContains(t, fields, FieldErrorKind)
}

func TestTimer_EmitsOnce(t *testing.T) {
	t.Parallel()

	sink, logs := observed()
	timer := sink.Start("secrets", "get", "x")
	timer.Done(nil)
	timer.Done(errors.New("late"))
	timer.Done(nil)

	assert.Equal(t, 1, logs.Len())
}

func TestTimer_ErrorKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		kind  string
		level zapcore.Level
	}{
		{"not found", errkind.New(errkind.NotFound, "get", "x", "missing"), "NOT_FOUND", zapcore.WarnLevel},
		{"invalid", errkind.New(errkind.InvalidArgument, "create", "x", "bad"), "INVALID_ARGUMENT", zapcore.WarnLevel},
		{"unavailable", errkind.New(errkind.Unavailable, "get", "x", "down"), "UNAVAILABLE", zapcore.ErrorLevel},
		{"pool timeout", errkind.New(errkind.PoolTimeout, "get", "x", "busy"), "POOL_TIMEOUT", zapcore.ErrorLevel},
		{"raw deadline", context.DeadlineExceeded, "UNAVAILABLE", zapcore.ErrorLevel},
		{"unrecognized", errors.New("boom"), "UNKNOWN", zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, logs := observed()
			sink.Start("parameters", "get", "x").Done(tt.err)

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, "operation failed", entry.Message)
			assert.Equal(t, OutcomeError, entry.ContextMap()[FieldOutcome])
			assert.Equal(t, tt.kind, entry.ContextMap()[FieldErrorKind])
		})
	}
}

func TestTimer_UniqueRequestIDs(t *testing.T) {
	t.Parallel()

	sink := NopSink()
	a := sink.Start("secrets", "get", "x")
	b := sink.Start("secrets", "get", "x")
	assert.NotEqual(t, a.RequestID(), b.RequestID())
	assert.Len(t, a.RequestID(), 36)
}

func TestNewSink(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"", "json", "text"} {
		s, err := NewSink(SinkConfig{Level: "debug", Format: format})
		require.NoError(t, err, format)
		assert.NotNil(t, s.Logger())
	}

	_, err := NewSink(SinkConfig{Format: "xml"})
	assert.Error(t, err)
	_, err = NewSink(SinkConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestBegin_NestedCallsShareOneRecord(t *testing.T) {
	t.Parallel()

	sink, logs := observed()

	ctx, outer := sink.Begin(context.Background(), "parameters", "render", "projects/p/parameters/app")
	_, inner := sink.Begin(ctx, "secrets", "get_version", "projects/p/secrets/db")
	assert.Equal(t, outer.RequestID(), inner.RequestID())

	inner.Done(errkind.New(errkind.NotFound, "get_version", "db", "missing"))
	outer.Done(nil)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "render", logs.All()[0].ContextMap()[FieldOperation])
}
