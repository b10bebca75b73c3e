package logging

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/systmms/dsstore/internal/metrics"
	"github.com/systmms/dsstore/pkg/errkind"
)

// Record field keys.
const (
	FieldOperation = "operation"
	FieldResource  = "resource"
	FieldStore     = "store"
	FieldDuration  = "duration_ms"
	FieldOutcome   = "outcome"
	FieldErrorKind = "error_kind"
	FieldRequestID = "request_id"

	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// SinkConfig selects level and encoding of the structured sink.
type SinkConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// Sink receives operation records. Payload bytes never reach it.
type Sink struct {
	log     *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewSink builds a zap production (json) or development (text) logger.
func NewSink(cfg SinkConfig) (*Sink, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		zc = zap.NewDevelopmentConfig()
	case "", "json":
		zc = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q (want json or text)", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableStacktrace = true

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return NewSinkFromLogger(l), nil
}

// NewSinkFromLogger wraps an existing zap logger.
func NewSinkFromLogger(l *zap.Logger) *Sink {
	return &Sink{log: l.Named("dsstore"), now: time.Now}
}

// NopSink discards every record.
func NopSink() *Sink {
	return NewSinkFromLogger(zap.NewNop())
}

// WithMetrics also counts every record in the operation metrics.
func (s *Sink) WithMetrics(m *metrics.Recorder) *Sink {
	cp := *s
	cp.metrics = m
	return &cp
}

// WithClock replaces time.Now, for tests.
func (s *Sink) WithClock(now func() time.Time) *Sink {
	cp := *s
	cp.now = now
	return &cp
}

// Logger returns the underlying zap logger.
func (s *Sink) Logger() *zap.Logger { return s.log }

// Sync flushes buffered records.
func (s *Sink) Sync() error { return s.log.Sync() }

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Timer is the timing record of one public call. It is emitted exactly once
// by the first call to Done; later calls are ignored.
type Timer struct {
	sink      *Sink
	operation string
	store     string
	resource  string
	requestID string
	start     time.Time
	fields    []zap.Field
	done      atomic.Bool
	// nested timers belong to an enclosing call and never emit.
	nested bool
}

type timerKey struct{}

// Start captures the start time of an operation on resource.
func (s *Sink) Start(store, operation, resource string) *Timer {
	return &Timer{
		sink:      s,
		operation: operation,
		store:     store,
		resource:  resource,
		requestID: uuid.NewString(),
		start:     s.now(),
	}
}

// Begin is Start for calls that may run inside another public call. When
// ctx already carries a timer the returned one is silent and shares its
// request ID, so a composite call still yields a single record.
func (s *Sink) Begin(ctx context.Context, store, operation, resource string) (context.Context, *Timer) {
	if parent, ok := ctx.Value(timerKey{}).(*Timer); ok {
		return ctx, &Timer{sink: s, operation: operation, store: store, resource: resource, requestID: parent.requestID, start: s.now(), nested: true}
	}
	t := s.Start(store, operation, resource)
	return context.WithValue(ctx, timerKey{}, t), t
}

// RequestID identifies this call in the emitted record.
func (t *Timer) RequestID() string { return t.requestID }

// Add attaches extra fields, such as batch counts or cache hits.
func (t *Timer) Add(fields ...zap.Field) *Timer {
	t.fields = append(t.fields, fields...)
	return t
}

// Done emits the record. err is mapped to its error kind.
func (t *Timer) Done(err error) {
	if t.nested || !t.done.CompareAndSwap(false, true) {
		return
	}
	d := t.sink.now().Sub(t.start)

	fields := make([]zap.Field, 0, 7+len(t.fields))
	fields = append(fields,
		zap.String(FieldOperation, t.operation),
		zap.String(FieldStore, t.store),
		zap.String(FieldResource, t.resource),
		zap.Float64(FieldDuration, float64(d.Microseconds())/1000),
		zap.String(FieldRequestID, t.requestID),
	)
	fields = append(fields, t.fields...)

	outcome := OutcomeSuccess
	if err == nil {
		fields = append(fields, zap.String(FieldOutcome, OutcomeSuccess))
		t.sink.log.Info("operation completed", fields...)
	} else {
		kind := errkind.KindOf(err)
		outcome = kind.String()
		fields = append(fields,
			zap.String(FieldOutcome, OutcomeError),
			zap.String(FieldErrorKind, kind.String()),
			zap.String("error", err.Error()),
		)
		if clientSide(kind) {
			t.sink.log.Warn("operation failed", fields...)
		} else {
			t.sink.log.Error("operation failed", fields...)
		}
	}

	if t.sink.metrics != nil {
		t.sink.metrics.RecordOperation(t.store, t.operation, outcome, d.Seconds())
	}
}

func clientSide(k errkind.Kind) bool {
	switch k {
	case errkind.NotFound, errkind.AlreadyExists, errkind.InvalidArgument, errkind.PermissionDenied:
		return true
	default:
		return false
	}
}
