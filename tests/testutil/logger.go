package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/systmms/dsstore/internal/logging"
)

// NewObservedSink returns a sink whose records are captured in memory at
// debug level.
//
// Example usage:
//
//	sink, logs := testutil.NewObservedSink(t)
//	svc, _ := secrets.New(mgr, secrets.WithSink(sink))
//	_, _ = svc.Get(ctx, "db-pass", "latest")
//	rec := testutil.AssertSingleRecord(t, logs, "get_version")
//	assert.Equal(t, "NOT_FOUND", rec["error_kind"])
func NewObservedSink(t *testing.T) (*logging.Sink, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return logging.NewSinkFromLogger(zap.New(core)), logs
}

// Records returns the context maps of every record emitted for operation.
func Records(logs *observer.ObservedLogs, operation string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, e := range logs.All() {
		fields := e.ContextMap()
		if fields[logging.FieldOperation] == operation {
			out = append(out, fields)
		}
	}
	return out
}

// AssertSingleRecord fails unless exactly one record was emitted in total
// and it belongs to operation. It returns that record's fields.
func AssertSingleRecord(t *testing.T, logs *observer.ObservedLogs, operation string) map[string]interface{} {
	t.Helper()
	all := logs.All()
	require.Len(t, all, 1, "expected exactly one log record, got %d", len(all))
	fields := all[0].ContextMap()
	assert.Equal(t, operation, fields[logging.FieldOperation])
	assert.Contains(t, fields, logging.FieldDuration)
	assert.Contains(t, fields, logging.FieldRequestID)
	return fields
}

// AssertNoPayload fails if any captured record mentions one of the payloads.
func AssertNoPayload(t *testing.T, logs *observer.ObservedLogs, payloads ...string) {
	t.Helper()
	for _, e := range logs.All() {
		for _, p := range payloads {
			assert.NotContains(t, e.Message, p, "message leaks a payload")
		}
		for k, v := range e.ContextMap() {
			if s, ok := v.(string); ok {
				for _, p := range payloads {
					assert.NotContains(t, s, p, "field %q leaks a payload", k)
				}
			}
		}
	}
}
