package errors_test

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/dsstore/internal/errors"
	"github.com/systmms/dsstore/pkg/errkind"
)

func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Operation failed",
		Details:    "Connection timeout",
		Suggestion: "Check network connectivity",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Operation failed")
	assert.Contains(t, errMsg, "Details: Connection timeout")
	assert.Contains(t, errMsg, "Try: Check network connectivity")
}

func TestUserErrorFallsBackToWrapped(t *testing.T) {
	t.Parallel()

	inner := fmt.Errorf("dial tcp: refused")
	err := errors.UserError{Err: inner}

	assert.Equal(t, "dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "pool.size",
		Value:      -1,
		Message:    "must be positive",
		Suggestion: "Set pool.size to at least 1",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "in field 'pool.size'")
	assert.Contains(t, errMsg, "(value: -1)")
	assert.Contains(t, errMsg, "must be positive")
	assert.Contains(t, errMsg, "Set pool.size to at least 1")
}

func TestStoreError(t *testing.T) {
	t.Parallel()

	cause := errkind.New(errkind.PermissionDenied, "get_version", "projects/p/secrets/db", "caller lacks access")
	err := errors.StoreError("secrets", "get", cause)

	var ue errors.UserError
	require.True(t, stderrors.As(err, &ue))
	assert.Contains(t, ue.Message, "PERMISSION_DENIED")
	assert.Equal(t, errkind.Suggestion(errkind.PermissionDenied), ue.Suggestion)
	assert.Equal(t, errkind.PermissionDenied, errkind.KindOf(err))
}

func TestStoreError_TransientHint(t *testing.T) {
	t.Parallel()

	err := errors.StoreError("parameters", "list", errkind.New(errkind.PoolTimeout, "list", "projects/p/parameters", ""))

	var ue errors.UserError
	require.True(t, stderrors.As(err, &ue))
	assert.True(t, strings.HasPrefix(ue.Suggestion, errkind.Suggestion(errkind.PoolTimeout)))
	assert.Contains(t, ue.Suggestion, "transient")
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", errkind.New(errkind.Unavailable, "get", "", ""), true},
		{"pool timeout", errkind.New(errkind.PoolTimeout, "get", "", ""), true},
		{"not found", errkind.New(errkind.NotFound, "get", "", ""), false},
		{"wrapped kind", fmt.Errorf("cli: %w", errkind.New(errkind.Unavailable, "list", "", "")), true},
		{"plain timeout", fmt.Errorf("i/o timeout"), true},
		{"plain reset", fmt.Errorf("read: connection reset by peer"), true},
		{"plain other", fmt.Errorf("bad request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, errors.IsRetryable(tt.err))
		})
	}
}

func TestSimplifyError(t *testing.T) {
	t.Parallel()

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, errors.SimplifyError(nil))
	})

	t.Run("user error unchanged", func(t *testing.T) {
		in := errors.UserError{Message: "x"}
		assert.Equal(t, in, errors.SimplifyError(in))
	})

	t.Run("config error unchanged", func(t *testing.T) {
		in := errors.ConfigError{Message: "x"}
		assert.Equal(t, in, errors.SimplifyError(in))
	})

	t.Run("domain error gets suggestion", func(t *testing.T) {
		out := errors.SimplifyError(errkind.New(errkind.NotFound, "get", "projects/p/secrets/a", ""))
		var ue errors.UserError
		require.True(t, stderrors.As(out, &ue))
		assert.Equal(t, errkind.Suggestion(errkind.NotFound), ue.Suggestion)
		assert.Contains(t, ue.Message, "projects/p/secrets/a")
	})

	t.Run("yaml", func(t *testing.T) {
		out := errors.SimplifyError(fmt.Errorf("load: %w", fmt.Errorf("yaml: line 3: mapping values are not allowed")))
		var ce errors.ConfigError
		require.True(t, stderrors.As(out, &ce))
		assert.Equal(t, "Invalid YAML format", ce.Message)
	})

	t.Run("missing file", func(t *testing.T) {
		out := errors.SimplifyError(&fs.PathError{Op: "open", Path: "/x", Err: fmt.Errorf("no such file or directory")})
		assert.Contains(t, out.Error(), "File or directory not found")
	})

	t.Run("unrecognized", func(t *testing.T) {
		in := fmt.Errorf("something odd")
		assert.Equal(t, in, errors.SimplifyError(in))
	})
}
