package errkind_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/dsstore/pkg/errkind"
)

type novelError struct{}

func (novelError) Error() string { return "something no one has seen before" }

func TestMap_GRPCFamilies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want errkind.Kind
	}{
		{"not found", status.Error(codes.NotFound, "secret missing"), errkind.NotFound},
		{"already exists", status.Error(codes.AlreadyExists, "dup"), errkind.AlreadyExists},
		{"permission denied", status.Error(codes.PermissionDenied, "nope"), errkind.PermissionDenied},
		{"unauthenticated", status.Error(codes.Unauthenticated, "no creds"), errkind.PermissionDenied},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad name"), errkind.InvalidArgument},
		{"out of range", status.Error(codes.OutOfRange, "page"), errkind.InvalidArgument},
		{"precondition generic", status.Error(codes.FailedPrecondition, "etag mismatch"), errkind.InvalidArgument},
		{"precondition disabled", status.Error(codes.FailedPrecondition, "SecretVersion is in DISABLED state"), errkind.NotFound},
		{"precondition destroyed", status.Error(codes.FailedPrecondition, "version was destroyed"), errkind.NotFound},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "quota"), errkind.ResourceExhausted},
		{"unavailable", status.Error(codes.Unavailable, "conn reset"), errkind.Unavailable},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), errkind.Unavailable},
		{"aborted", status.Error(codes.Aborted, "contention"), errkind.Unavailable},
		{"internal", status.Error(codes.Internal, "boom"), errkind.Unknown},
		{"unimplemented", status.Error(codes.Unimplemented, "nope"), errkind.Unknown},
		{"data loss", status.Error(codes.DataLoss, "crc"), errkind.Unknown},
		{"novel code", status.Error(codes.Code(99), "future"), errkind.Unknown},
		{"wrapped status", fmt.Errorf("rpc: %w", status.Error(codes.NotFound, "x")), errkind.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errkind.Map(tt.err))
		})
	}
}

func TestMap_HTTPFamilies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		msg  string
		want errkind.Kind
	}{
		{404, "", errkind.NotFound},
		{409, "", errkind.AlreadyExists},
		{401, "", errkind.PermissionDenied},
		{403, "", errkind.PermissionDenied},
		{400, "", errkind.InvalidArgument},
		{412, "precondition", errkind.InvalidArgument},
		{412, "version is disabled", errkind.NotFound},
		{416, "", errkind.InvalidArgument},
		{429, "", errkind.ResourceExhausted},
		{502, "", errkind.Unavailable},
		{503, "", errkind.Unavailable},
		{504, "", errkind.Unavailable},
		{500, "", errkind.Unknown},
		{418, "", errkind.Unknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.code), func(t *testing.T) {
			err := &googleapi.Error{Code: tt.code, Message: tt.msg}
			assert.Equal(t, tt.want, errkind.Map(err))
		})
	}
}

func TestMap_TransportAndContext(t *testing.T) {
	t.Parallel()

	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

	tests := []struct {
		name string
		err  error
		want errkind.Kind
	}{
		{"deadline", context.DeadlineExceeded, errkind.Unavailable},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), errkind.Unavailable},
		{"canceled", context.Canceled, errkind.Unknown},
		{"net op error", opErr, errkind.Unavailable},
		{"conn refused", syscall.ECONNREFUSED, errkind.Unavailable},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), errkind.Unavailable},
		{"unexpected eof", io.ErrUnexpectedEOF, errkind.Unavailable},
		{"plain error", errors.New("weird"), errkind.Unknown},
		{"novel type", novelError{}, errkind.Unknown},
		{"nil", nil, errkind.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errkind.Map(tt.err))
		})
	}
}

func TestMap_DomainErrorIsIdempotent(t *testing.T) {
	t.Parallel()

	for _, k := range errkind.Kinds() {
		err := errkind.New(k, "get", "projects/p/secrets/s", "msg")
		assert.Equal(t, k, errkind.Map(err), k.String())
		assert.Equal(t, k, errkind.Map(fmt.Errorf("outer: %w", err)), k.String())
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "NOT_FOUND", errkind.NotFound.String())
	assert.Equal(t, "POOL_TIMEOUT", errkind.PoolTimeout.String())
	assert.Equal(t, "UNKNOWN", errkind.Kind(42).String())
	assert.Equal(t, "UNKNOWN", errkind.Kind(-1).String())

	seen := make(map[string]bool)
	for _, k := range errkind.Kinds() {
		assert.False(t, seen[k.String()], "duplicate name %s", k)
		seen[k.String()] = true
	}
}

func TestKind_Retryable(t *testing.T) {
	t.Parallel()

	for _, k := range errkind.Kinds() {
		want := k == errkind.Unavailable || k == errkind.PoolTimeout
		assert.Equal(t, want, k.Retryable(), k.String())
	}
}

func TestWrap(t *testing.T) {
	t.Parallel()

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, errkind.Wrap(nil, "get", "x"))
	})

	t.Run("vendor error is mapped", func(t *testing.T) {
		raw := status.Error(codes.NotFound, "secret [db-pass] not found")
		err := errkind.Wrap(raw, "secrets.get", "projects/p/secrets/db-pass")

		var de *errkind.Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, errkind.NotFound, de.Kind)
		assert.Equal(t, "secrets.get", de.Op)
		assert.Equal(t, "secret [db-pass] not found", de.Message)
		assert.ErrorIs(t, err, errkind.ErrNotFound)
		assert.NotErrorIs(t, err, errkind.ErrAlreadyExists)
		assert.Equal(t, raw, errors.Unwrap(err))
	})

	t.Run("domain error keeps kind and fills context", func(t *testing.T) {
		inner := errkind.New(errkind.InvalidArgument, "", "", "bad")
		err := errkind.Wrap(inner, "params.create", "projects/p/parameters/x")

		var de *errkind.Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, errkind.InvalidArgument, de.Kind)
		assert.Equal(t, "params.create", de.Op)
		assert.Equal(t, "projects/p/parameters/x", de.Resource)
		assert.Empty(t, inner.Op, "original must not be mutated")
	})

	t.Run("error string", func(t *testing.T) {
		err := errkind.New(errkind.PoolTimeout, "pool.acquire", "secrets", "no handle within 5s")
		assert.Equal(t, "pool.acquire secrets: POOL_TIMEOUT: no handle within 5s", err.Error())
	})
}

func TestSuggestion(t *testing.T) {
	t.Parallel()

	for _, k := range errkind.Kinds() {
		assert.NotEmpty(t, errkind.Suggestion(k), k.String())
	}
}
