package errkind

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Map classifies a raw transport or vendor error. It is pure and total:
// every input yields exactly one Kind, and anything unrecognized yields
// Unknown. Classification is by status-code family so new vendor codes
// default to Unknown instead of slipping through.
func Map(err error) Kind {
	if err == nil {
		return Unknown
	}

	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}

	// Cancellation is the caller's decision, not a store failure.
	if errors.Is(err, context.Canceled) {
		return Unknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Unavailable
	}

	if s, ok := status.FromError(err); ok {
		return fromCode(s.Code(), s.Message())
	}

	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return fromHTTP(ge.Code, ge.Message)
	}

	if isNetworkError(err) {
		return Unavailable
	}

	return Unknown
}

func fromCode(code codes.Code, msg string) Kind {
	switch code {
	case codes.NotFound:
		return NotFound
	case codes.AlreadyExists:
		return AlreadyExists
	case codes.PermissionDenied, codes.Unauthenticated:
		return PermissionDenied
	case codes.InvalidArgument, codes.OutOfRange:
		return InvalidArgument
	case codes.FailedPrecondition:
		if versionGone(msg) {
			return NotFound
		}
		return InvalidArgument
	case codes.ResourceExhausted:
		return ResourceExhausted
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		return Unavailable
	default:
		return Unknown
	}
}

func fromHTTP(code int, msg string) Kind {
	switch code {
	case http.StatusNotFound:
		return NotFound
	case http.StatusConflict:
		return AlreadyExists
	case http.StatusUnauthorized, http.StatusForbidden:
		return PermissionDenied
	case http.StatusBadRequest, http.StatusRequestedRangeNotSatisfiable:
		return InvalidArgument
	case http.StatusPreconditionFailed:
		if versionGone(msg) {
			return NotFound
		}
		return InvalidArgument
	case http.StatusTooManyRequests:
		return ResourceExhausted
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Unavailable
	default:
		return Unknown
	}
}

// versionGone detects precondition failures caused by reading a version
// that is no longer accessible.
func versionGone(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "disabled") || strings.Contains(m, "destroyed")
}

func isNetworkError(err error) bool {
	// syscall.Errno satisfies net.Error, so errnos are matched individually.
	var ne net.Error
	if errors.As(err, &ne) {
		if _, isErrno := ne.(syscall.Errno); !isErrno {
			return true
		}
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// messageOf extracts the human-readable part of a vendor error.
func messageOf(err error) string {
	if s, ok := status.FromError(err); ok {
		return s.Message()
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) && ge.Message != "" {
		return ge.Message
	}
	return err.Error()
}
