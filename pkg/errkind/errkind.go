// Package errkind classifies failures from the remote secret and parameter
// stores into a small, closed set of domain error kinds.
//
// Every error that leaves a dsstore service facade is an *Error carrying one
// of the Kind values below. Callers branch on the kind rather than on vendor
// status codes:
//
//	v, err := svc.GetVersion(ctx, "db-pass", "latest")
//	switch errkind.KindOf(err) {
//	case errkind.NotFound:
//	    // no enabled version
//	case errkind.Unavailable, errkind.PoolTimeout:
//	    // transient, already retried locally
//	}
//
// Sentinel values (ErrNotFound, ErrAlreadyExists, ...) match any *Error of the
// same kind through errors.Is.
package errkind

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a domain-level failure category.
type Kind int

const (
	// Unknown is the default for anything the mapper does not recognize.
	Unknown Kind = iota
	NotFound
	AlreadyExists
	PermissionDenied
	InvalidArgument
	// ResourceExhausted means the remote store throttled the caller.
	ResourceExhausted
	// Unavailable is a transient transport failure and is retryable.
	Unavailable
	// PoolTimeout means no connection handle became free in time.
	PoolTimeout
)

var kindNames = [...]string{
	Unknown:           "UNKNOWN",
	NotFound:          "NOT_FOUND",
	AlreadyExists:     "ALREADY_EXISTS",
	PermissionDenied:  "PERMISSION_DENIED",
	InvalidArgument:   "INVALID_ARGUMENT",
	ResourceExhausted: "RESOURCE_EXHAUSTED",
	Unavailable:       "UNAVAILABLE",
	PoolTimeout:       "POOL_TIMEOUT",
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return []Kind{Unknown, NotFound, AlreadyExists, PermissionDenied, InvalidArgument, ResourceExhausted, Unavailable, PoolTimeout}
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[Unknown]
	}
	return kindNames[k]
}

// Retryable reports whether an operation failing with this kind may be
// transparently retried.
func (k Kind) Retryable() bool {
	switch k {
	case Unavailable, PoolTimeout:
		return true
	default:
		return false
	}
}

// Error is the only error type surfaced by the service facades.
type Error struct {
	Kind     Kind
	Op       string
	Resource string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Resource != "" {
			b.WriteString(" ")
			b.WriteString(e.Resource)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind. A target with Op or Resource set only
// matches an identical error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" && t.Resource == "" && t.Message == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// Sentinels for errors.Is.
var (
	ErrUnknown           = &Error{Kind: Unknown}
	ErrNotFound          = &Error{Kind: NotFound}
	ErrAlreadyExists     = &Error{Kind: AlreadyExists}
	ErrPermissionDenied  = &Error{Kind: PermissionDenied}
	ErrInvalidArgument   = &Error{Kind: InvalidArgument}
	ErrResourceExhausted = &Error{Kind: ResourceExhausted}
	ErrUnavailable       = &Error{Kind: Unavailable}
	ErrPoolTimeout       = &Error{Kind: PoolTimeout}
)

// New builds an *Error of the given kind.
func New(kind Kind, op, resource, message string) *Error {
	return &Error{Kind: kind, Op: op, Resource: resource, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, op, resource, format string, args ...interface{}) *Error {
	return New(kind, op, resource, fmt.Sprintf(format, args...))
}

// Wrap maps err and annotates it with the operation and resource. An error
// that is already an *Error keeps its kind; missing Op/Resource are filled in.
func Wrap(err error, op, resource string) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		if de.Op != "" && de.Resource != "" {
			return de
		}
		cp := *de
		if cp.Op == "" {
			cp.Op = op
		}
		if cp.Resource == "" {
			cp.Resource = resource
		}
		return &cp
	}
	return &Error{
		Kind:     Map(err),
		Op:       op,
		Resource: resource,
		Message:  messageOf(err),
		Err:      err,
	}
}

// KindOf returns the kind of err. A nil error has no kind and reports Unknown.
func KindOf(err error) Kind {
	return Map(err)
}

// Suggestion returns a short remediation hint for user-facing output.
func Suggestion(kind Kind) string {
	switch kind {
	case NotFound:
		return "Verify the resource name and project. Disabled or destroyed versions cannot be read"
	case AlreadyExists:
		return "Choose a different name, or add a new version to the existing resource"
	case PermissionDenied:
		return "Check credentials and IAM permissions: secretmanager.secrets.*, secretmanager.versions.*"
	case InvalidArgument:
		return "Check the name format, value format and requested state transition"
	case ResourceExhausted:
		return "Request was throttled. Lower pool.rate_limit or retry later"
	case Unavailable:
		return "The store is unreachable. Check network connectivity and retry"
	case PoolTimeout:
		return "All connections are busy. Increase pool.size or pool.acquire_timeout"
	default:
		return "Run with --debug for more details"
	}
}
