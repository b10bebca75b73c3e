package errors

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/systmms/dsstore/pkg/errkind"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// StoreError turns a failed store call into a UserError carrying the
// remediation hint for its kind.
func StoreError(store, operation string, err error) error {
	kind := errkind.KindOf(err)
	ue := UserError{
		Message:    fmt.Sprintf("%s %s failed (%s)", store, operation, kind),
		Details:    err.Error(),
		Suggestion: errkind.Suggestion(kind),
		Err:        err,
	}
	if IsRetryable(err) {
		ue.Suggestion += ". The failure is transient and the command can be rerun as is"
	}
	return ue
}

// transientMarkers are substrings of untyped errors that usually clear on
// their own.
var transientMarkers = []string{
	"timeout",
	"temporary failure",
	"connection reset",
	"connection refused",
	"broken pipe",
	"rate limit",
	"too many requests",
}

// IsRetryable reports whether a later attempt of the same call may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ke := (*errkind.Error)(nil); errors.As(err, &ke) {
		return ke.Kind.Retryable()
	}
	lower := strings.ToLower(err.Error())
	return slices.ContainsFunc(transientMarkers, func(m string) bool {
		return strings.Contains(lower, m)
	})
}

// hint rewrites a root cause whose text contains marker.
type hint struct {
	marker  string
	rewrite func(err error) error
}

var rootCauseHints = []hint{
	{"yaml:", func(error) error {
		return ConfigError{Message: "Invalid YAML format", Suggestion: "Look for tabs, bad indentation or an unquoted colon"}
	}},
	{"json:", func(error) error {
		return ConfigError{Message: "Invalid JSON format", Suggestion: "Validate the document with a JSON linter"}
	}},
	{"permission denied", func(err error) error {
		return UserError{Message: "Permission denied", Suggestion: "Check the file mode and owner", Err: err}
	}},
	{"no such file or directory", func(err error) error {
		return UserError{Message: "File or directory not found", Suggestion: "Check the path passed to --config or --file", Err: err}
	}},
}

// SimplifyError maps an error to the form printed by the CLI. Errors that
// are already user-facing pass through untouched.
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.As(err, new(UserError)) || errors.As(err, new(ConfigError)) {
		return err
	}
	if ke := (*errkind.Error)(nil); errors.As(err, &ke) {
		return UserError{Message: ke.Error(), Suggestion: errkind.Suggestion(ke.Kind), Err: err}
	}

	cause := rootCause(err).Error()
	for _, h := range rootCauseHints {
		if strings.Contains(cause, h.marker) {
			return h.rewrite(err)
		}
	}
	return err
}

func rootCause(err error) error {
	for next := errors.Unwrap(err); next != nil; next = errors.Unwrap(err) {
		err = next
	}
	return err
}
