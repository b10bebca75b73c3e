package providers

import (
	"fmt"
)

// KeyringError wraps OS keyring errors with context
type KeyringError struct {
	Op      string // Operation: "query"
	Service string
	Account string
	Err     error
}

func (e *KeyringError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("keyring %s error for %s/%s: %v", e.Op, e.Service, e.Account, e.Err)
	}
	return fmt.Sprintf("keyring %s error for %s/%s", e.Op, e.Service, e.Account)
}

func (e *KeyringError) Unwrap() error {
	return e.Err
}

// ErrKeyringItemNotFound means no credential is stored under the configured
// service and user.
var ErrKeyringItemNotFound = fmt.Errorf("keyring item not found")

// UnknownTypeError reports a store type with no registered factory.
type UnknownTypeError struct {
	Type      string
	Supported []string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown store type %q (supported: %v)", e.Type, e.Supported)
}
