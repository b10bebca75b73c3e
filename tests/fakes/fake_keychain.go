package fakes

import (
	"sync"

	"github.com/zalando/go-keyring"
)

// FakeKeyring is a test double for the OS keyring used as a credential
// source by the GCP backend.
type FakeKeyring struct {
	mu sync.Mutex

	// Secrets is a map of service -> user -> value
	Secrets map[string]map[string]string

	// GetErr is returned by Get() if set (overrides Secrets lookup)
	GetErr error

	// Lookups counts Get calls.
	Lookups int
}

// NewFakeKeyring creates an empty fake keyring.
func NewFakeKeyring() *FakeKeyring {
	return &FakeKeyring{Secrets: make(map[string]map[string]string)}
}

// Set stores a value in the fake keyring
func (f *FakeKeyring) Set(service, user, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Secrets[service] == nil {
		f.Secrets[service] = make(map[string]string)
	}
	f.Secrets[service][user] = value
}

// Get returns the stored value, or keyring.ErrNotFound like the real
// keyring does.
func (f *FakeKeyring) Get(service, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Lookups++
	if f.GetErr != nil {
		return "", f.GetErr
	}
	if users, ok := f.Secrets[service]; ok {
		if value, ok := users[user]; ok {
			return value, nil
		}
	}
	return "", keyring.ErrNotFound
}
