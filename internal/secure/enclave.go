// Package secure keeps cached payload bytes out of plain Go memory.
//
// A Sealed value holds its bytes in a memguard enclave: encrypted at rest,
// excluded from core dumps and wiped on Destroy. Plaintext exists only in
// the copy returned by Open.
//
// Call Purge from main on exit to wipe every enclave key.
package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned by Open after Destroy.
var ErrDestroyed = errors.New("secure: sealed value destroyed")

// Sealed is an immutable, encrypted copy of a byte payload.
type Sealed struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
	size    int
}

// Seal copies data into a new enclave. data is left untouched; memguard
// wipes the intermediate copy.
func Seal(data []byte) *Sealed {
	s := &Sealed{size: len(data)}
	if len(data) == 0 {
		return s
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.enclave = memguard.NewEnclave(buf)
	return s
}

// Len returns the payload size in bytes.
func (s *Sealed) Len() int { return s.size }

// Open returns a plaintext copy of the payload. The caller owns the slice.
func (s *Sealed) Open() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.size < 0 {
		return nil, ErrDestroyed
	}
	if s.enclave == nil {
		return []byte{}, nil
	}

	locked, err := s.enclave.Open()
	if err != nil {
		return nil, err
	}
	defer locked.Destroy()

	out := make([]byte, locked.Size())
	copy(out, locked.Bytes())
	return out, nil
}

// Destroy drops the enclave. Later calls to Open fail with ErrDestroyed.
// Calling Destroy more than once is safe.
func (s *Sealed) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
	s.size = -1
}

// Destroyed reports whether Destroy was called.
func (s *Sealed) Destroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size < 0
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}

// Purge wipes all memguard session keys and buffers.
func Purge() {
	memguard.Purge()
}
