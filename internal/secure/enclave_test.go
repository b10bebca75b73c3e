package secure

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

func TestSeal_Open(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"text", []byte("my-secret-password")},
		{"empty", []byte{}},
		{"binary", []byte{0x00, 0xFF, 0x10, 0x20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			want := append([]byte(nil), tt.data...)
			s := Seal(tt.data)
			defer s.Destroy()

			if !bytes.Equal(tt.data, want) {
				t.Fatalf("Seal modified its input: %v", tt.data)
			}
			if s.Len() != len(want) {
				t.Errorf("Len() = %d, want %d", s.Len(), len(want))
			}

			got, err := s.Open()
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("Open() = %v, want %v", got, want)
			}
		})
	}
}

func TestSealed_OpenReturnsIndependentCopies(t *testing.T) {
	t.Parallel()

	s := Seal([]byte("abc"))
	defer s.Destroy()

	first, err := s.Open()
	if err != nil {
		t.Fatal(err)
	}
	Wipe(first)

	second, err := s.Open()
	if err != nil {
		t.Fatal(err)
	}
	if string(second) != "abc" {
		t.Errorf("Open() after wiping a previous copy = %q", second)
	}
}

func TestSealed_Destroy(t *testing.T) {
	t.Parallel()

	s := Seal([]byte("gone"))
	s.Destroy()
	s.Destroy()

	if !s.Destroyed() {
		t.Error("Destroyed() = false after Destroy")
	}
	if _, err := s.Open(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Open() after Destroy error = %v, want ErrDestroyed", err)
	}
}

func TestSealed_ConcurrentOpen(t *testing.T) {
	t.Parallel()

	s := Seal([]byte("shared"))
	defer s.Destroy()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Open()
			if err != nil {
				t.Errorf("Open() error = %v", err)
				return
			}
			if string(got) != "shared" {
				t.Errorf("Open() = %q", got)
			}
		}()
	}
	wg.Wait()
}

func TestWipe(t *testing.T) {
	t.Parallel()

	b := []byte("plaintext")
	Wipe(b)
	if !bytes.Equal(b, make([]byte, len(b))) {
		t.Errorf("Wipe left %v", b)
	}
}
