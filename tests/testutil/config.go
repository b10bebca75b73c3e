// Package testutil provides test utilities and helpers for dsstore tests.
//
// This package contains shared test infrastructure: configuration builders,
// observed log sinks and error-kind assertions.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/systmms/dsstore/internal/config"
)

// TestConfigBuilder provides a fluent API for building test configurations.
//
// This builder allows programmatic creation of dsstore.yaml configurations
// for testing without manually writing YAML strings. Files are written to
// t.TempDir() and removed by the testing framework.
//
// Example usage:
//
//	path := testutil.NewTestConfig(t).
//	    WithStores("memory").
//	    WithRetry(2, time.Millisecond, 2*time.Millisecond).
//	    WithSchema("limits", `{"type":"object"}`).
//	    Write()
type TestConfigBuilder struct {
	config  *config.Definition
	tempDir string
	t       *testing.T
}

// NewTestConfig creates a new TestConfigBuilder.
//
// The builder starts with version 1 and project "test-project". Everything
// else is left for the loader to default.
func NewTestConfig(t *testing.T) *TestConfigBuilder {
	t.Helper()

	return &TestConfigBuilder{
		config: &config.Definition{
			Version: 1,
			Project: "test-project",
			Stores:  make(map[string]config.StoreConfig),
		},
		tempDir: t.TempDir(),
		t:       t,
	}
}

// WithProject replaces the project and, when location is not empty, the
// location.
func (b *TestConfigBuilder) WithProject(project, location string) *TestConfigBuilder {
	b.config.Project = project
	if location != "" {
		b.config.Location = location
	}
	return b
}

// WithStore configures one store.
func (b *TestConfigBuilder) WithStore(name string, cfg config.StoreConfig) *TestConfigBuilder {
	b.config.Stores[name] = cfg
	return b
}

// WithStores points both stores at the same backend type.
func (b *TestConfigBuilder) WithStores(storeType string) *TestConfigBuilder {
	for _, name := range []string{config.StoreSecrets, config.StoreParameters} {
		b.config.Stores[name] = config.StoreConfig{Type: storeType}
	}
	return b
}

// WithRetry sets the retry section. Tests usually shrink the delays.
func (b *TestConfigBuilder) WithRetry(attempts int, base, max time.Duration) *TestConfigBuilder {
	b.config.Retry = config.RetryConfig{MaxAttempts: attempts, BaseDelay: base, MaxDelay: max}
	return b
}

// WithCache enables the version cache.
func (b *TestConfigBuilder) WithCache(ttl time.Duration) *TestConfigBuilder {
	b.config.Cache = config.CacheConfig{Enabled: true, TTL: ttl}
	return b
}

// WithSchema attaches a JSON Schema, inline or as a path, to a parameter.
func (b *TestConfigBuilder) WithSchema(id, source string) *TestConfigBuilder {
	if b.config.Parameters.Schemas == nil {
		b.config.Parameters.Schemas = make(map[string]string)
	}
	b.config.Parameters.Schemas[id] = source
	return b
}

// Build returns the in-memory definition. Use Write if you need a file on
// disk.
func (b *TestConfigBuilder) Build() *config.Definition {
	return b.config
}

// Write writes the configuration to dsstore.yaml in a temporary directory
// and returns its path.
func (b *TestConfigBuilder) Write() string {
	b.t.Helper()

	path := filepath.Join(b.tempDir, config.DefaultPath)
	if err := b.WriteYAML(path); err != nil {
		b.t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

// WriteYAML writes the configuration to a specific path.
func (b *TestConfigBuilder) WriteYAML(path string) error {
	data, err := yaml.Marshal(b.config)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
