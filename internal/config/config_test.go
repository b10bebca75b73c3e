package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/dsstore/internal/errors"
	"github.com/systmms/dsstore/internal/logging"
	"github.com/systmms/dsstore/pkg/pool"
)

const fullConfig = `version: 1
project: my-project
location: us-east1
stores:
  secrets:
    type: gcp.secretmanager
    credentials_file: ~/keys/sa.json
    timeout_ms: 10000
  parameters:
    type: gcp.secretmanager
    name_prefix: "param-"
pool: {size: 4, acquire_timeout: 2s, validate_after: 1m, rate_limit: 50, rate_burst: 10}
retry: {max_attempts: 5, base_delay: 50ms, max_delay: 1s}
cache: {enabled: true, ttl: 30s}
batch: {concurrency: 3}
logging: {level: debug, format: text}
parameters:
  schemas:
    app-config: ./schemas/app-config.json
    inline: '{"type": "object"}'
`

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvProject, "")
	t.Setenv(EnvGCPProject, "")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dsstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func configErr(t *testing.T, err error) dserrors.ConfigError {
	t.Helper()
	var ce dserrors.ConfigError
	require.True(t, errors.As(err, &ce), "expected ConfigError, got %v", err)
	return ce
}

func TestParse_Full(t *testing.T) {
	clearEnv(t)

	def, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "my-project", def.Project)
	assert.Equal(t, "us-east1", def.Location)

	secrets, err := def.GetStore(StoreSecrets)
	require.NoError(t, err)
	assert.Equal(t, "~/keys/sa.json", secrets.CredentialsFile)
	assert.Equal(t, 10*time.Second, secrets.Timeout())

	params, err := def.GetStore(StoreParameters)
	require.NoError(t, err)
	assert.Equal(t, "param-", params.NamePrefix)
	assert.Equal(t, 30*time.Second, params.Timeout())

	pc := def.PoolFor(StoreSecrets)
	assert.Equal(t, pool.Config{
		Name:           StoreSecrets,
		Size:           4,
		AcquireTimeout: 2 * time.Second,
		ValidateAfter:  time.Minute,
		RateLimit:      50,
		RateBurst:      10,
		Retry:          pool.RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second},
	}, pc)

	assert.True(t, def.CacheConfig().Enabled)
	assert.Equal(t, 30*time.Second, def.CacheConfig().TTL)
	assert.Equal(t, 3, def.Batch.Concurrency)
	assert.Equal(t, logging.SinkConfig{Level: "debug", Format: "text"}, def.SinkConfig())
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)

	def, err := Parse([]byte("project: p\n"))
	require.NoError(t, err)

	assert.Equal(t, 1, def.Version)
	assert.Equal(t, "global", def.Location)
	assert.Equal(t, DefaultStoreType, def.Stores[StoreSecrets].Type)
	assert.Equal(t, DefaultStoreType, def.Stores[StoreParameters].Type)
	assert.Equal(t, pool.DefaultSize, def.Pool.Size)
	assert.Equal(t, pool.DefaultAcquireTimeout, def.Pool.AcquireTimeout)
	assert.Equal(t, pool.DefaultRetryPolicy.MaxAttempts, def.Retry.MaxAttempts)
	assert.False(t, def.Cache.Enabled)
	assert.Equal(t, 8, def.Batch.Concurrency)
	assert.Equal(t, "info", def.Logging.Level)
	assert.Equal(t, "json", def.Logging.Format)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Run("dsstore project wins over file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvProject, "from-env")
		t.Setenv(EnvGCPProject, "from-gcloud")

		def, err := Parse([]byte("project: from-file\n"))
		require.NoError(t, err)
		assert.Equal(t, "from-env", def.Project)
	})

	t.Run("gcloud project fills a missing project", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvGCPProject, "from-gcloud")

		def, err := Parse([]byte("version: 1\n"))
		require.NoError(t, err)
		assert.Equal(t, "from-gcloud", def.Project)
	})

	t.Run("gcloud project does not override the file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvGCPProject, "from-gcloud")

		def, err := Parse([]byte("project: from-file\n"))
		require.NoError(t, err)
		assert.Equal(t, "from-file", def.Project)
	})
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"missing project", "version: 1\n", "project"},
		{"bad project", "project: a/b\n", "project"},
		{"unsupported version", "version: 7\nproject: p\n", "version"},
		{"unknown store", "project: p\nstores: {cache: {type: gcp.secretmanager}}\n", "stores.cache"},
		{"negative timeout", "project: p\nstores: {secrets: {timeout_ms: -1}}\n", "stores.secrets.timeout_ms"},
		{"bad prefix", "project: p\nstores: {parameters: {name_prefix: 'a b'}}\n", "stores.parameters.name_prefix"},
		{"half keyring", "project: p\nstores: {secrets: {keyring: {service: dsstore}}}\n", "stores.secrets.keyring"},
		{"zero pool", "project: p\npool: {size: -1}\n", "pool.size"},
		{"negative rate", "project: p\npool: {rate_limit: -1}\n", "pool.rate_limit"},
		{"retry delays", "project: p\nretry: {base_delay: 5s, max_delay: 1s}\n", "retry.max_delay"},
		{"batch", "project: p\nbatch: {concurrency: -2}\n", "batch.concurrency"},
		{"log level", "project: p\nlogging: {level: loud}\n", "logging.level"},
		{"log format", "project: p\nlogging: {format: xml}\n", "logging.format"},
		{"schema id", "project: p\nparameters: {schemas: {'bad id': '{}'}}\n", "parameters.schemas"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, tt.field, configErr(t, err).Field)
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	clearEnv(t)

	_, err := Parse([]byte("project: p\nstores:\n  secrets: [[[\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid YAML syntax")
}

func TestLoad_ResolvesSchemaPaths(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, fullConfig)

	c := &Config{Path: path, Logger: logging.New(false, true)}
	require.NoError(t, c.Load())

	schemas := c.Definition.Parameters.Schemas
	assert.Equal(t, filepath.Join(filepath.Dir(path), "schemas", "app-config.json"), schemas["app-config"])
	assert.Equal(t, `{"type": "object"}`, schemas["inline"])
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)

	c := &Config{Path: filepath.Join(t.TempDir(), "nope.yaml")}
	err := c.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestLoad_DefaultPathFallsBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvProject, "env-project")
	t.Chdir(t.TempDir())

	c := &Config{Logger: logging.New(false, true)}
	require.NoError(t, c.Load())
	assert.Equal(t, "env-project", c.Definition.Project)
	assert.Equal(t, pool.DefaultSize, c.Definition.Pool.Size)
}

func TestGetStore_Unknown(t *testing.T) {
	clearEnv(t)
	def, err := Parse([]byte("project: p\n"))
	require.NoError(t, err)

	_, err = def.GetStore("vault")
	assert.Contains(t, err.Error(), "store not configured")
}
