package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/systmms/dsstore/internal/cache"
	dserrors "github.com/systmms/dsstore/internal/errors"
	"github.com/systmms/dsstore/internal/logging"
	"github.com/systmms/dsstore/pkg/pool"
	"github.com/systmms/dsstore/pkg/provider"
)

// DefaultPath is the configuration file looked up when --config is not set.
const DefaultPath = "dsstore.yaml"

// Store names used as keys under stores:.
const (
	StoreSecrets    = "secrets"
	StoreParameters = "parameters"
)

// DefaultStoreType is the only backend shipped with dsstore.
const DefaultStoreType = "gcp.secretmanager"

// Environment variables that override the file.
const (
	EnvProject    = "DSSTORE_PROJECT"
	EnvGCPProject = "GOOGLE_CLOUD_PROJECT"
)

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the dsstore.yaml structure
type Definition struct {
	Version    int                    `yaml:"version"`
	Project    string                 `yaml:"project"`
	Location   string                 `yaml:"location,omitempty"`
	Stores     map[string]StoreConfig `yaml:"stores,omitempty"`
	Pool       PoolConfig             `yaml:"pool"`
	Retry      RetryConfig            `yaml:"retry"`
	Cache      CacheConfig            `yaml:"cache"`
	Batch      BatchConfig            `yaml:"batch"`
	Logging    LoggingConfig          `yaml:"logging"`
	Parameters ParametersConfig       `yaml:"parameters"`
}

// StoreConfig selects and configures the backend of one store.
type StoreConfig struct {
	Type      string `yaml:"type"`
	TimeoutMs int    `yaml:"timeout_ms,omitempty"` // per call; default 30000

	// NamePrefix is prepended to every entity ID at the backend.
	NamePrefix string `yaml:"name_prefix,omitempty"`

	CredentialsFile           string         `yaml:"credentials_file,omitempty"`
	Keyring                   *KeyringConfig `yaml:"keyring,omitempty"`
	ImpersonateServiceAccount string         `yaml:"impersonate_service_account,omitempty"`
	Endpoint                  string         `yaml:"endpoint,omitempty"`
}

// KeyringConfig points at a service account key stored in the OS keyring.
type KeyringConfig struct {
	Service string `yaml:"service"`
	User    string `yaml:"user"`
}

// Timeout returns the per-call timeout of the store.
func (s StoreConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// PoolConfig sizes the connection pool of each store.
type PoolConfig struct {
	Size           int           `yaml:"size"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	ValidateAfter  time.Duration `yaml:"validate_after"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
}

// RetryConfig bounds transparent retries of transient failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ParametersConfig holds parameter-only settings. Schemas maps a parameter
// ID to an inline JSON Schema or a schema file path, relative to the
// configuration file.
type ParametersConfig struct {
	Schemas map[string]string `yaml:"schemas,omitempty"`
}

// Default returns a definition populated with every default.
func Default() *Definition {
	def := &Definition{}
	def.applyDefaults()
	return def
}

// Load reads and parses the dsstore.yaml file. A missing file at the
// default path yields the defaults; a missing file named explicitly is an
// error.
func (c *Config) Load() error {
	path := c.Path
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err) && !explicit:
		if c.Logger != nil {
			c.Logger.Debug("No %s found, using defaults", DefaultPath)
		}
		def := Default()
		def.applyEnv()
		if err := def.Validate(); err != nil {
			return err
		}
		c.Definition = def
		return nil
	case os.IsNotExist(err):
		return dserrors.ConfigError{
			Field:      "path",
			Value:      path,
			Message:    "configuration file not found",
			Suggestion: "Check the --config flag, or remove it to use defaults and environment variables",
		}
	case err != nil:
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}
	def.resolvePaths(filepath.Dir(path))
	c.Path = path
	c.Definition = def
	return nil
}

// Parse decodes, defaults, overrides from the environment and validates a
// configuration document.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if def.Version != 0 && def.Version != 1 {
		return nil, dserrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 1' at the top of your dsstore.yaml file",
		}
	}

	def.applyDefaults()
	def.applyEnv()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) applyDefaults() {
	if d.Version == 0 {
		d.Version = 1
	}
	if d.Location == "" {
		d.Location = "global"
	}
	if d.Stores == nil {
		d.Stores = make(map[string]StoreConfig)
	}
	for _, name := range []string{StoreSecrets, StoreParameters} {
		s := d.Stores[name]
		if s.Type == "" {
			s.Type = DefaultStoreType
		}
		d.Stores[name] = s
	}
	if d.Pool.Size == 0 {
		d.Pool.Size = pool.DefaultSize
	}
	if d.Pool.AcquireTimeout == 0 {
		d.Pool.AcquireTimeout = pool.DefaultAcquireTimeout
	}
	if d.Pool.ValidateAfter == 0 {
		d.Pool.ValidateAfter = pool.DefaultValidateAfter
	}
	if d.Retry.MaxAttempts == 0 {
		d.Retry.MaxAttempts = pool.DefaultRetryPolicy.MaxAttempts
	}
	if d.Retry.BaseDelay == 0 {
		d.Retry.BaseDelay = pool.DefaultRetryPolicy.BaseDelay
	}
	if d.Retry.MaxDelay == 0 {
		d.Retry.MaxDelay = pool.DefaultRetryPolicy.MaxDelay
	}
	if d.Cache.TTL == 0 {
		d.Cache.TTL = cache.DefaultTTL
	}
	if d.Batch.Concurrency == 0 {
		d.Batch.Concurrency = 8
	}
	if d.Logging.Level == "" {
		d.Logging.Level = "info"
	}
	if d.Logging.Format == "" {
		d.Logging.Format = "json"
	}
}

func (d *Definition) applyEnv() {
	if p := os.Getenv(EnvProject); p != "" {
		d.Project = p
	} else if d.Project == "" {
		d.Project = os.Getenv(EnvGCPProject)
	}
}

// resolvePaths makes schema file paths relative to the configuration file.
func (d *Definition) resolvePaths(base string) {
	for id, src := range d.Parameters.Schemas {
		s := strings.TrimSpace(src)
		if strings.HasPrefix(s, "{") || filepath.IsAbs(s) || strings.HasPrefix(s, "~") {
			continue
		}
		d.Parameters.Schemas[id] = filepath.Join(base, s)
	}
}

// Validate reports the first invalid field as a ConfigError.
func (d *Definition) Validate() error {
	if d.Project == "" {
		return dserrors.ConfigError{
			Field:      "project",
			Message:    "project is required",
			Suggestion: fmt.Sprintf("Set 'project:' in dsstore.yaml or export %s", EnvProject),
		}
	}
	if strings.ContainsAny(d.Project, "/ \t") {
		return dserrors.ConfigError{Field: "project", Value: d.Project, Message: "project must not contain '/' or whitespace"}
	}
	if strings.ContainsAny(d.Location, "/ \t") {
		return dserrors.ConfigError{Field: "location", Value: d.Location, Message: "location must not contain '/' or whitespace"}
	}

	names := make([]string, 0, len(d.Stores))
	for name := range d.Stores {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := d.Stores[name]
		if name != StoreSecrets && name != StoreParameters {
			return dserrors.ConfigError{
				Field:      "stores." + name,
				Message:    "unknown store",
				Suggestion: "Only 'secrets' and 'parameters' can be configured",
			}
		}
		if s.TimeoutMs < 0 {
			return dserrors.ConfigError{Field: "stores." + name + ".timeout_ms", Value: s.TimeoutMs, Message: "must not be negative"}
		}
		if s.NamePrefix != "" {
			if err := provider.ValidateID(s.NamePrefix); err != nil {
				return dserrors.ConfigError{Field: "stores." + name + ".name_prefix", Value: s.NamePrefix, Message: err.Error()}
			}
		}
		if s.Keyring != nil && (s.Keyring.Service == "" || s.Keyring.User == "") {
			return dserrors.ConfigError{
				Field:      "stores." + name + ".keyring",
				Message:    "keyring needs both service and user",
				Suggestion: "Store the key with your OS keyring tool and reference it by service and user",
			}
		}
		if s.Keyring != nil && s.CredentialsFile != "" {
			return dserrors.ConfigError{
				Field:   "stores." + name,
				Message: "credentials_file and keyring are mutually exclusive",
			}
		}
	}

	switch {
	case d.Pool.Size < 1:
		return dserrors.ConfigError{Field: "pool.size", Value: d.Pool.Size, Message: "must be at least 1"}
	case d.Pool.AcquireTimeout < 0:
		return dserrors.ConfigError{Field: "pool.acquire_timeout", Value: d.Pool.AcquireTimeout, Message: "must not be negative"}
	case d.Pool.RateLimit < 0:
		return dserrors.ConfigError{Field: "pool.rate_limit", Value: d.Pool.RateLimit, Message: "must not be negative"}
	case d.Pool.RateBurst < 0:
		return dserrors.ConfigError{Field: "pool.rate_burst", Value: d.Pool.RateBurst, Message: "must not be negative"}
	case d.Retry.MaxAttempts < 1:
		return dserrors.ConfigError{Field: "retry.max_attempts", Value: d.Retry.MaxAttempts, Message: "must be at least 1"}
	case d.Retry.MaxDelay < d.Retry.BaseDelay:
		return dserrors.ConfigError{Field: "retry.max_delay", Value: d.Retry.MaxDelay, Message: "must not be shorter than retry.base_delay"}
	case d.Cache.TTL < 0:
		return dserrors.ConfigError{Field: "cache.ttl", Value: d.Cache.TTL, Message: "must not be negative"}
	case d.Batch.Concurrency < 1:
		return dserrors.ConfigError{Field: "batch.concurrency", Value: d.Batch.Concurrency, Message: "must be at least 1"}
	}

	if _, err := logging.ParseLevel(d.Logging.Level); err != nil {
		return dserrors.ConfigError{
			Field:      "logging.level",
			Value:      d.Logging.Level,
			Message:    "unknown log level",
			Suggestion: "Use one of: debug, info, warn, error",
		}
	}
	if f := d.Logging.Format; f != "json" && f != "text" {
		return dserrors.ConfigError{
			Field:      "logging.format",
			Value:      f,
			Message:    "unknown log format",
			Suggestion: "Use 'json' or 'text'",
		}
	}
	for id := range d.Parameters.Schemas {
		if err := provider.ValidateID(id); err != nil {
			return dserrors.ConfigError{Field: "parameters.schemas", Value: id, Message: err.Error()}
		}
	}
	return nil
}

// GetStore returns the backend configuration of the named store.
func (d *Definition) GetStore(name string) (StoreConfig, error) {
	s, ok := d.Stores[name]
	if !ok {
		return StoreConfig{}, dserrors.ConfigError{
			Field:      "stores",
			Value:      name,
			Message:    "store not configured",
			Suggestion: "Available stores: secrets, parameters",
		}
	}
	return s, nil
}

// PoolFor converts the pool and retry sections for the named store.
func (d *Definition) PoolFor(name string) pool.Config {
	return pool.Config{
		Name:           name,
		Size:           d.Pool.Size,
		AcquireTimeout: d.Pool.AcquireTimeout,
		ValidateAfter:  d.Pool.ValidateAfter,
		RateLimit:      d.Pool.RateLimit,
		RateBurst:      d.Pool.RateBurst,
		Retry: pool.RetryPolicy{
			MaxAttempts: d.Retry.MaxAttempts,
			BaseDelay:   d.Retry.BaseDelay,
			MaxDelay:    d.Retry.MaxDelay,
		},
	}
}

func (d *Definition) CacheConfig() cache.Config {
	return cache.Config{Enabled: d.Cache.Enabled, TTL: d.Cache.TTL}
}

func (d *Definition) SinkConfig() logging.SinkConfig {
	return logging.SinkConfig{Level: d.Logging.Level, Format: d.Logging.Format}
}
