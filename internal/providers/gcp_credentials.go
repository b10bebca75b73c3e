package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"github.com/zalando/go-keyring"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"

	"github.com/systmms/dsstore/pkg/provider"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// GCPConfig configures Secret Manager connections for one store.
type GCPConfig struct {
	Project    string
	Location   string
	NamePrefix string

	// At most one of CredentialsFile and the keyring pair is set. With
	// neither, Application Default Credentials are used.
	CredentialsFile string
	KeyringService  string
	KeyringUser     string

	// ImpersonateServiceAccount is the target principal; the credentials
	// above act as the caller.
	ImpersonateServiceAccount string

	// Endpoint overrides the API endpoint, host:port.
	Endpoint string

	// Timeout bounds each API call. Zero means no per-call bound.
	Timeout time.Duration
}

// KeyringReader reads a stored credential. The OS keyring is the default.
type KeyringReader interface {
	Get(service, user string) (string, error)
}

type osKeyring struct{}

func (osKeyring) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}

// ClientFactory opens a Secret Manager client with the given options.
type ClientFactory func(ctx context.Context, opts ...option.ClientOption) (SecretManagerAPI, error)

func newClient(ctx context.Context, opts ...option.ClientOption) (SecretManagerAPI, error) {
	c, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return clientAPI{c: c}, nil
}

// GCPOption customizes a GCP dialer.
type GCPOption func(*gcpDialer)

// WithKeyring replaces the OS keyring.
func WithKeyring(kr KeyringReader) GCPOption {
	return func(d *gcpDialer) { d.keyring = kr }
}

// WithClientFactory replaces the real client, for tests.
func WithClientFactory(f ClientFactory) GCPOption {
	return func(d *gcpDialer) { d.newClient = f }
}

type gcpDialer struct {
	cfg       GCPConfig
	keyring   KeyringReader
	newClient ClientFactory
}

// NewGCPDialer returns a dialer that opens one Secret Manager client per
// pooled connection.
func NewGCPDialer(cfg GCPConfig, opts ...GCPOption) provider.Dialer {
	d := &gcpDialer{cfg: cfg, keyring: osKeyring{}, newClient: newClient}
	for _, opt := range opts {
		opt(d)
	}
	return d.dial
}

func (d *gcpDialer) dial(ctx context.Context) (provider.Backend, error) {
	opts, err := ClientOptions(ctx, d.cfg, d.keyring)
	if err != nil {
		return nil, err
	}
	api, err := d.newClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return NewGCPBackend(api, d.cfg), nil
}

// ClientOptions builds client options from the configured credential
// source and location.
func ClientOptions(ctx context.Context, cfg GCPConfig, kr KeyringReader) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case cfg.CredentialsFile != "":
		path, err := expandHome(cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCredentialsFile(path))
	case cfg.KeyringService != "":
		if kr == nil {
			kr = osKeyring{}
		}
		key, err := kr.Get(cfg.KeyringService, cfg.KeyringUser)
		if err != nil {
			kerr := &KeyringError{Op: "query", Service: cfg.KeyringService, Account: cfg.KeyringUser, Err: err}
			if errors.Is(err, keyring.ErrNotFound) {
				kerr.Err = ErrKeyringItemNotFound
			}
			return nil, kerr
		}
		opts = append(opts, option.WithCredentialsJSON([]byte(key)))
	}

	if cfg.ImpersonateServiceAccount != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: cfg.ImpersonateServiceAccount,
			Scopes:          []string{cloudPlatformScope},
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create impersonated credentials: %w", err)
		}
		opts = []option.ClientOption{option.WithTokenSource(ts)}
	}

	if ep := Endpoint(cfg); ep != "" {
		opts = append(opts, option.WithEndpoint(ep))
	}
	return opts, nil
}

// Endpoint returns the API endpoint for cfg: the override if set, the
// regional endpoint for a regional location, or empty for the default.
func Endpoint(cfg GCPConfig) string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}
	if cfg.Location != "" && cfg.Location != "global" {
		return fmt.Sprintf("secretmanager.%s.rep.googleapis.com:443", cfg.Location)
	}
	return ""
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
