// Package secrets is the Secret Service: versioned, opaque byte payloads in
// a remote secret store, behind a connection pool with retries, error
// mapping and one timing record per call.
//
//	svc, err := secrets.New(p, secrets.Config{Project: "my-project"},
//	    secrets.WithSink(sink))
//	if err != nil {
//	    return err
//	}
//	if _, err := svc.Create(ctx, "db-pass", []byte("hunter2"), secrets.WithVersionName("v-initial")); err != nil {
//	    return err
//	}
//	v, err := svc.GetVersion(ctx, "db-pass", "latest")
//
// Every error returned by a Service method is an *errkind.Error.
package secrets

import (
	"context"
	"fmt"

	"github.com/systmms/dsstore/internal/cache"
	"github.com/systmms/dsstore/internal/facade"
	"github.com/systmms/dsstore/internal/logging"
	"github.com/systmms/dsstore/internal/metrics"
	"github.com/systmms/dsstore/pkg/errkind"
	"github.com/systmms/dsstore/pkg/listing"
	"github.com/systmms/dsstore/pkg/pool"
	"github.com/systmms/dsstore/pkg/provider"
)

// Store labels this service in records and metrics.
const Store = "secrets"

// MaxPayloadSize is the largest secret payload the store accepts.
const MaxPayloadSize = 64 * 1024

type (
	// Created is the result of Create.
	Created = facade.Created
	// Description summarizes a secret and its versions.
	Description = facade.Description
)

// Config scopes the service to a project and location.
type Config struct {
	Project  string
	Location string

	PageSize         int
	BatchConcurrency int
}

type options struct {
	core facade.Options
}

// Option customizes a Service.
type Option func(*options)

// WithSink sets the structured log sink. Records are discarded by default.
func WithSink(s *logging.Sink) Option {
	return func(o *options) { o.core.Sink = s }
}

// WithCache enables payload caching.
func WithCache(c *cache.Cache) Option {
	return func(o *options) { o.core.Cache = c }
}

// WithMetrics records operation and batch metrics.
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *options) { o.core.Metrics = m }
}

// Service is safe for concurrent use.
type Service struct {
	core *facade.Core
}

// New builds a Secret Service on p. The pool is shared, not owned.
func New(p facade.Pool, cfg Config, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	core, err := facade.New(p, facade.Config{
		Store:            Store,
		Project:          cfg.Project,
		Location:         cfg.Location,
		Kind:             provider.KindSecret,
		PageSize:         cfg.PageSize,
		BatchConcurrency: cfg.BatchConcurrency,
	}, o.core)
	if err != nil {
		return nil, err
	}
	return &Service{core: core}, nil
}

// ValidatePayload checks a payload locally: non-empty and at most
// MaxPayloadSize bytes.
func ValidatePayload(payload []byte) error {
	if len(payload) == 0 {
		return errkind.New(errkind.InvalidArgument, "", "", "secret payload must not be empty")
	}
	if len(payload) > MaxPayloadSize {
		return errkind.Newf(errkind.InvalidArgument, "", "", "secret payload is %d bytes, limit is %d", len(payload), MaxPayloadSize)
	}
	return nil
}

// CreateOption customizes Create.
type CreateOption func(*facade.CreateRequest)

// WithLabels attaches labels to the new secret.
func WithLabels(labels map[string]string) CreateOption {
	return func(r *facade.CreateRequest) { r.Labels = labels }
}

// WithVersionName gives the first version a custom name.
func WithVersionName(name string) CreateOption {
	return func(r *facade.CreateRequest) { r.VersionName = name }
}

// Create creates a secret. A non-nil payload becomes its first version.
func (s *Service) Create(ctx context.Context, id string, payload []byte, opts ...CreateOption) (Created, error) {
	req := facade.CreateRequest{ID: id, Payload: payload, Format: provider.FormatUnformatted}
	for _, opt := range opts {
		opt(&req)
	}
	return s.core.Create(ctx, req, ValidatePayload)
}

// Get returns secret metadata.
func (s *Service) Get(ctx context.Context, id string) (provider.Entity, error) {
	return s.core.Get(ctx, id)
}

// Exists reports whether the secret exists.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	return s.core.Exists(ctx, id)
}

// Describe returns metadata and version counts.
func (s *Service) Describe(ctx context.Context, id string) (Description, error) {
	return s.core.Describe(ctx, id)
}

// List returns a lazy iterator over secrets matching filter. Call List
// again to restart; there is no snapshot isolation.
func (s *Service) List(ctx context.Context, filter string) *listing.Iterator[provider.Entity] {
	return s.core.List(ctx, filter)
}

// Delete removes a secret and all of its versions.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.core.Delete(ctx, id)
}

// AddVersion appends an ENABLED version. name is optional.
func (s *Service) AddVersion(ctx context.Context, id string, payload []byte, name string) (provider.Version, error) {
	return s.core.AddVersion(ctx, id, payload, name, ValidatePayload)
}

// GetVersion returns a version with payload. versionID may be "latest".
func (s *Service) GetVersion(ctx context.Context, id, versionID string) (provider.Version, error) {
	return s.core.GetVersion(ctx, id, versionID)
}

// Access returns only the payload of a version.
func (s *Service) Access(ctx context.Context, id, versionID string) (payload []byte, err error) {
	ctx, t := s.core.Begin(ctx, "access", s.core.VersionResource(id, versionID))
	defer func() { t.Done(err) }()

	v, err := s.core.GetVersion(ctx, id, versionID)
	return v.Payload, err
}

// Resolve returns the payload addressed by a full version name such as
// projects/p/secrets/db-pass/versions/latest. The name must belong to this
// service's project.
func (s *Service) Resolve(ctx context.Context, name string) (payload []byte, err error) {
	ctx, t := s.core.Begin(ctx, "resolve", name)
	defer func() { t.Done(err) }()

	path, v, err := provider.ParseVersionName(name)
	if err != nil {
		return nil, errkind.New(errkind.InvalidArgument, "resolve", name, err.Error())
	}
	own := s.core.Path(path.ID)
	if path.Kind != provider.KindSecret || path.Project != own.Project || path.Regional() != own.Regional() ||
		(path.Regional() && path.Location != own.Location) {
		return nil, errkind.New(errkind.InvalidArgument, "resolve", name,
			fmt.Sprintf("reference is outside %s", own.Parent()))
	}
	return s.Access(ctx, path.ID, v)
}

// DescribeVersion returns version metadata in any state.
func (s *Service) DescribeVersion(ctx context.Context, id, versionID string) (provider.Version, error) {
	return s.core.DescribeVersion(ctx, id, versionID)
}

// ListVersions returns a lazy iterator over version metadata, newest first.
func (s *Service) ListVersions(ctx context.Context, id string) *listing.Iterator[provider.Version] {
	return s.core.ListVersions(ctx, id)
}

// EnableVersion moves a DISABLED version back to ENABLED.
func (s *Service) EnableVersion(ctx context.Context, id, versionID string) (provider.Version, error) {
	return s.core.SetState(ctx, "enable_version", id, versionID, provider.StateEnabled)
}

// DisableVersion makes a version's payload inaccessible.
func (s *Service) DisableVersion(ctx context.Context, id, versionID string) (provider.Version, error) {
	return s.core.SetState(ctx, "disable_version", id, versionID, provider.StateDisabled)
}

// DestroyVersion irreversibly destroys a version's payload.
func (s *Service) DestroyVersion(ctx context.Context, id, versionID string) (provider.Version, error) {
	return s.core.SetState(ctx, "destroy_version", id, versionID, provider.StateDestroyed)
}

// DeleteBatch deletes every secret in ids. It never fails as a whole.
func (s *Service) DeleteBatch(ctx context.Context, ids []string) listing.BatchResult {
	return s.core.DeleteBatch(ctx, ids)
}

// GetBatch reads one version of every secret in ids.
func (s *Service) GetBatch(ctx context.Context, ids []string, versionID string) (map[string]provider.Version, listing.BatchResult) {
	return s.core.GetBatch(ctx, ids, versionID)
}

// ClearCache drops every cached payload.
func (s *Service) ClearCache() { s.core.ClearCache() }

// CacheStats returns a snapshot of the payload cache.
func (s *Service) CacheStats() cache.Stats { return s.core.CacheStats() }

// PoolStats returns a snapshot of the connection pool.
func (s *Service) PoolStats() pool.Statistics { return s.core.PoolStats() }
