// Package parameters is the Parameter Service: named configuration values
// with custom version names, an optional JSON or YAML format and secret
// references that are resolved on Render.
//
// Values are checked locally before any mutating remote call: the data must
// fit in MaxPayloadSize, parse as the parameter's format and, when a schema is
// registered for the parameter, satisfy it.
package parameters

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/systmms/dsstore/internal/cache"
	"github.com/systmms/dsstore/internal/facade"
	"github.com/systmms/dsstore/internal/logging"
	"github.com/systmms/dsstore/internal/metrics"
	"github.com/systmms/dsstore/pkg/errkind"
	"github.com/systmms/dsstore/pkg/listing"
	"github.com/systmms/dsstore/pkg/pool"
	"github.com/systmms/dsstore/pkg/provider"
	"github.com/systmms/dsstore/pkg/version"
)

// Store labels this service in records and metrics.
const Store = "parameters"

type (
	// Created is the result of Create.
	Created = facade.Created
	// Description summarizes a parameter and its versions.
	Description = facade.Description
)

// SecretResolver reads the payload behind a full secret version name.
// *secrets.Service implements it.
type SecretResolver interface {
	Resolve(ctx context.Context, name string) ([]byte, error)
}

// Config scopes the service to a project and location.
type Config struct {
	Project  string
	Location string

	PageSize         int
	BatchConcurrency int

	// Schemas maps parameter IDs to a JSON Schema, given inline or as a
	// file path.
	Schemas map[string]string
}

type options struct {
	core    facade.Options
	secrets SecretResolver
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

// WithSecrets enables Render.
func WithSecrets(r SecretResolver) Option {
	return func(o *options) { o.secrets = r }
}

// Service is safe for concurrent use.
type Service struct {
	core    *facade.Core
	schemas map[string]*Schema
	secrets SecretResolver
}

// New builds a Parameter Service on p. The pool is shared, not owned.
func New(p facade.Pool, cfg Config, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	schemas := make(map[string]*Schema, len(cfg.Schemas))
	for id, src := range cfg.Schemas {
		s, err := CompileSchema(src)
		if err != nil {
			return nil, errkind.New(errkind.InvalidArgument, "new", id, err.Error())
		}
		schemas[id] = s
	}

	core, err := facade.New(p, facade.Config{
		Store:            Store,
		Project:          cfg.Project,
		Location:         cfg.Location,
		Kind:             provider.KindParameter,
		PageSize:         cfg.PageSize,
		BatchConcurrency: cfg.BatchConcurrency,
	}, o.core)
	if err != nil {
		return nil, err
	}
	return &Service{core: core, schemas: schemas, secrets: o.secrets}, nil
}

// check returns the local validation of data for parameter id.
func (s *Service) check(id string, format provider.Format) facade.PayloadCheck {
	return func(data []byte) error {
		if err := ValidateData(format, data); err != nil {
			return err
		}
		if schema, ok := s.schemas[id]; ok {
			return schema.Validate(format, data)
		}
		return nil
	}
}

// CreateOption customizes Create.
type CreateOption func(*facade.CreateRequest)

// WithLabels attaches labels to the new parameter.
func WithLabels(labels map[string]string) CreateOption {
	return func(r *facade.CreateRequest) { r.Labels = labels }
}

// WithVersionName gives the first version a custom name.
func WithVersionName(name string) CreateOption {
	return func(r *facade.CreateRequest) { r.VersionName = name }
}

func normalizeFormat(f provider.Format) provider.Format {
	if parsed, ok := provider.ParseFormat(string(f)); ok {
		return parsed
	}
	return f
}

// Create creates a parameter with v's format. When v carries data it
// becomes the first version.
func (s *Service) Create(ctx context.Context, id string, v Value, opts ...CreateOption) (Created, error) {
	req := facade.CreateRequest{ID: id, Format: normalizeFormat(v.Format), Payload: v.Data}
	for _, opt := range opts {
		opt(&req)
	}
	return s.core.Create(ctx, req, s.check(id, req.Format))
}

// CreateItem is one parameter of a CreateBatch.
type CreateItem struct {
	ID          string
	Value       Value
	Labels      map[string]string
	VersionName string
}

// CreateBatch creates every item, reporting failures per ID.
func (s *Service) CreateBatch(ctx context.Context, items []CreateItem) (map[string]Created, listing.BatchResult) {
	reqs := make([]facade.CreateRequest, 0, len(items))
	for _, it := range items {
		reqs = append(reqs, facade.CreateRequest{
			ID:          it.ID,
			Labels:      it.Labels,
			Format:      normalizeFormat(it.Value.Format),
			Payload:     it.Value.Data,
			VersionName: it.VersionName,
		})
	}
	return s.core.CreateBatch(ctx, reqs, func(req facade.CreateRequest) facade.PayloadCheck {
		return s.check(req.ID, req.Format)
	})
}

// Get returns parameter metadata, including its format.
func (s *Service) Get(ctx context.Context, id string) (provider.Entity, error) {
	return s.core.Get(ctx, id)
}

// Exists reports whether the parameter exists.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	return s.core.Exists(ctx, id)
}

// Describe returns metadata and version counts.
func (s *Service) Describe(ctx context.Context, id string) (Description, error) {
	return s.core.Describe(ctx, id)
}

// List returns a lazy iterator over parameters matching filter.
func (s *Service) List(ctx context.Context, filter string) *listing.Iterator[provider.Entity] {
	return s.core.List(ctx, filter)
}

// Delete removes a parameter and all of its versions.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.core.Delete(ctx, id)
}

// AddVersion appends an ENABLED version. v is checked against its own
// format, the parameter's schema and the version name before any remote
// call; v.Format must then match the parameter's declared format.
func (s *Service) AddVersion(ctx context.Context, id string, v Value, name string) (out provider.Version, err error) {
	resource := s.core.Path(id).String()
	ctx, t := s.core.Begin(ctx, "add_version", resource)
	defer func() { t.Done(err) }()

	format, ok := provider.ParseFormat(string(v.Format))
	if !ok {
		return provider.Version{}, errkind.Newf(errkind.InvalidArgument, "add_version", resource, "unknown format %q", v.Format)
	}
	if err := s.check(id, format)(v.Data); err != nil {
		return provider.Version{}, errkind.Wrap(err, "add_version", resource)
	}
	if name != "" {
		if err := version.ValidateName(name); err != nil {
			return provider.Version{}, errkind.Wrap(err, "add_version", resource)
		}
	}

	e, err := s.core.Get(ctx, id)
	if err != nil {
		return provider.Version{}, err
	}
	if declared := formatOf(e); declared != format {
		return provider.Version{}, errkind.Newf(errkind.InvalidArgument, "add_version", resource,
			"value is %s but the parameter is declared %s", format, declared)
	}
	return s.core.AddVersion(ctx, id, v.Data, name, nil)
}

// GetVersion returns a version with payload. versionID may be "latest".
func (s *Service) GetVersion(ctx context.Context, id, versionID string) (provider.Version, error) {
	return s.core.GetVersion(ctx, id, versionID)
}

// GetValue returns a version's payload as a Value in the parameter's
// format.
func (s *Service) GetValue(ctx context.Context, id, versionID string) (val Value, err error) {
	ctx, t := s.core.Begin(ctx, "get_value", s.core.Path(id).String())
	defer func() { t.Done(err) }()
	return s.value(ctx, id, versionID)
}

func (s *Service) value(ctx context.Context, id, versionID string) (Value, error) {
	e, err := s.core.Get(ctx, id)
	if err != nil {
		return Value{}, err
	}
	v, err := s.core.GetVersion(ctx, id, versionID)
	if err != nil {
		return Value{}, err
	}
	return Value{Format: formatOf(e), Data: v.Payload}, nil
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

// Render returns a version's value with every ${secret.NAME} reference
// replaced by the referenced secret payload. Substitution is textual; the
// result is not re-validated against the parameter's format.
func (s *Service) Render(ctx context.Context, id, versionID string) (val Value, err error) {
	ctx, t := s.core.Begin(ctx, "render", s.core.Path(id).String())
	defer func() { t.Done(err) }()

	val, err = s.value(ctx, id, versionID)
	if err != nil {
		return Value{}, err
	}
	refs := ParseSecretReferences(string(val.Data))
	t.Add(zap.Int("references", len(refs)))
	if len(refs) == 0 {
		return val, nil
	}
	if s.secrets == nil {
		return Value{}, errkind.New(errkind.InvalidArgument, "render", s.core.Path(id).String(),
			"parameter references secrets but no secret service is configured")
	}

	pairs := make([]string, 0, 2*len(refs))
	for _, ref := range refs {
		if ref.Err != nil {
			return Value{}, errkind.Newf(errkind.InvalidArgument, "render", s.core.Path(id).String(),
				"bad secret reference %s: %v", ref.Placeholder, ref.Err)
		}
		payload, err := s.secrets.Resolve(ctx, ref.Name)
		if err != nil {
			return Value{}, errkind.Wrap(err, "render", ref.Name)
		}
		pairs = append(pairs, ref.Placeholder, string(payload))
	}
	val.Data = []byte(strings.NewReplacer(pairs...).Replace(string(val.Data)))
	return val, nil
}

// DeleteBatch deletes every parameter in ids. It never fails as a whole.
func (s *Service) DeleteBatch(ctx context.Context, ids []string) listing.BatchResult {
	return s.core.DeleteBatch(ctx, ids)
}

// GetBatch reads one version of every parameter in ids.
func (s *Service) GetBatch(ctx context.Context, ids []string, versionID string) (map[string]provider.Version, listing.BatchResult) {
	return s.core.GetBatch(ctx, ids, versionID)
}

// ClearCache drops every cached payload.
func (s *Service) ClearCache() { s.core.ClearCache() }

// CacheStats returns a snapshot of the payload cache.
func (s *Service) CacheStats() cache.Stats { return s.core.CacheStats() }

// PoolStats returns a snapshot of the connection pool.
func (s *Service) PoolStats() pool.Statistics { return s.core.PoolStats() }

func formatOf(e provider.Entity) provider.Format {
	if e.Format == "" {
		return provider.FormatUnformatted
	}
	return e.Format
}
