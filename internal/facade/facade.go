// Package facade implements the operations shared by the secret and
// parameter services: entity and version lifecycle, listing, batches and
// the payload cache. Every exported method emits exactly one timing record.
package facade

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/systmms/dsstore/internal/cache"
	"github.com/systmms/dsstore/internal/logging"
	"github.com/systmms/dsstore/internal/metrics"
	"github.com/systmms/dsstore/pkg/errkind"
	"github.com/systmms/dsstore/pkg/listing"
	"github.com/systmms/dsstore/pkg/pool"
	"github.com/systmms/dsstore/pkg/provider"
	"github.com/systmms/dsstore/pkg/version"
)

// Pool is the part of *pool.Pool a Core needs.
type Pool interface {
	version.Runner
	Stats() pool.Statistics
}

// Config scopes a Core to one store.
type Config struct {
	// Store labels records and metrics: "secrets" or "parameters".
	Store    string
	Project  string
	Location string
	Kind     provider.Kind

	PageSize         int
	BatchConcurrency int
}

// Options carries the optional collaborators.
type Options struct {
	Sink    *logging.Sink
	Cache   *cache.Cache
	Metrics *metrics.Recorder
}

// PayloadCheck validates a payload locally before any remote call.
type PayloadCheck func(payload []byte) error

// CheckFor picks the payload check of one batch item.
type CheckFor func(req CreateRequest) PayloadCheck

// Core is safe for concurrent use.
type Core struct {
	cfg     Config
	pool    Pool
	mgr     *version.Manager
	list    *listing.Coordinator
	cache   *cache.Cache
	sink    *logging.Sink
	metrics *metrics.Recorder
}

// New wires a Core over p.
func New(p Pool, cfg Config, opts Options) (*Core, error) {
	mgr, err := version.New(p, version.Config{
		Project:  cfg.Project,
		Location: cfg.Location,
		Kind:     cfg.Kind,
		PageSize: cfg.PageSize,
	})
	if err != nil {
		return nil, err
	}
	if opts.Sink == nil {
		opts.Sink = logging.NopSink()
	}
	if opts.Metrics != nil {
		opts.Sink = opts.Sink.WithMetrics(opts.Metrics)
	}
	return &Core{
		cfg:     cfg,
		pool:    p,
		mgr:     mgr,
		list:    listing.New(mgr, listing.Config{PageSize: cfg.PageSize, Concurrency: cfg.BatchConcurrency}),
		cache:   opts.Cache,
		sink:    opts.Sink,
		metrics: opts.Metrics,
	}, nil
}

// Manager exposes the version manager.
func (c *Core) Manager() *version.Manager { return c.mgr }

// Path returns the resource path of an entity ID.
func (c *Core) Path(id string) provider.ResourcePath { return c.mgr.Path(id) }

// Begin starts the record of a composite call built from other Core
// methods. Calls made with the returned context emit no records of their own.
func (c *Core) Begin(ctx context.Context, op, resource string) (context.Context, *logging.Timer) {
	return c.begin(ctx, op, resource)
}

func (c *Core) begin(ctx context.Context, op, resource string) (context.Context, *logging.Timer) {
	return c.sink.Begin(ctx, c.cfg.Store, op, resource)
}

// VersionResource returns the resource name of a version; an empty v means
// latest.
func (c *Core) VersionResource(id, v string) string {
	return c.versionResource(id, v)
}

func (c *Core) versionResource(id, v string) string {
	if v == "" {
		v = version.Latest
	}
	return c.Path(id).VersionName(v)
}

// CreateRequest describes an entity to create, optionally with a first
// version.
type CreateRequest struct {
	ID     string
	Labels map[string]string
	Format provider.Format

	// Payload, when non-nil, becomes the first version.
	Payload     []byte
	VersionName string
}

// Created is the result of Create.
type Created struct {
	Entity  provider.Entity
	Version *provider.Version
}

// Create creates an entity and, when req.Payload is set, its first
// version. The payload and version name are validated before the entity is
// created.
func (c *Core) Create(ctx context.Context, req CreateRequest, check PayloadCheck) (out Created, err error) {
	ctx, t := c.begin(ctx, "create", c.Path(req.ID).String())
	defer func() { t.Done(err) }()
	return c.create(ctx, req, check)
}

func (c *Core) create(ctx context.Context, req CreateRequest, check PayloadCheck) (Created, error) {
	const op = "create"
	resource := c.Path(req.ID).String()
	if err := c.Path(req.ID).Validate(); err != nil {
		return Created{}, errkind.New(errkind.InvalidArgument, op, resource, err.Error())
	}
	if err := provider.ValidateLabels(req.Labels); err != nil {
		return Created{}, errkind.New(errkind.InvalidArgument, op, resource, err.Error())
	}
	if req.Format != "" {
		if _, ok := provider.ParseFormat(string(req.Format)); !ok {
			return Created{}, errkind.Newf(errkind.InvalidArgument, op, resource, "unknown format %q", req.Format)
		}
	}
	if req.Payload != nil {
		if err := c.checkPayload(op, resource, req.Payload, check); err != nil {
			return Created{}, err
		}
		if req.VersionName != "" {
			if err := version.ValidateName(req.VersionName); err != nil {
				return Created{}, errkind.Wrap(err, op, resource)
			}
		}
	} else if req.VersionName != "" {
		return Created{}, errkind.New(errkind.InvalidArgument, op, resource, "a version name needs a payload")
	}

	e, err := c.mgr.CreateEntity(ctx, req.ID, provider.Entity{Labels: req.Labels, Format: req.Format})
	if err != nil {
		return Created{}, errkind.Wrap(err, op, resource)
	}
	out := Created{Entity: e}
	if req.Payload == nil {
		return out, nil
	}
	v, err := c.mgr.CreateVersion(ctx, req.ID, req.Payload, req.VersionName)
	if err != nil {
		return out, errkind.Wrap(err, op, resource)
	}
	out.Version = &v
	c.cache.Invalidate(req.ID)
	return out, nil
}

func (c *Core) checkPayload(op, resource string, payload []byte, check PayloadCheck) error {
	if check == nil {
		return nil
	}
	if err := check(payload); err != nil {
		if errkind.KindOf(err) == errkind.Unknown {
			return errkind.New(errkind.InvalidArgument, op, resource, err.Error())
		}
		return errkind.Wrap(err, op, resource)
	}
	return nil
}

// Get returns entity metadata.
func (c *Core) Get(ctx context.Context, id string) (e provider.Entity, err error) {
	ctx, t := c.begin(ctx, "get", c.Path(id).String())
	defer func() { t.Done(err) }()
	return c.mgr.GetEntity(ctx, id)
}

// Exists reports whether the entity exists. NOT_FOUND is not an error here.
func (c *Core) Exists(ctx context.Context, id string) (ok bool, err error) {
	ctx, t := c.begin(ctx, "exists", c.Path(id).String())
	defer func() { t.Done(err) }()

	_, getErr := c.mgr.GetEntity(ctx, id)
	switch {
	case getErr == nil:
		return true, nil
	case errkind.KindOf(getErr) == errkind.NotFound:
		return false, nil
	default:
		return false, getErr
	}
}

// Description summarizes an entity and its versions.
type Description struct {
	Entity         provider.Entity
	VersionCount   int
	EnabledCount   int
	DisabledCount  int
	DestroyedCount int
	// Latest is the newest ENABLED version, without payload.
	Latest *provider.Version
}

// Describe returns entity metadata with version counts.
func (c *Core) Describe(ctx context.Context, id string) (d Description, err error) {
	ctx, t := c.begin(ctx, "describe", c.Path(id).String())
	defer func() { t.Done(err) }()

	d.Entity, err = c.mgr.GetEntity(ctx, id)
	if err != nil {
		return Description{}, err
	}
	for v, err := range c.list.Versions(id).All(ctx) {
		if err != nil {
			return Description{}, err
		}
		d.VersionCount++
		switch v.State {
		case provider.StateEnabled:
			d.EnabledCount++
			if d.Latest == nil || v.Sequence > d.Latest.Sequence {
				latest := v
				d.Latest = &latest
			}
		case provider.StateDisabled:
			d.DisabledCount++
		case provider.StateDestroyed:
			d.DestroyedCount++
		}
	}
	return d, nil
}

// List returns a lazy iterator over entities matching filter. Its timing
// record is emitted when the iterator is exhausted, fails or is closed.
func (c *Core) List(ctx context.Context, filter string) *listing.Iterator[provider.Entity] {
	_, t := c.begin(ctx, "list", c.mgr.Collection())
	if filter != "" {
		t.Add(zap.String("filter", filter))
	}
	return track(c.list.ListAll(filter), t)
}

func track[T any](it *listing.Iterator[T], t *logging.Timer) *listing.Iterator[T] {
	return it.OnDone(func(err error) {
		t.Add(zap.Int("pages", it.Pages()))
		if it.Abandoned() {
			t.Add(zap.Bool("abandoned", true))
		}
		t.Done(err)
	})
}

// Delete removes an entity and all of its versions.
func (c *Core) Delete(ctx context.Context, id string) (err error) {
	ctx, t := c.begin(ctx, "delete", c.Path(id).String())
	defer func() { t.Done(err) }()

	err = c.mgr.DeleteEntity(ctx, id)
	c.cache.Invalidate(id)
	return err
}

// AddVersion appends an ENABLED version.
func (c *Core) AddVersion(ctx context.Context, id string, payload []byte, name string, check PayloadCheck) (v provider.Version, err error) {
	resource := c.Path(id).String()
	ctx, t := c.begin(ctx, "add_version", resource)
	defer func() { t.Done(err) }()

	if err := c.checkPayload("add_version", resource, payload, check); err != nil {
		return provider.Version{}, err
	}
	v, err = c.mgr.CreateVersion(ctx, id, payload, name)
	c.cache.Invalidate(id)
	return v, err
}

// GetVersion returns a version with its payload. versionID may be
// "latest" or empty.
func (c *Core) GetVersion(ctx context.Context, id, versionID string) (v provider.Version, err error) {
	ctx, t := c.begin(ctx, "get_version", c.versionResource(id, versionID))
	defer func() { t.Done(err) }()

	v, hit, err := c.getVersion(ctx, id, versionID)
	if c.cache.Enabled() {
		t.Add(zap.Bool("cache_hit", hit))
	}
	return v, err
}

func (c *Core) getVersion(ctx context.Context, id, versionID string) (provider.Version, bool, error) {
	if versionID == "" {
		versionID = version.Latest
	}
	return c.cache.Get(ctx, id, versionID, func(ctx context.Context) (provider.Version, error) {
		return c.mgr.GetVersion(ctx, id, versionID)
	})
}

// DescribeVersion returns version metadata in any state.
func (c *Core) DescribeVersion(ctx context.Context, id, versionID string) (v provider.Version, err error) {
	ctx, t := c.begin(ctx, "describe_version", c.versionResource(id, versionID))
	defer func() { t.Done(err) }()
	return c.mgr.DescribeVersion(ctx, id, versionID)
}

// ListVersions returns a lazy iterator over version metadata, newest
// first.
func (c *Core) ListVersions(ctx context.Context, id string) *listing.Iterator[provider.Version] {
	_, t := c.begin(ctx, "list_versions", c.Path(id).String())
	return track(c.list.Versions(id), t)
}

// SetState moves a version to target.
func (c *Core) SetState(ctx context.Context, op, id, versionID string, target provider.State) (v provider.Version, err error) {
	ctx, t := c.begin(ctx, op, c.versionResource(id, versionID))
	defer func() { t.Done(err) }()

	if target == provider.StateDestroyed {
		v, err = c.mgr.Destroy(ctx, id, versionID)
	} else {
		v, err = c.mgr.SetState(ctx, id, versionID, target)
	}
	c.cache.Invalidate(id)
	return v, err
}

// DeleteBatch deletes every ID, reporting failures per ID.
func (c *Core) DeleteBatch(ctx context.Context, ids []string) listing.BatchResult {
	ctx, t := c.begin(ctx, "delete_batch", c.mgr.Collection())
	res := c.list.BatchDelete(ctx, ids)
	for _, id := range ids {
		c.cache.Invalidate(id)
	}
	c.finishBatch(t, "delete_batch", res)
	return res
}

// GetBatch reads one version of every entity.
func (c *Core) GetBatch(ctx context.Context, ids []string, versionID string) (map[string]provider.Version, listing.BatchResult) {
	ctx, t := c.begin(ctx, "get_batch", c.mgr.Collection())

	var mu sync.Mutex
	out := make(map[string]provider.Version, len(ids))
	res := c.list.Batch(ctx, "get_batch", ids, func(ctx context.Context, id string) error {
		v, _, err := c.getVersion(ctx, id, versionID)
		if err != nil {
			return err
		}
		mu.Lock()
		out[id] = v
		mu.Unlock()
		return nil
	})
	c.finishBatch(t, "get_batch", res)
	return out, res
}

// CreateBatch creates every entity in reqs. Requests are keyed by ID; a
// repeated ID keeps its first request.
func (c *Core) CreateBatch(ctx context.Context, reqs []CreateRequest, checkFor CheckFor) (map[string]Created, listing.BatchResult) {
	ctx, t := c.begin(ctx, "create_batch", c.mgr.Collection())

	byID := make(map[string]CreateRequest, len(reqs))
	ids := make([]string, 0, len(reqs))
	for _, r := range reqs {
		if _, dup := byID[r.ID]; dup {
			continue
		}
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}

	var mu sync.Mutex
	out := make(map[string]Created, len(ids))
	res := c.list.Batch(ctx, "create_batch", ids, func(ctx context.Context, id string) error {
		req := byID[id]
		var check PayloadCheck
		if checkFor != nil {
			check = checkFor(req)
		}
		created, err := c.create(ctx, req, check)
		if err != nil {
			return err
		}
		mu.Lock()
		out[id] = created
		mu.Unlock()
		return nil
	})
	c.finishBatch(t, "create_batch", res)
	return out, res
}

// finishBatch records a batch. Item failures are data, so the record's
// outcome is success.
func (c *Core) finishBatch(t *logging.Timer, op string, res listing.BatchResult) {
	t.Add(zap.Int("succeeded", len(res.Succeeded)), zap.Int("failed", len(res.Failed)))
	if len(res.Failed) > 0 {
		kinds := make(map[string]string, len(res.Failed))
		for id, k := range res.Failed {
			kinds[id] = k.String()
		}
		t.Add(zap.Any("failures", kinds))
	}
	if c.metrics != nil {
		c.metrics.RecordBatch(c.cfg.Store, op, len(res.Succeeded), len(res.Failed))
	}
	t.Done(nil)
}

// ClearCache drops every cached payload.
func (c *Core) ClearCache() { c.cache.Clear() }

// CacheStats returns a snapshot of the payload cache.
func (c *Core) CacheStats() cache.Stats { return c.cache.Stats() }

// PoolStats returns a snapshot of the connection pool.
func (c *Core) PoolStats() pool.Statistics { return c.pool.Stats() }
