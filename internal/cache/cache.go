// Package cache holds recently read ENABLED version payloads for a short
// time. Payloads are sealed with internal/secure while cached.
//
// Entries are keyed by entity and requested version ID ("latest" included)
// and are dropped for the whole entity on every mutation of it. Concurrent
// misses for the same key share one remote read.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/systmms/dsstore/internal/metrics"
	"github.com/systmms/dsstore/internal/secure"
	"github.com/systmms/dsstore/pkg/provider"
)

// DefaultTTL applies when Config.TTL is zero.
const DefaultTTL = 5 * time.Minute

// Config enables and sizes the cache.
type Config struct {
	Enabled bool
	TTL     time.Duration
}

// Stats is a snapshot of cache usage.
type Stats struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	TTL     time.Duration `json:"ttl_ns" yaml:"ttl"`
	Size    int           `json:"size" yaml:"size"`
	Active  int           `json:"active" yaml:"active"`
	Expired int           `json:"expired" yaml:"expired"`
	Hits    int64         `json:"hits" yaml:"hits"`
	Misses  int64         `json:"misses" yaml:"misses"`
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics records hits and misses under the given store label.
func WithMetrics(store string, m *metrics.Recorder) Option {
	return func(c *Cache) {
		c.store = store
		c.metrics = m
	}
}

// Cache is safe for concurrent use. A disabled Cache passes every read
// through.
type Cache struct {
	cfg     Config
	now     func() time.Time
	store   string
	metrics *metrics.Recorder

	mu      sync.Mutex
	entries map[string]*entry
	// gen counts invalidations per entity so a read that raced with a
	// mutation is not stored.
	gen   map[string]uint64
	epoch uint64

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	entity  string
	meta    provider.Version
	payload *secure.Sealed
	expires time.Time
}

// New builds a cache.
func New(cfg Config, opts ...Option) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	c := &Cache{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*entry),
		gen:     make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether reads are cached.
func (c *Cache) Enabled() bool { return c != nil && c.cfg.Enabled }

func key(entity, id string) string { return entity + "\x00" + id }

// Get returns the cached version or calls load. Only ENABLED versions with
// a successful load are cached. hit reports whether load was skipped.
func (c *Cache) Get(ctx context.Context, entity, id string, load func(ctx context.Context) (provider.Version, error)) (v provider.Version, hit bool, err error) {
	if !c.Enabled() {
		v, err = load(ctx)
		return v, false, err
	}

	k := key(entity, id)
	if v, ok := c.lookup(k); ok {
		c.hits.Add(1)
		c.record(true)
		return v, true, nil
	}
	c.misses.Add(1)
	c.record(false)

	c.mu.Lock()
	gen, epoch := c.gen[entity], c.epoch
	c.mu.Unlock()

	res, err, _ := c.group.Do(k, func() (interface{}, error) {
		v, err := load(ctx)
		if err != nil {
			return provider.Version{}, err
		}
		if v.State == provider.StateEnabled {
			c.put(k, entity, gen, epoch, v)
		}
		return v, nil
	})
	if err != nil {
		return provider.Version{}, false, err
	}
	v = res.(provider.Version)
	v.Payload = append([]byte(nil), v.Payload...)
	return v, false, nil
}

func (c *Cache) lookup(k string) (provider.Version, bool) {
	c.mu.Lock()
	e, ok := c.entries[k]
	c.mu.Unlock()
	if !ok || !c.now().Before(e.expires) {
		return provider.Version{}, false
	}
	payload, err := e.payload.Open()
	if err != nil {
		return provider.Version{}, false
	}
	v := e.meta
	v.Payload = payload
	return v, true
}

func (c *Cache) put(k, entity string, gen, epoch uint64, v provider.Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[entity] != gen || c.epoch != epoch {
		return
	}
	meta := v
	meta.Payload = nil
	if old, ok := c.entries[k]; ok {
		old.payload.Destroy()
	}
	c.entries[k] = &entry{
		entity:  entity,
		meta:    meta,
		payload: secure.Seal(v.Payload),
		expires: c.now().Add(c.cfg.TTL),
	}
}

// Invalidate drops every entry of entity.
func (c *Cache) Invalidate(entity string) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[entity]++
	for k, e := range c.entries {
		if e.entity == entity {
			e.payload.Destroy()
			delete(c.entries, k)
		}
	}
}

// Clear drops every entry and resets the counters.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		e.payload.Destroy()
		delete(c.entries, k)
	}
	c.epoch++
	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats returns a snapshot of the cache.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Enabled: c.cfg.Enabled,
		TTL:     c.cfg.TTL,
		Size:    len(c.entries),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
	now := c.now()
	for _, e := range c.entries {
		if now.Before(e.expires) {
			s.Active++
		} else {
			s.Expired++
		}
	}
	return s
}

func (c *Cache) record(hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCache(c.store, hit)
	}
}
