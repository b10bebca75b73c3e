// Package listing drives the remote stores' paginated listing protocol to
// completion and runs multi-item batch operations.
//
// Listings are lazy: an Iterator fetches one page per pull using the
// previous page's continuation token and ends when the store returns no
// token. Batches never abort on an individual failure; every distinct ID is
// attempted and outcomes are collected in a BatchResult.
package listing

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/systmms/dsstore/pkg/errkind"
	"github.com/systmms/dsstore/pkg/provider"
)

// Defaults applied by New.
const (
	DefaultPageSize    = 100
	DefaultConcurrency = 8
)

// Source is the page-level gateway the coordinator walks. *version.Manager
// implements it.
type Source interface {
	EntityPage(ctx context.Context, filter, pageToken string, pageSize int) (provider.EntityPage, error)
	VersionPage(ctx context.Context, entityID, pageToken string, pageSize int) (provider.VersionPage, error)
	DeleteEntity(ctx context.Context, entityID string) error
}

// Config tunes page sizes and batch parallelism.
type Config struct {
	PageSize    int
	Concurrency int
}

// Coordinator produces listings and runs batches against one Source.
type Coordinator struct {
	src Source
	cfg Config
}

// New returns a Coordinator with defaults for zero-valued fields.
func New(src Source, cfg Config) *Coordinator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Coordinator{src: src, cfg: cfg}
}

// ListAll returns a fresh iterator over every entity matching filter. Call
// it again to restart from the beginning.
func (c *Coordinator) ListAll(filter string) *Iterator[provider.Entity] {
	return NewIterator(func(ctx context.Context, token string) ([]provider.Entity, string, error) {
		page, err := c.src.EntityPage(ctx, filter, token, c.cfg.PageSize)
		return page.Entities, page.NextPageToken, err
	})
}

// Versions returns a fresh iterator over the versions of one entity,
// newest first, without payloads.
func (c *Coordinator) Versions(entityID string) *Iterator[provider.Version] {
	return NewIterator(func(ctx context.Context, token string) ([]provider.Version, string, error) {
		page, err := c.src.VersionPage(ctx, entityID, token, c.cfg.PageSize)
		return page.Versions, page.NextPageToken, err
	})
}

// BatchResult aggregates a batch. Each distinct input ID lands in exactly
// one of Succeeded or Failed.
type BatchResult struct {
	// Succeeded is sorted.
	Succeeded []string
	Failed    map[string]errkind.Kind
	// Errors holds the mapped error of every failed ID.
	Errors map[string]error
}

// OK reports whether every item succeeded.
func (r BatchResult) OK() bool { return len(r.Failed) == 0 }

// Total returns the number of distinct IDs attempted.
func (r BatchResult) Total() int { return len(r.Succeeded) + len(r.Failed) }

// BatchDelete deletes every ID. It never returns an error; failures are
// reported per ID.
func (c *Coordinator) BatchDelete(ctx context.Context, ids []string) BatchResult {
	return c.Batch(ctx, "delete_batch", ids, c.src.DeleteEntity)
}

// Batch runs fn once for every distinct, well-formed ID with bounded
// concurrency. Malformed IDs fail INVALID_ARGUMENT without calling fn. The
// order of attempts is unspecified.
func (c *Coordinator) Batch(ctx context.Context, op string, ids []string, fn func(ctx context.Context, id string) error) BatchResult {
	res := BatchResult{
		Failed: make(map[string]errkind.Kind),
		Errors: make(map[string]error),
	}
	var mu sync.Mutex
	record := func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			res.Succeeded = append(res.Succeeded, id)
			return
		}
		err = errkind.Wrap(err, op, id)
		res.Failed[id] = errkind.KindOf(err)
		res.Errors[id] = err
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if err := provider.ValidateID(id); err != nil {
			record(id, errkind.New(errkind.InvalidArgument, op, id, err.Error()))
			continue
		}
		g.Go(func() error {
			record(id, fn(ctx, id))
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Succeeded)
	return res
}
