package pool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/dsstore/pkg/errkind"
	"github.com/systmms/dsstore/pkg/pool"
	"github.com/systmms/dsstore/pkg/provider"
	"github.com/systmms/dsstore/tests/fakes"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testPath = provider.ResourcePath{Project: "p", Kind: provider.KindSecret, ID: "db-pass"}

func newPool(t *testing.T, store *fakes.FakeStore, cfg pool.Config, opts ...pool.Option) *pool.Pool {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	p, err := pool.New(cfg, store.Dialer(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := pool.New(pool.Config{Name: "x"}, nil)
	assert.Error(t, err)

	_, err = pool.New(pool.Config{Name: "x", Size: -1}, fakes.NewFakeStore().Dialer())
	assert.Error(t, err)

	p, err := pool.New(pool.Config{Name: "x"}, fakes.NewFakeStore().Dialer())
	require.NoError(t, err)
	assert.Equal(t, pool.DefaultSize, p.Size())
	assert.Equal(t, "x", p.Name())
}

func TestPool_AcquireReleaseReusesConnection(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeStore()
	p := newPool(t, store, pool.Config{Size: 2})
	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	require.NoError(t, err)
	id := h1.ConnID()
	h1.Release()

	h2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, h2.ConnID(), "idle connection should be reused")
	h2.Release()

	stats := p.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(2), stats.Borrows)
	assert.Equal(t, int64(2), stats.Returns)
	assert.Equal(t, int64(0), stats.InUse)
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 1, store.Dials())
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	p := newPool(t, fakes.NewFakeStore(), pool.Config{Size: 1})

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	h.Release()
	p.Release(h)
	h.Discard()

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Returns)
	assert.Equal(t, int64(0), stats.InUse)
	assert.Equal(t, int64(0), stats.Discarded)

	// The single slot must still be usable exactly once more.
	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	h2.Release()
}

func TestPool_AcquireTimeout(t *testing.T) {
	t.Parallel()

	p := newPool(t, fakes.NewFakeStore(), pool.Config{Size: 1, AcquireTimeout: 50 * time.Millisecond})

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = p.Acquire(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, errkind.PoolTimeout, errkind.KindOf(err))
	assert.ErrorIs(t, err, errkind.ErrPoolTimeout)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, int64(1), p.Stats().Timeouts)
}

func TestPool_CallerDeadlineIsPoolTimeout(t *testing.T) {
	t.Parallel()

	p := newPool(t, fakes.NewFakeStore(), pool.Config{Size: 1, AcquireTimeout: time.Minute})
	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.Equal(t, errkind.PoolTimeout, errkind.KindOf(err))
}

func TestPool_RunDeadlineDuringBackoffKeepsPoolTimeout(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeStore()
	p := newPool(t, store, pool.Config{
		Size:           1,
		AcquireTimeout: 10 * time.Millisecond,
		Retry:          pool.RetryPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: time.Second},
	})
	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = p.Run(ctx, "get_version", testPath.String(), func(ctx context.Context, b provider.Backend) error {
		t.Fatal("fn must not run while the only connection is held")
		return nil
	})
	assert.Equal(t, errkind.PoolTimeout, errkind.KindOf(err), "got %v", err)
	assert.Equal(t, int64(1), p.Stats().Timeouts)
}

func TestPool_CallerCancellation(t *testing.T) {
	t.Parallel()

	p := newPool(t, fakes.NewFakeStore(), pool.Config{Size: 1, AcquireTimeout: time.Minute})
	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.NotEqual(t, errkind.PoolTimeout, errkind.KindOf(err))
	assert.Equal(t, int64(0), p.Stats().Timeouts)
}

func TestPool_Conservation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrency test in short mode")
	}
	t.Parallel()

	const size = 3
	store := fakes.NewFakeStore()
	p := newPool(t, store, pool.Config{Size: size, AcquireTimeout: 5 * time.Second})

	var current, maxSeen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := p.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			n := current.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
			h.Release()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent acquisitions did not finish")
	}

	stats := p.Stats()
	assert.LessOrEqual(t, maxSeen.Load(), int64(size))
	assert.LessOrEqual(t, stats.PeakInUse, int64(size))
	assert.Equal(t, int64(50), stats.Borrows)
	assert.Equal(t, stats.Borrows, stats.Returns)
	assert.Equal(t, int64(0), stats.InUse)
	assert.LessOrEqual(t, store.Dials(), size)
}

func TestPool_ReplacesDeadConnection(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := fakes.NewFakeStore()
	p := newPool(t, store, pool.Config{Size: 1, ValidateAfter: time.Minute}, pool.WithClock(clock.Now))
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	first := h.ConnID()
	h.Release()

	// Fresh connections are not pinged.
	h, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, h.ConnID())
	h.Release()
	assert.Equal(t, 0, store.Calls(fakes.OpPing))

	store.KillConnections()
	clock.Advance(2 * time.Minute)

	h, err = p.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()

	assert.NotEqual(t, first, h.ConnID(), "dead connection must be replaced")
	assert.NoError(t, h.Backend().Ping(ctx), "caller must never see a dead handle")
	assert.Equal(t, int64(1), p.Stats().Discarded)
	assert.Equal(t, 2, store.Dials())
	assert.Equal(t, 1, store.Closes())
}

func TestPool_DialFailure(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeStore().FailDials(status.Error(codes.Unavailable, "connection refused"))
	p := newPool(t, store, pool.Config{Size: 1})

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, errkind.Unavailable, errkind.KindOf(err))
	assert.Equal(t, int64(0), p.Stats().InUse)

	store.FailDials(nil)
	h, err := p.Acquire(context.Background())
	require.NoError(t, err, "failed dial must give its slot back")
	h.Release()
}

func TestPool_Closed(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeStore()
	p := newPool(t, store, pool.Config{Size: 2})

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	idle, err := p.Acquire(context.Background())
	require.NoError(t, err)
	idle.Release()

	require.NoError(t, p.Close())
	assert.Equal(t, 1, store.Closes(), "idle connections close immediately")

	_, err = p.Acquire(context.Background())
	assert.Equal(t, errkind.Unavailable, errkind.KindOf(err))

	h.Release()
	assert.Equal(t, 2, store.Closes(), "borrowed connections close on release")
}

func TestPool_RateLimit(t *testing.T) {
	t.Parallel()

	p := newPool(t, fakes.NewFakeStore(), pool.Config{
		Size: 4, AcquireTimeout: 50 * time.Millisecond, RateLimit: 0.5, RateBurst: 1,
	})

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	h.Release()

	_, err = p.Acquire(context.Background())
	assert.Equal(t, errkind.PoolTimeout, errkind.KindOf(err))
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeStore().
		WithEntity(testPath, []byte("v1")).
		FailOn(fakes.OpGetEntity, status.Error(codes.Unavailable, "blip"), 2)
	p := newPool(t, store, pool.Config{
		Size:  1,
		Retry: pool.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})

	var got provider.Entity
	err := p.Run(context.Background(), "get", testPath.String(), func(ctx context.Context, b provider.Backend) error {
		var err error
		got, err = b.GetEntity(ctx, testPath)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, "db-pass", got.Path.ID)
	assert.Equal(t, 3, store.Calls(fakes.OpGetEntity))

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Retries)
	assert.Equal(t, int64(2), stats.Discarded, "connections that broke mid-call are replaced")
	assert.Equal(t, int64(0), stats.InUse)
}

func TestRun_DoesNotRetryPermanentFailures(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeStore()
	p := newPool(t, store, pool.Config{
		Size:  1,
		Retry: pool.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond},
	})

	err := p.Run(context.Background(), "get", testPath.String(), func(ctx context.Context, b provider.Backend) error {
		_, err := b.GetEntity(ctx, testPath)
		return err
	})

	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
	assert.Equal(t, 1, store.Calls(fakes.OpGetEntity))
	assert.Equal(t, int64(0), p.Stats().Retries)

	var de *errkind.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "get", de.Op)
	assert.Equal(t, testPath.String(), de.Resource)
}

func TestRun_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeStore().
		WithEntity(testPath).
		FailOn(fakes.OpGetEntity, status.Error(codes.Unavailable, "down"), 10)
	p := newPool(t, store, pool.Config{
		Size:  1,
		Retry: pool.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	})

	err := p.Run(context.Background(), "get", testPath.String(), func(ctx context.Context, b provider.Backend) error {
		_, err := b.GetEntity(ctx, testPath)
		return err
	})

	assert.Equal(t, errkind.Unavailable, errkind.KindOf(err))
	assert.Equal(t, 2, store.Calls(fakes.OpGetEntity))
}

func TestRun_ReleasesOnPanic(t *testing.T) {
	t.Parallel()

	p := newPool(t, fakes.NewFakeStore(), pool.Config{Size: 1})

	assert.Panics(t, func() {
		_ = p.Run(context.Background(), "boom", "x", func(context.Context, provider.Backend) error {
			panic("boom")
		})
	})

	assert.Equal(t, int64(0), p.Stats().InUse)
	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	h.Release()
}

func TestRun_CancellationReleasesHandle(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeStore().WithEntity(testPath).WithLatency(time.Second)
	p := newPool(t, store, pool.Config{Size: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Run(ctx, "get", testPath.String(), func(ctx context.Context, b provider.Backend) error {
		_, err := b.GetEntity(ctx, testPath)
		return err
	})

	require.Error(t, err)
	var de *errkind.Error
	assert.ErrorAs(t, err, &de)
	assert.Equal(t, int64(0), p.Stats().InUse)
}
