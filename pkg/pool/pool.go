// Package pool owns a fixed-size set of reusable connections to a remote
// store and lends each one to exactly one operation at a time.
//
// Acquire is the only blocking point in dsstore. It waits until a connection
// is free or the acquire timeout elapses, in which case it fails with
// errkind.PoolTimeout. Connections are dialed lazily and validated lazily: a
// connection that has been idle longer than Config.ValidateAfter is pinged
// before being handed out, and a connection that fails the ping is closed
// and replaced, so callers never observe a dead handle.
//
//	p, err := pool.New(pool.Config{Name: "secrets", Size: 10, AcquireTimeout: 5 * time.Second}, dial)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	err = p.Run(ctx, "secrets.get", path.String(), func(ctx context.Context, b provider.Backend) error {
//	    v, err = b.GetVersion(ctx, path, "3")
//	    return err
//	})
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/systmms/dsstore/internal/metrics"
	"github.com/systmms/dsstore/pkg/errkind"
	"github.com/systmms/dsstore/pkg/provider"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultSize           = 10
	DefaultAcquireTimeout = 5 * time.Second
	DefaultValidateAfter  = 30 * time.Second
)

// Config holds the construction-time settings of a pool. Size is fixed for
// the pool's lifetime.
type Config struct {
	// Name labels errors and metrics.
	Name string

	// Size is the maximum number of connections, borrowed or idle.
	Size int

	// AcquireTimeout bounds how long Acquire waits for a free connection.
	AcquireTimeout time.Duration

	// ValidateAfter is the idle time after which a connection is pinged
	// before reuse. Negative disables validation.
	ValidateAfter time.Duration

	// RateLimit caps acquisitions per second. Zero means unlimited.
	RateLimit float64
	RateBurst int

	// Retry governs Run's transparent retries of transient failures.
	Retry RetryPolicy
}

// Option customizes a Pool.
type Option func(*Pool)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(p *Pool) { p.metrics = m }
}

// Pool is a bounded set of provider.Backend connections.
type Pool struct {
	cfg     Config
	dial    provider.Dialer
	limiter *rate.Limiter
	metrics *metrics.Recorder
	now     func() time.Time

	// slots holds one token per borrowed connection; its capacity is Size.
	slots chan struct{}
	// idle holds connections that are not borrowed.
	idle chan *conn

	closed    atomic.Bool
	closeOnce sync.Once
	connSeq   atomic.Uint64

	stats counters
}

type conn struct {
	id       uint64
	backend  provider.Backend
	lastUsed time.Time
}

// New builds a pool. No connection is dialed until the first Acquire.
func New(cfg Config, dial provider.Dialer, opts ...Option) (*Pool, error) {
	if dial == nil {
		return nil, fmt.Errorf("pool %q: dialer is required", cfg.Name)
	}
	if cfg.Size < 0 {
		return nil, fmt.Errorf("pool %q: size must be positive, got %d", cfg.Name, cfg.Size)
	}
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.ValidateAfter == 0 {
		cfg.ValidateAfter = DefaultValidateAfter
	}
	cfg.Retry = cfg.Retry.withDefaults()

	p := &Pool{
		cfg:     cfg,
		dial:    dial,
		metrics: metrics.NewRecorder(),
		now:     time.Now,
		slots:   make(chan struct{}, cfg.Size),
		idle:    make(chan *conn, cfg.Size),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(p)
	}
	p.stats.size = int64(cfg.Size)
	return p, nil
}

// Name returns the configured pool name.
func (p *Pool) Name() string { return p.cfg.Name }

// Size returns the fixed pool size.
func (p *Pool) Size() int { return p.cfg.Size }

// Acquire borrows a connection, waiting at most AcquireTimeout (or until ctx
// is done, whichever comes first). The returned Handle must be released
// exactly once; further releases are no-ops.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	const op = "pool.acquire"
	start := p.now()

	if p.closed.Load() {
		return nil, errkind.New(errkind.Unavailable, op, p.cfg.Name, "pool is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// The limiter refuses waits that would outlive the deadline.
				err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
			return nil, p.acquireFailed(start, err)
		}
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, p.acquireFailed(start, ctx.Err())
	}

	c, err := p.checkout(ctx)
	if err != nil {
		<-p.slots
		if ctx.Err() != nil {
			return nil, p.acquireFailed(start, ctx.Err())
		}
		p.metrics.RecordAcquire(p.cfg.Name, "error", p.now().Sub(start).Seconds())
		return nil, errkind.Wrap(err, op, p.cfg.Name)
	}

	wait := p.now().Sub(start)
	inUse := p.stats.borrowed(wait)
	p.metrics.RecordAcquire(p.cfg.Name, "ok", wait.Seconds())
	p.metrics.SetInUse(p.cfg.Name, inUse)

	return &Handle{pool: p, conn: c}, nil
}

// acquireFailed classifies a failed wait. Running out of time is a pool
// timeout; a caller cancellation keeps its own kind.
func (p *Pool) acquireFailed(start time.Time, err error) error {
	wait := p.now().Sub(start)
	if errors.Is(err, context.DeadlineExceeded) {
		p.stats.timeouts.Add(1)
		p.metrics.RecordAcquire(p.cfg.Name, "timeout", wait.Seconds())
		return &errkind.Error{
			Kind:     errkind.PoolTimeout,
			Op:       "pool.acquire",
			Resource: p.cfg.Name,
			Message:  fmt.Sprintf("no connection available after %s (size %d)", wait.Round(time.Millisecond), p.cfg.Size),
			Err:      err,
		}
	}
	p.metrics.RecordAcquire(p.cfg.Name, "error", wait.Seconds())
	return errkind.Wrap(err, "pool.acquire", p.cfg.Name)
}

// checkout returns an idle connection, validating it if it has been idle too
// long, or dials a new one. The caller holds a slot.
func (p *Pool) checkout(ctx context.Context) (*conn, error) {
	for {
		select {
		case c := <-p.idle:
			if p.cfg.ValidateAfter > 0 && p.now().Sub(c.lastUsed) >= p.cfg.ValidateAfter {
				if err := c.backend.Ping(ctx); err != nil {
					p.discard(c, "ping")
					continue
				}
			}
			return c, nil
		default:
			b, err := p.dial(ctx)
			if err != nil {
				return nil, err
			}
			p.stats.created.Add(1)
			return &conn{id: p.connSeq.Add(1), backend: b, lastUsed: p.now()}, nil
		}
	}
}

func (p *Pool) discard(c *conn, reason string) {
	_ = c.backend.Close()
	p.stats.discarded.Add(1)
	p.metrics.RecordDiscard(p.cfg.Name, reason)
}

// release returns a connection to the idle set, or closes it when broken is
// true or the pool is closed.
func (p *Pool) release(c *conn, broken bool) {
	c.lastUsed = p.now()
	inUse := p.stats.returned()
	p.metrics.SetInUse(p.cfg.Name, inUse)

	switch {
	case broken:
		p.discard(c, "broken")
	case p.closed.Load():
		_ = c.backend.Close()
	default:
		select {
		case p.idle <- c:
			if p.closed.Load() {
				p.drainIdle()
			}
		default:
			// Cannot happen while connections are bounded by slots.
			_ = c.backend.Close()
		}
	}
	<-p.slots
}

// Close closes idle connections and makes further acquisitions fail.
// Borrowed connections are closed when released.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.drainIdle()
	})
	return nil
}

func (p *Pool) drainIdle() {
	for {
		select {
		case c := <-p.idle:
			_ = c.backend.Close()
		default:
			return
		}
	}
}

// Handle is one borrow of a pooled connection.
type Handle struct {
	pool     *Pool
	conn     *conn
	released atomic.Bool
}

// Backend returns the borrowed connection. It must not be used after
// Release.
func (h *Handle) Backend() provider.Backend {
	return h.conn.backend
}

// ConnID identifies the underlying connection, for tests and debugging.
func (h *Handle) ConnID() uint64 {
	return h.conn.id
}

// Release returns the connection to the pool. Releasing twice is a no-op.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.pool.release(h.conn, false)
}

// Release returns h to the pool. It is equivalent to h.Release.
func (p *Pool) Release(h *Handle) {
	h.Release()
}

// Discard releases the borrow and closes the connection instead of reusing
// it. Use it when the transport broke mid-call.
func (h *Handle) Discard() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.pool.release(h.conn, true)
}
