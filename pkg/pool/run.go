package pool

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/systmms/dsstore/pkg/errkind"
	"github.com/systmms/dsstore/pkg/provider"
)

// RetryPolicy bounds Run's transparent retries. Only UNAVAILABLE and
// POOL_TIMEOUT failures are retried.
type RetryPolicy struct {
	// MaxAttempts counts every try including the first. 1 disables retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy is applied to zero-valued fields.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    2 * time.Second,
	Multiplier:  2,
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	if r.MaxDelay < r.BaseDelay {
		r.MaxDelay = r.BaseDelay
	}
	if r.Multiplier < 1 {
		r.Multiplier = DefaultRetryPolicy.Multiplier
	}
	return r
}

func (r RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.BaseDelay
	b.MaxInterval = r.MaxDelay
	b.Multiplier = r.Multiplier
	return b
}

// Run borrows a connection, calls fn with it and releases it on every exit
// path, including panics and cancellation. Failures are mapped to
// *errkind.Error; UNAVAILABLE and POOL_TIMEOUT are retried with exponential
// backoff up to the configured attempts, every other kind is returned on
// first occurrence.
//
// fn may run more than once and must be safe to repeat.
func (p *Pool) Run(ctx context.Context, op, resource string, fn func(ctx context.Context, b provider.Backend) error) error {
	var last error
	attempt := func() (struct{}, error) {
		last = p.runOnce(ctx, op, resource, fn)
		return struct{}{}, last
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(p.cfg.Retry.backOff()),
		backoff.WithMaxTries(uint(p.cfg.Retry.MaxAttempts)),
		backoff.WithNotify(func(error, time.Duration) { p.stats.retries.Add(1) }),
	)
	if err == nil {
		return nil
	}

	// A deadline that expires during the backoff wait surfaces as the bare
	// context error; the attempt that preceded it is the real cause.
	if last != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		err = last
	}

	// The last attempt may still carry its permanent marker.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return errkind.Wrap(err, op, resource)
}

func (p *Pool) runOnce(ctx context.Context, op, resource string, fn func(ctx context.Context, b provider.Backend) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return classify(err)
	}
	defer h.Release()

	if err := fn(ctx, h.Backend()); err != nil {
		werr := errkind.Wrap(err, op, resource)
		if errkind.KindOf(werr) == errkind.Unavailable && ctx.Err() == nil {
			h.Discard()
		}
		return classify(werr)
	}
	return nil
}

func classify(err error) error {
	if errkind.KindOf(err).Retryable() {
		return err
	}
	return backoff.Permanent(err)
}
