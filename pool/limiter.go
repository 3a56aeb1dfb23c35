package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/ratelimit"
	"golang.org/x/sync/semaphore"
)

// Limiter gates how often a downstream call may start. Wait blocks until the
// caller may proceed or ctx ends. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// RateLimiter is the single point of throttling shared by all workers. It
// combines two independent knobs: the call rate (a Limiter) and the maximum
// number of calls in flight (a weighted semaphore).
type RateLimiter struct {
	rate    Limiter
	slots   *semaphore.Weighted
	metrics Metrics
}

// NewRateLimiter creates a RateLimiter. l may be nil for no rate limit;
// maxInFlight below 1 is treated as 1.
func NewRateLimiter(l Limiter, maxInFlight int, m Metrics) *RateLimiter {
	if m == nil {
		m = noopMetrics{}
	}
	return &RateLimiter{
		rate:    l,
		slots:   semaphore.NewWeighted(int64(max(maxInFlight, 1))),
		metrics: m,
	}
}

// Acquire blocks until a call may start and returns the function that gives
// the in-flight slot back. It returns an error wrapping ctx's error when ctx
// ends first, including when the rate limiter knows the next permit lies
// beyond ctx's deadline.
func (r *RateLimiter) Acquire(ctx context.Context) (release func(), err error) {
	start := time.Now()
	defer func() {
		r.metrics.RateWaited(time.Since(start))
	}()

	if err := r.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	if r.rate != nil {
		if err := r.rate.Wait(ctx); err != nil {
			r.slots.Release(1)
			// Rate limiter's error doesn't wrap context errors, so check context explicitly
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.slots.Release(1) })
	}, nil
}

// leakyBucket adapts go.uber.org/ratelimit to Limiter.
type leakyBucket struct {
	rl ratelimit.Limiter
}

// NewLeakyBucket wraps a leaky bucket limiter. Take cannot be interrupted, so a
// waiter whose ctx ends returns at once and its pending slot is consumed in
// the background.
func NewLeakyBucket(rl ratelimit.Limiter) Limiter {
	return &leakyBucket{rl: rl}
}

func (b *leakyBucket) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		b.rl.Take()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
