package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/utkarsh5026/fetchpool/internal/queue"
	"go.uber.org/zap"
)

// worker is the loop run by each of the pool's goroutines:
// dequeue -> acquire permit -> fetch -> record, until the queue is closed and
// drained or ctx is cancelled. Per-item failures never end the loop; only a
// duplicate result write does.
func (p *WorkerPool[K, V]) worker(ctx context.Context, id int) error {
	log := p.log.With(zap.Int("worker", id))

	for {
		item, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.conf.metrics.QueueDepth(p.queue.Len())

		res := p.process(ctx, item, log)
		if err := p.record(res); err != nil {
			log.Error("duplicate result write", zap.Any("item", item), zap.Error(err))
			return err
		}
	}
}

// process runs every permitted attempt for item and builds its Result.
func (p *WorkerPool[K, V]) process(ctx context.Context, item K, log *zap.Logger) Result[K, V] {
	start := time.Now()
	res := Result[K, V]{Item: item}

	maxAttempts := max(p.conf.maxAttempts, 1)
	var lastErr error
	var delay time.Duration

	for attempt := range maxAttempts {
		if attempt > 0 {
			delay = p.backoff.Delay(attempt-1, delay)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return p.cancelled(res, ctx.Err(), start)
				}
			}
		}

		release, err := p.limiter.Acquire(ctx)
		if err != nil {
			return p.cancelled(res, err, start)
		}

		res.Attempts++
		value, err := p.attempt(ctx, item, release)
		if err == nil {
			res.Value = value
			res.Outcome = OutcomeSucceeded
			res.Duration = time.Since(start)
			return res
		}

		if ctx.Err() != nil {
			return p.cancelled(res, ctx.Err(), start)
		}

		lastErr = err
		if attempt == maxAttempts-1 || (p.conf.retryIf != nil && !p.conf.retryIf(err)) {
			break
		}

		p.conf.metrics.Retried()
		if p.conf.onRetry != nil {
			p.conf.onRetry(item, attempt+2, err)
		}
		log.Debug("retrying fetch", zap.Any("item", item), zap.Int("attempt", attempt+2), zap.Error(err))
	}

	res.Outcome = OutcomeFailed
	res.Err = &FetchError{Item: item, Kind: classify(lastErr), Attempts: res.Attempts, Err: lastErr}
	res.Duration = time.Since(start)
	log.Debug("fetch failed", zap.Any("item", item), zap.Int("attempts", res.Attempts), zap.Error(lastErr))
	return res
}

type fetchOutcome[V any] struct {
	value V
	err   error
}

// attempt makes one bounded fetch call. The call runs on its own goroutine so
// a client that ignores its context cannot hold the worker past the timeout;
// the in-flight slot is only given back once the call has really returned.
func (p *WorkerPool[K, V]) attempt(ctx context.Context, item K, release func()) (V, error) {
	var zero V

	actx, cancel := ctx, context.CancelFunc(func() {})
	if p.conf.fetchTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, p.conf.fetchTimeout)
	}
	defer cancel()

	p.inFlight.Add(1)
	p.conf.metrics.AttemptStarted()
	start := time.Now()

	outC := make(chan fetchOutcome[V], 1)
	go func() {
		defer release()
		defer p.inFlight.Add(-1)
		v, err := p.fetchWithRecovery(actx, item)
		outC <- fetchOutcome[V]{value: v, err: err}
	}()

	select {
	case out := <-outC:
		p.conf.metrics.AttemptFinished(time.Since(start), out.err)
		return out.value, out.err
	case <-actx.Done():
		err := actx.Err()
		p.conf.metrics.AttemptFinished(time.Since(start), err)
		return zero, err
	}
}

// fetchWithRecovery calls the client, converting a panic into ErrFetchPanic
// with a stack trace so one bad item cannot crash the pool.
func (p *WorkerPool[K, V]) fetchWithRecovery(ctx context.Context, item K) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("%w: %v\nstack trace:\n%s", ErrFetchPanic, r, buf[:n])
		}
	}()

	return p.client.Fetch(ctx, item)
}

func (p *WorkerPool[K, V]) cancelled(res Result[K, V], cause error, start time.Time) Result[K, V] {
	res.Outcome = OutcomeCancelled
	res.Err = fmt.Errorf("%w: %w", ErrCancelled, cause)
	res.Duration = time.Since(start)
	return res
}

// record stores res and fires the per-result hooks.
func (p *WorkerPool[K, V]) record(res Result[K, V]) error {
	if err := p.results.Record(res); err != nil {
		return err
	}

	p.conf.metrics.ItemFinished(res.Outcome, res.Duration)
	if p.conf.onResult != nil {
		p.conf.onResult(res.Item, res.Outcome, res.Err)
	}
	done := p.completed.Add(1)
	if p.conf.progress != nil {
		p.conf.progress(int(done), int(p.enqueued.Load()))
	}
	return nil
}
