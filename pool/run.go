package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/utkarsh5026/fetchpool/internal/queue"
	"github.com/ygrebnov/errorc"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Report is the outcome of a run. Results accounts for every item the source
// produced exactly once.
type Report[K comparable, V any] struct {
	RunID   uuid.UUID
	Results ResultSet[K, V]
	// Complete is true when every item was attempted to completion.
	Complete bool
	// Duplicates counts items the source produced more than once; repeats are skipped.
	Duplicates int
	Started    time.Time
	Elapsed    time.Duration
}

// Failures returns the items whose fetch failed, with their cause.
func (r *Report[K, V]) Failures() []Result[K, V] {
	return r.Results.Filter(OutcomeFailed)
}

// Cancelled returns the items that did not complete because the run was cancelled.
func (r *Report[K, V]) Cancelled() []Result[K, V] {
	return r.Results.Filter(OutcomeCancelled)
}

// Succeeded returns the number of successful items.
func (r *Report[K, V]) Succeeded() int {
	return r.Results.Count(OutcomeSucceeded)
}

// Err combines the failure causes of all failed items, or nil.
func (r *Report[K, V]) Err() error {
	var err error
	for _, f := range r.Failures() {
		err = multierr.Append(err, f.Err)
	}
	return err
}

// Orchestrator wires a source, a queue, a rate limiter and a worker pool for
// one or more runs. It holds configuration only and is safe to reuse.
type Orchestrator[K comparable, V any] struct {
	conf *config
}

// New creates an Orchestrator with the given options.
//
// Default configuration:
//   - workerCount: DefaultWorkerCount (5)
//   - maxInFlight: equal to workerCount
//   - queueCapacity: 1024
//   - fetchTimeout: 30s per attempt
//   - maxAttempts: 1 (no retries)
//   - no rate limit
//
// Example:
//
//	o := pool.New[int, int](
//	    pool.WithWorkerCount(10),
//	    pool.WithRateLimit(5, 1),
//	    pool.WithFetchTimeout(2*time.Second),
//	)
//	report, err := o.Run(ctx, pool.Range(1, 100), client)
func New[K comparable, V any](opts ...Option) *Orchestrator[K, V] {
	return &Orchestrator[K, V]{conf: newConfig(opts...)}
}

// Run is shorthand for New[K, V](opts...).Run(ctx, src, client).
func Run[K comparable, V any](ctx context.Context, src Source[K], client Client[K, V], opts ...Option) (*Report[K, V], error) {
	return New[K, V](opts...).Run(ctx, src, client)
}

// Run fetches every item produced by src through client.
//
// Workers are started first, then the source is drained on the calling
// goroutine into the bounded queue, so a slow downstream throttles the
// producer. The returned report is always non-nil once the arguments are valid
// and accounts for every produced item. The error is:
//   - ErrDuplicateResult if an item was recorded twice (internal bug, run aborted)
//   - ErrQueueClosedPrematurely if the source failed (run aborted)
//   - ErrCancelled if ctx or the run timeout ended the run before it drained
//
// Per-item failures are not errors of the run; see Report.Failures.
func (o *Orchestrator[K, V]) Run(ctx context.Context, src Source[K], client Client[K, V]) (*Report[K, V], error) {
	if src == nil {
		return nil, errorc.With(ErrInvalidConfig, errorc.String("source", "nil task source"))
	}
	if client == nil {
		return nil, errorc.With(ErrInvalidConfig, errorc.String("client", "nil fetch client"))
	}

	conf := o.conf
	report := &Report[K, V]{RunID: uuid.New(), Started: time.Now()}
	log := conf.logger.With(zap.String("run_id", report.RunID.String()))

	if conf.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.runTimeout)
		defer cancel()
	}
	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	log.Info("fetch run started",
		zap.Int("workers", conf.workerCount),
		zap.Int("max_in_flight", conf.maxInFlight),
		zap.Int("queue_capacity", conf.queueCapacity),
		zap.String("rate_limit", orNone(conf.limiterDesc)),
		zap.Duration("fetch_timeout", conf.fetchTimeout),
		zap.Int("max_attempts", max(conf.maxAttempts, 1)),
	)

	results := NewCollector[K, V](0)
	wp := newWorkerPool(conf, queue.New[K](conf.queueCapacity), client, results, log)
	if err := wp.Start(runCtx); err != nil {
		return nil, err
	}

	pctx := wp.Context()
	seen, interrupted, srcErr := o.produce(pctx, src, wp, log, report)
	if srcErr != nil {
		if pctx.Err() != nil && errors.Is(srcErr, pctx.Err()) {
			interrupted = true
			srcErr = nil
		} else {
			log.Error("task source failed", zap.Error(srcErr))
			abort()
		}
	}
	wp.CloseQueue()
	poolErr := wp.Wait()

	// Anything produced but never recorded was still queued, or was read
	// from the source after the run stopped.
	for item := range seen {
		if results.Has(item) {
			continue
		}
		cause := context.Cause(runCtx)
		if cause == nil {
			cause = context.Canceled
		}
		res := Result[K, V]{Item: item, Outcome: OutcomeCancelled, Err: fmt.Errorf("%w: %w", ErrCancelled, cause)}
		if err := results.Record(res); err != nil {
			log.Error("duplicate result write", zap.Any("item", item), zap.Error(err))
			continue
		}
		conf.metrics.ItemFinished(OutcomeCancelled, 0)
	}

	report.Results = results.Snapshot()
	report.Elapsed = time.Since(report.Started)
	cancelled := report.Results.Count(OutcomeCancelled)
	report.Complete = poolErr == nil && srcErr == nil && !interrupted && cancelled == 0

	log.Info("fetch run finished",
		zap.Int("items", report.Results.Len()),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Results.Count(OutcomeFailed)),
		zap.Int("cancelled", cancelled),
		zap.Int("duplicates", report.Duplicates),
		zap.Bool("complete", report.Complete),
		zap.Duration("elapsed", report.Elapsed),
	)

	switch {
	case poolErr != nil:
		return report, poolErr
	case srcErr != nil:
		return report, fmt.Errorf("%w: %w", ErrQueueClosedPrematurely, srcErr)
	case interrupted || cancelled > 0:
		cause := context.Cause(ctx)
		if cause == nil {
			cause = context.DeadlineExceeded
		}
		log.Warn("fetch run cancelled before drain", zap.Int("cancelled", cancelled), zap.Error(cause))
		return report, fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
	return report, nil
}

// produce drains src into the pool's queue on the calling goroutine. Once
// ctx is done it keeps reading without enqueuing, so items a finite source
// still holds are accounted as cancelled. It returns every item produced,
// whether the run was cancelled while producing, and the source's own error.
func (o *Orchestrator[K, V]) produce(
	ctx context.Context,
	src Source[K],
	wp *WorkerPool[K, V],
	log *zap.Logger,
	report *Report[K, V],
) (seen map[K]struct{}, interrupted bool, err error) {
	seen = make(map[K]struct{})

	err = src.Each(ctx, func(item K) bool {
		if _, dup := seen[item]; dup {
			report.Duplicates++
			log.Warn("skipping duplicate item from source", zap.Any("item", item))
			return true
		}
		seen[item] = struct{}{}

		if interrupted {
			return true
		}
		if ctx.Err() != nil {
			interrupted = true
			return true
		}
		if err := wp.Submit(ctx, item); err != nil {
			// ctx ended while the queue was full
			interrupted = true
		}
		return true
	})
	return seen, interrupted, err
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
