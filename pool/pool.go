package pool

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/utkarsh5026/fetchpool/internal/backoff"
	"github.com/utkarsh5026/fetchpool/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkerPool runs a fixed number of workers draining a shared queue. Every
// dequeued item ends up as exactly one entry in the pool's Collector.
//
// Type parameters:
//   - K: The item type
//   - V: The fetched value type
type WorkerPool[K comparable, V any] struct {
	conf    *config
	queue   *queue.Queue[K]
	limiter *RateLimiter
	client  Client[K, V]
	results *Collector[K, V]
	backoff *backoff.Strategy
	log     *zap.Logger

	group     *errgroup.Group
	ctx       context.Context
	started   atomic.Bool
	inFlight  atomic.Int64
	completed atomic.Int64
	enqueued  atomic.Int64
}

func newWorkerPool[K comparable, V any](
	conf *config,
	q *queue.Queue[K],
	client Client[K, V],
	results *Collector[K, V],
	log *zap.Logger,
) *WorkerPool[K, V] {
	return &WorkerPool[K, V]{
		conf:    conf,
		queue:   q,
		limiter: NewRateLimiter(conf.limiter, conf.maxInFlight, conf.metrics),
		client:  client,
		results: results,
		backoff: backoff.New(conf.backoffType, conf.initialDelay, conf.maxDelay, conf.jitterFactor),
		log:     log,
	}
}

// Start launches the workers. Cancelling ctx makes every worker return promptly.
// A fatal worker error cancels the remaining workers.
func (p *WorkerPool[K, V]) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("pool already started")
	}

	g, gctx := errgroup.WithContext(ctx)
	p.group = g
	p.ctx = gctx

	for i := range p.conf.workerCount {
		g.Go(func() error {
			return p.worker(gctx, i)
		})
	}
	return nil
}

// Submit enqueues an item, blocking while the queue is full.
// Returns ErrQueueClosed after CloseQueue.
func (p *WorkerPool[K, V]) Submit(ctx context.Context, item K) error {
	if err := p.queue.Enqueue(ctx, item); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return ErrQueueClosed
		}
		return err
	}
	p.enqueued.Add(1)
	p.conf.metrics.QueueDepth(p.queue.Len())
	return nil
}

// CloseQueue signals that no further items will be submitted.
func (p *WorkerPool[K, V]) CloseQueue() {
	p.queue.Close()
}

// Wait blocks until the queue is closed and drained and every worker has
// returned, or the workers were cancelled. It returns the first fatal worker error.
func (p *WorkerPool[K, V]) Wait() error {
	if p.group == nil {
		return errors.New("pool not started")
	}
	return p.group.Wait()
}

// Context returns the context the workers run under. It is done once the
// parent is cancelled or a worker failed fatally; producers should submit
// under it so they never block on a queue nobody drains.
func (p *WorkerPool[K, V]) Context() context.Context {
	if p.ctx == nil {
		return context.Background()
	}
	return p.ctx
}

// InFlight returns the number of fetch calls currently running.
func (p *WorkerPool[K, V]) InFlight() int {
	return int(p.inFlight.Load())
}
