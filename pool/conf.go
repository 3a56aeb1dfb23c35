package pool

import (
	"fmt"
	"time"

	"github.com/utkarsh5026/fetchpool/internal/backoff"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultWorkerCount is the number of workers used when WithWorkerCount is not given.
const DefaultWorkerCount = 5

// BackoffType selects the delay algorithm between retries.
type BackoffType = backoff.Type

const (
	BackoffExponential  = backoff.Exponential
	BackoffJittered     = backoff.Jittered
	BackoffDecorrelated = backoff.Decorrelated
)

// Option is a functional option for configuring a run.
type Option func(*config)

type config struct {
	workerCount   int
	maxInFlight   int
	queueCapacity int
	fetchTimeout  time.Duration
	runTimeout    time.Duration

	limiter     Limiter
	limiterDesc string

	maxAttempts  int
	initialDelay time.Duration
	backoffType  BackoffType
	maxDelay     time.Duration
	jitterFactor float64
	retryIf      func(error) bool

	logger  *zap.Logger
	metrics Metrics

	onRetry  func(item any, attempt int, err error)
	onResult func(item any, outcome Outcome, err error)
	progress func(done, total int)
}

func defaultConfig() *config {
	return &config{
		workerCount:   DefaultWorkerCount,
		queueCapacity: 1024,
		fetchTimeout:  30 * time.Second,
		maxAttempts:   1,
		initialDelay:  100 * time.Millisecond,
		backoffType:   BackoffExponential,
		maxDelay:      5 * time.Second,
		jitterFactor:  0.1,
		logger:        zap.NewNop(),
		metrics:       noopMetrics{},
	}
}

func newConfig(opts ...Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	if cfg.maxInFlight <= 0 || cfg.maxInFlight > cfg.workerCount {
		cfg.maxInFlight = cfg.workerCount
	}
	return cfg
}

// WithWorkerCount sets the number of concurrent workers.
// If not specified, defaults to DefaultWorkerCount.
func WithWorkerCount(count int) Option {
	return func(cfg *config) {
		if count > 0 {
			cfg.workerCount = count
		}
	}
}

// WithMaxInFlight caps the number of downstream calls running at once,
// independently of the call rate. It cannot exceed the worker count, which is
// also the default.
func WithMaxInFlight(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.maxInFlight = n
		}
	}
}

// WithQueueCapacity sets the work queue capacity. The producer blocks while
// the queue is full. Defaults to 1024.
func WithQueueCapacity(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.queueCapacity = size
		}
	}
}

// WithFetchTimeout bounds each individual fetch attempt. Defaults to 30s;
// zero disables the per-attempt timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(cfg *config) {
		if d >= 0 {
			cfg.fetchTimeout = d
		}
	}
}

// WithRunTimeout sets an overall deadline for the run. When it expires the run
// is cancelled and reported as partially complete.
func WithRunTimeout(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.runTimeout = d
		}
	}
}

// WithRateLimit sets a token bucket limiting how often any worker may call
// the client. callsPerSecond is the refill rate and burst the bucket size.
// If not specified, no rate limiting is applied.
//
// Example:
//
//	WithRateLimit(10, 5) // Allow 10 calls/sec with burst of 5
func WithRateLimit(callsPerSecond float64, burst int) Option {
	return func(cfg *config) {
		if callsPerSecond > 0 && burst > 0 {
			cfg.limiter = rate.NewLimiter(rate.Limit(callsPerSecond), burst)
			cfg.limiterDesc = fmt.Sprintf("token bucket %.2f/s burst %d", callsPerSecond, burst)
		}
	}
}

// WithCallsPer allows n calls per interval, evenly spaced (burst of one).
func WithCallsPer(n int, interval time.Duration) Option {
	return func(cfg *config) {
		if n > 0 && interval > 0 {
			cfg.limiter = rate.NewLimiter(rate.Every(interval/time.Duration(n)), 1)
			cfg.limiterDesc = fmt.Sprintf("token bucket %d per %v", n, interval)
		}
	}
}

// WithLeakyBucket spaces calls with a leaky bucket allowing n calls per
// interval and no slack.
func WithLeakyBucket(n int, interval time.Duration) Option {
	return func(cfg *config) {
		if n > 0 && interval > 0 {
			cfg.limiter = NewLeakyBucket(ratelimit.New(n, ratelimit.Per(interval), ratelimit.WithoutSlack))
			cfg.limiterDesc = fmt.Sprintf("leaky bucket %d per %v", n, interval)
		}
	}
}

// WithLimiter installs a caller-supplied call rate limiter.
func WithLimiter(l Limiter) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.limiter = l
			cfg.limiterDesc = fmt.Sprintf("custom %T", l)
		}
	}
}

// WithRetryPolicy sets a retry policy for failed fetches.
// maxAttempts is the maximum number of attempts per item (1 = no retry, the default).
// initialDelay is the delay before the first retry; later retries follow the
// configured backoff. Every retry waits for its own rate limit permit.
func WithRetryPolicy(maxAttempts int, initialDelay time.Duration) Option {
	return func(cfg *config) {
		if maxAttempts > 0 {
			cfg.maxAttempts = maxAttempts
		}
		if initialDelay >= 0 {
			cfg.initialDelay = initialDelay
		}
	}
}

// WithBackoff selects the retry backoff algorithm, its maximum delay and, for
// BackoffJittered, the jitter factor (0.0 to 1.0).
func WithBackoff(kind BackoffType, maxDelay time.Duration, jitterFactor float64) Option {
	return func(cfg *config) {
		cfg.backoffType = kind
		if maxDelay > 0 {
			cfg.maxDelay = maxDelay
		}
		if jitterFactor >= 0 {
			cfg.jitterFactor = jitterFactor
		}
	}
}

// WithRetryIf restricts retries to errors for which fn returns true.
// By default every fetch failure is retried while attempts remain.
func WithRetryIf(fn func(err error) bool) Option {
	return func(cfg *config) {
		cfg.retryIf = fn
	}
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithMetrics installs a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(cfg *config) {
		if m != nil {
			cfg.metrics = m
		}
	}
}

// WithOnRetry registers a hook called before each retry with the item, the
// attempt number about to run (starting at 2) and the error of the failed attempt.
func WithOnRetry(fn func(item any, attempt int, err error)) Option {
	return func(cfg *config) {
		cfg.onRetry = fn
	}
}

// WithOnResult registers a hook called once per item after its result is recorded.
// It is called concurrently from several workers.
func WithOnResult(fn func(item any, outcome Outcome, err error)) Option {
	return func(cfg *config) {
		cfg.onResult = fn
	}
}

// WithProgress registers a hook called after each recorded result with the
// number of finished items and the number of items enqueued so far.
// It is called concurrently from several workers.
func WithProgress(fn func(done, total int)) Option {
	return func(cfg *config) {
		cfg.progress = fn
	}
}
