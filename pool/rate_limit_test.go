package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

func TestRun_RateLimit_CallsPerSecond(t *testing.T) {
	// 11 calls at 20/s with burst 1: the first is immediate, the
	// remaining 10 are spaced 50ms apart.
	const numItems = 11
	const perSecond = 20

	start := time.Now()
	report, err := Run(context.Background(), FromSlice(ids(numItems)), double(),
		WithWorkerCount(perSecond),
		WithCallsPer(perSecond, time.Second),
	)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Succeeded() != numItems {
		t.Fatalf("expected %d results, got %d", numItems, report.Succeeded())
	}

	expectedMin := time.Duration(numItems-1) * time.Second / perSecond
	if elapsed < expectedMin {
		t.Errorf("expected at least %v, got %v (rate limiting not working properly)", expectedMin, elapsed)
	}
	if elapsed > expectedMin+time.Second {
		t.Errorf("took too long: %v", elapsed)
	}
}

func TestRun_RateLimit_BasicThroughput(t *testing.T) {
	// 25 items at 10/s with burst 5: 5 immediately, 20 more at 10/s = ~2s
	report, err := Run(context.Background(), FromSlice(ids(25)), double(),
		WithWorkerCount(10),
		WithRateLimit(10, 5),
	)
	elapsed := time.Since(report.Started)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Results.Len() != 25 {
		t.Fatalf("expected 25 results, got %d", report.Results.Len())
	}

	if elapsed < 2*time.Second {
		t.Errorf("expected at least 2s, got %v", elapsed)
	}
	if elapsed > 3*time.Second {
		t.Errorf("took too long: %v (expected less than 3s)", elapsed)
	}
}

func TestRun_RateLimit_BurstBehavior(t *testing.T) {
	start := time.Now()
	report, err := Run(context.Background(), FromSlice(ids(10)), double(),
		WithWorkerCount(10),
		WithRateLimit(5, 10),
	)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Succeeded() != 10 {
		t.Fatalf("expected 10 results, got %d", report.Succeeded())
	}

	// With burst=10 and 10 items, all should go through at once
	if elapsed > 500*time.Millisecond {
		t.Errorf("burst should allow fast processing, took %v", elapsed)
	}
}

func TestRun_RateLimit_LeakyBucket(t *testing.T) {
	start := time.Now()
	report, err := Run(context.Background(), FromSlice(ids(6)), double(),
		WithWorkerCount(6),
		WithLeakyBucket(20, time.Second),
	)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Succeeded() != 6 {
		t.Fatalf("expected 6 results, got %d", report.Succeeded())
	}

	// 5 gaps of 50ms; small tolerance for the clock used by the leaky bucket
	if elapsed < 240*time.Millisecond {
		t.Errorf("expected at least ~250ms, got %v", elapsed)
	}
}

func TestRun_RateLimit_WithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	report, err := Run(ctx, FromSlice(ids(100)), double(),
		WithWorkerCount(5),
		WithRateLimit(2, 1),
	)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if report.Results.Len() != 100 {
		t.Errorf("expected every item accounted for, got %d", report.Results.Len())
	}

	// 2/s with burst 1 over 500ms allows at most 2 calls
	if n := report.Succeeded(); n > 2 {
		t.Errorf("expected at most 2 successful items, got %d", n)
	}
	if elapsed > time.Second {
		t.Errorf("cancellation took too long: %v", elapsed)
	}
}

func TestRateLimiter_AcquireRelease(t *testing.T) {
	rl := NewRateLimiter(nil, 2, nil)

	r1, err := rl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := rl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := rl.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected third acquire to time out, got %v", err)
	}

	r1()
	r1() // releasing twice must not free a second slot
	r3, err := rl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error after release: %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if _, err := rl.Acquire(ctx2); err == nil {
		t.Fatal("double release freed an extra slot")
	}

	r2()
	r3()
}

func TestRateLimiter_PermitBeyondDeadline(t *testing.T) {
	rl := NewRateLimiter(rate.NewLimiter(rate.Every(time.Second), 1), 4, nil)

	release, err := rl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = rl.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected error wrapping DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > 40*time.Millisecond {
		t.Errorf("expected immediate failure when the next permit lies past the deadline")
	}
}

func TestLeakyBucket_WaitCancelled(t *testing.T) {
	l := NewLeakyBucket(ratelimit.New(1, ratelimit.Per(time.Second), ratelimit.WithoutSlack))

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first wait should pass: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := l.Wait(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected Canceled, got %v", err)
	}
}
