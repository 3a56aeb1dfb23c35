package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_Retry_SuccessOnFirstAttempt(t *testing.T) {
	var attemptCount atomic.Int32
	client := ClientFunc[int, int](func(ctx context.Context, id int) (int, error) {
		attemptCount.Add(1)
		return id * 2, nil
	})

	report, err := Run(context.Background(), FromSlice([]int{1}), client,
		WithRetryPolicy(3, 100*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, _ := report.Results.Get(1)
	if r.Value != 2 {
		t.Errorf("expected result 2, got %d", r.Value)
	}
	if attemptCount.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attemptCount.Load())
	}
}

func TestRun_Retry_SuccessAfterRetries(t *testing.T) {
	var attemptCount atomic.Int32
	client := ClientFunc[int, int](func(ctx context.Context, id int) (int, error) {
		if attemptCount.Add(1) < 3 {
			return 0, errors.New("temporary failure")
		}
		return id * 2, nil
	})

	start := time.Now()
	report, err := Run(context.Background(), FromSlice([]int{5}), client,
		WithRetryPolicy(3, 50*time.Millisecond),
		WithBackoff(BackoffExponential, time.Second, 0),
	)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, _ := report.Results.Get(5)
	if r.Outcome != OutcomeSucceeded || r.Value != 10 {
		t.Errorf("expected success with 10, got %v %d", r.Outcome, r.Value)
	}
	if r.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", r.Attempts)
	}

	// 50ms before the second attempt, 100ms before the third
	if elapsed < 150*time.Millisecond {
		t.Errorf("expected at least 150ms elapsed for backoff, got %v", elapsed)
	}
}

func TestRun_Retry_AllAttemptsFail(t *testing.T) {
	var attemptCount atomic.Int32
	failure := errors.New("upstream unavailable")
	client := ClientFunc[int, int](func(ctx context.Context, id int) (int, error) {
		attemptCount.Add(1)
		return 0, Transport(failure)
	})

	report, err := Run(context.Background(), FromSlice([]int{1}), client,
		WithRetryPolicy(4, time.Millisecond),
	)
	if err != nil {
		t.Fatalf("per-item failures must not fail the run: %v", err)
	}

	r, _ := report.Results.Get(1)
	if r.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %v", r.Outcome)
	}
	if r.Attempts != 4 || attemptCount.Load() != 4 {
		t.Errorf("expected 4 attempts, got %d (client saw %d)", r.Attempts, attemptCount.Load())
	}
	if !errors.Is(r.Err, ErrFetchTransport) || !errors.Is(r.Err, failure) {
		t.Errorf("expected transport error wrapping the cause, got %v", r.Err)
	}
}

func TestRun_Retry_RetryIf(t *testing.T) {
	var attemptCount atomic.Int32
	client := ClientFunc[int, int](func(ctx context.Context, id int) (int, error) {
		attemptCount.Add(1)
		return 0, BadResponse(errors.New("status 404"))
	})

	report, err := Run(context.Background(), FromSlice([]int{1}), client,
		WithRetryPolicy(5, time.Millisecond),
		WithRetryIf(func(err error) bool {
			return !errors.Is(err, ErrFetchBadResponse)
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, _ := report.Results.Get(1)
	if r.Attempts != 1 || attemptCount.Load() != 1 {
		t.Errorf("bad responses must not be retried, got %d attempts", r.Attempts)
	}
}

func TestRun_Retry_OnRetryHook(t *testing.T) {
	var mu sync.Mutex
	var attempts []int

	client := ClientFunc[int, int](func(ctx context.Context, id int) (int, error) {
		return 0, errors.New("nope")
	})

	_, err := Run(context.Background(), FromSlice([]int{7}), client,
		WithRetryPolicy(3, time.Millisecond),
		WithOnRetry(func(item any, attempt int, err error) {
			mu.Lock()
			defer mu.Unlock()
			if item.(int) != 7 {
				t.Errorf("unexpected item %v", item)
			}
			attempts = append(attempts, attempt)
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 2 || attempts[0] != 2 || attempts[1] != 3 {
		t.Errorf("expected retry hook for attempts [2 3], got %v", attempts)
	}
}

func TestRun_Retry_EachAttemptTakesAPermit(t *testing.T) {
	var attemptCount atomic.Int32
	client := ClientFunc[int, int](func(ctx context.Context, id int) (int, error) {
		if attemptCount.Add(1) < 3 {
			return 0, errors.New("flaky")
		}
		return id, nil
	})

	start := time.Now()
	report, err := Run(context.Background(), FromSlice([]int{1}), client,
		WithRetryPolicy(3, 0),
		WithCallsPer(10, time.Second),
	)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Succeeded() != 1 {
		t.Fatalf("expected success after retries")
	}

	// three permits at 10/s: two 100ms gaps
	if elapsed < 200*time.Millisecond {
		t.Errorf("retries bypassed the rate limiter: %v", elapsed)
	}
}

func TestRun_Retry_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := ClientFunc[int, int](func(ctx context.Context, id int) (int, error) {
		return 0, errors.New("always")
	})

	start := time.Now()
	report, err := Run(ctx, FromSlice([]int{1}), client,
		WithRetryPolicy(5, 10*time.Second),
	)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("backoff sleep ignored cancellation: %v", elapsed)
	}

	r, _ := report.Results.Get(1)
	if r.Outcome != OutcomeCancelled || r.Attempts != 1 {
		t.Errorf("expected cancelled after 1 attempt, got %v after %d", r.Outcome, r.Attempts)
	}
}
