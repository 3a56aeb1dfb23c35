// Package pool fetches a batch of items from a slow, rate-limited downstream
// with a fixed pool of workers and collects exactly one result per item.
//
// A run wires together a Source producing items, a bounded work queue, a
// shared RateLimiter, N workers and a Collector. The source is drained on the
// caller's goroutine; a full queue blocks it until workers catch up. Each
// worker loops dequeue -> acquire permit -> fetch -> record until the queue is
// closed and empty.
//
// # Basic Usage
//
//	client := pool.ClientFunc[int, int](func(ctx context.Context, id int) (int, error) {
//	    return lookupAge(ctx, id)
//	})
//	report, err := pool.Run(ctx, pool.Range(1, 101), client,
//	    pool.WithWorkerCount(5),
//	    pool.WithRateLimit(5, 1),
//	)
//	if err != nil {
//	    // ErrCancelled, ErrQueueClosedPrematurely or ErrDuplicateResult
//	}
//	for id, age := range report.Results.Values() {
//	    fmt.Println(id, age)
//	}
//
// # Failures
//
// A failed fetch never aborts the run. The item is recorded with
// OutcomeFailed and a *FetchError whose Kind is one of ErrFetchTimeout,
// ErrFetchTransport, ErrFetchBadResponse or ErrFetchPanic:
//
//	for _, f := range report.Failures() {
//	    if errors.Is(f.Err, pool.ErrFetchTimeout) {
//	        // ...
//	    }
//	}
//
// # Rate Limiting
//
// All workers share one limiter, so the configured rate is a property of the
// run rather than of a worker. Two knobs are independent:
//
//   - WithRateLimit / WithCallsPer / WithLeakyBucket: how often a call may start
//   - WithMaxInFlight: how many calls may be running at once
//
// Retries (WithRetryPolicy, WithBackoff) take a fresh permit for every attempt.
//
// # Cancellation
//
// Cancelling the context, or reaching WithRunTimeout, stops the producer and
// the workers promptly. Items that did not complete are recorded with
// OutcomeCancelled, and Run returns the partial report together with an
// error wrapping ErrCancelled.
package pool
