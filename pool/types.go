package pool

import (
	"context"
	"iter"
	"maps"
	"time"
)

// Client performs the downstream request for one item. A single Client is
// shared by every worker of a run, so implementations must be safe for
// concurrent use.
//
// Type parameters:
//   - K: The item (identifier) type
//   - V: The value fetched for an item
type Client[K comparable, V any] interface {
	Fetch(ctx context.Context, item K) (V, error)
}

// ClientFunc adapts a plain function to the Client interface.
type ClientFunc[K comparable, V any] func(ctx context.Context, item K) (V, error)

// Fetch calls f(ctx, item).
func (f ClientFunc[K, V]) Fetch(ctx context.Context, item K) (V, error) {
	return f(ctx, item)
}

// Outcome is the terminal state of an item.
type Outcome int

const (
	// OutcomeSucceeded means the fetch returned a value.
	OutcomeSucceeded Outcome = iota + 1
	// OutcomeFailed means every permitted attempt failed; Err is a *FetchError.
	OutcomeFailed
	// OutcomeCancelled means the run was cancelled before the item completed.
	// Attempts is zero when the fetch was never started.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result represents the outcome of processing a single item.
//
// Fields:
//   - Item: The item this result belongs to
//   - Value: The fetched value (only valid when Outcome is OutcomeSucceeded)
//   - Err: Failure or cancellation cause (nil on success)
//   - Outcome: Terminal state of the item
//   - Attempts: Number of fetch calls made for the item
//   - Duration: Time spent from dequeue to completion
type Result[K comparable, V any] struct {
	Item     K
	Value    V
	Err      error
	Outcome  Outcome
	Attempts int
	Duration time.Duration
}

// ResultSet is the read-only mapping from item to Result handed to the caller
// once a run has finished.
type ResultSet[K comparable, V any] struct {
	m map[K]Result[K, V]
}

// Len returns the number of recorded items.
func (rs ResultSet[K, V]) Len() int {
	return len(rs.m)
}

// Get returns the result recorded for item.
func (rs ResultSet[K, V]) Get(item K) (Result[K, V], bool) {
	r, ok := rs.m[item]
	return r, ok
}

// All iterates over every result in unspecified order.
func (rs ResultSet[K, V]) All() iter.Seq2[K, Result[K, V]] {
	return maps.All(rs.m)
}

// Values returns the successfully fetched values keyed by item.
func (rs ResultSet[K, V]) Values() map[K]V {
	out := make(map[K]V, len(rs.m))
	for k, r := range rs.m {
		if r.Outcome == OutcomeSucceeded {
			out[k] = r.Value
		}
	}
	return out
}

// Filter returns the results having the given outcome.
func (rs ResultSet[K, V]) Filter(o Outcome) []Result[K, V] {
	var out []Result[K, V]
	for _, r := range rs.m {
		if r.Outcome == o {
			out = append(out, r)
		}
	}
	return out
}

// Count returns how many results have the given outcome.
func (rs ResultSet[K, V]) Count(o Outcome) int {
	n := 0
	for _, r := range rs.m {
		if r.Outcome == o {
			n++
		}
	}
	return n
}
