// Package backoff computes the delay between fetch retry attempts.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Type selects the retry backoff algorithm.
type Type int

const (
	// Exponential doubles the delay on each retry (default).
	Exponential Type = iota
	// Jittered is exponential backoff with a random ±jitter factor applied.
	Jittered
	// Decorrelated is AWS-style decorrelated jitter:
	// sleep = min(max, random(initial, prev*3)).
	Decorrelated
)

// maxShift caps the exponent to prevent overflow.
const maxShift = 62

// String returns the lowercase name used in config files.
func (t Type) String() string {
	switch t {
	case Jittered:
		return "jittered"
	case Decorrelated:
		return "decorrelated"
	default:
		return "exponential"
	}
}

// Parse maps a config name to a Type. Unknown names report false.
func Parse(name string) (Type, bool) {
	switch name {
	case "", "exponential":
		return Exponential, true
	case "jittered":
		return Jittered, true
	case "decorrelated":
		return Decorrelated, true
	}
	return Exponential, false
}

// Strategy computes retry delays. A Strategy holds no per-item state, so one
// instance is shared by every worker; callers pass the previous delay back in.
type Strategy struct {
	kind         Type
	initialDelay time.Duration
	maxDelay     time.Duration
	jitterFactor float64

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Strategy. A maxDelay below initialDelay is raised to initialDelay.
// jitterFactor is clamped to [0, 1] and only used by Jittered.
func New(kind Type, initialDelay, maxDelay time.Duration, jitterFactor float64) *Strategy {
	if initialDelay < 0 {
		initialDelay = 0
	}
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}

	return &Strategy{
		kind:         kind,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		jitterFactor: clamp(jitterFactor, 0, 1),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- crypto rand not needed for backoff jitter
	}
}

// Delay returns how long to wait before retry number retry (0 = first retry).
// prev is the delay returned for the previous retry of the same item, zero for
// the first one.
func (s *Strategy) Delay(retry int, prev time.Duration) time.Duration {
	if retry < 0 || s.initialDelay == 0 {
		return 0
	}

	switch s.kind {
	case Jittered:
		base := exponential(retry, s.initialDelay, s.maxDelay)
		multiplier := 1.0 + (s.float64()*2-1)*s.jitterFactor
		return clamp(time.Duration(float64(base)*multiplier), 0, s.maxDelay)

	case Decorrelated:
		if retry == 0 || prev < s.initialDelay {
			return s.initialDelay
		}
		upper := min(prev*3, s.maxDelay)
		span := upper - s.initialDelay
		if span <= 0 {
			return s.initialDelay
		}
		return s.initialDelay + time.Duration(s.int63n(int64(span)))

	default:
		return exponential(retry, s.initialDelay, s.maxDelay)
	}
}

func (s *Strategy) float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Strategy) int63n(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int63n(n)
}

func exponential(retry int, initialDelay, maxDelay time.Duration) time.Duration {
	if retry >= maxShift {
		return maxDelay
	}

	delay := time.Duration(int64(1)<<uint(retry)) * initialDelay
	if delay > maxDelay || delay < 0 {
		return maxDelay
	}
	return delay
}

func clamp[T int | int64 | float64 | time.Duration](v, lo, hi T) T {
	return max(lo, min(v, hi))
}
