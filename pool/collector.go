package pool

import (
	"fmt"
	"maps"
	"sync"
)

// Collector aggregates per-item results from concurrent workers. Each item may
// be recorded once; a second write means an item was dequeued twice.
type Collector[K comparable, V any] struct {
	mu      sync.Mutex
	results map[K]Result[K, V]
}

// NewCollector creates an empty Collector. sizeHint pre-sizes the map.
func NewCollector[K comparable, V any](sizeHint int) *Collector[K, V] {
	return &Collector[K, V]{
		results: make(map[K]Result[K, V], max(sizeHint, 0)),
	}
}

// Record stores r. It returns ErrDuplicateResult, leaving the first entry in
// place, if r.Item was already recorded.
func (c *Collector[K, V]) Record(r Result[K, V]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.results[r.Item]; ok {
		return fmt.Errorf("%w: item %v already %s", ErrDuplicateResult, r.Item, prev.Outcome)
	}
	c.results[r.Item] = r
	return nil
}

// Has reports whether item has a recorded result.
func (c *Collector[K, V]) Has(item K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.results[item]
	return ok
}

// Len returns the number of recorded results.
func (c *Collector[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// Snapshot returns an immutable copy of the recorded results.
func (c *Collector[K, V]) Snapshot() ResultSet[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ResultSet[K, V]{m: maps.Clone(c.results)}
}
