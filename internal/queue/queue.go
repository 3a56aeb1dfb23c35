// Package queue implements the bounded multi-producer multi-consumer work queue
// that feeds the fetch workers.
package queue

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
)

var (
	// ErrClosed is returned by Enqueue after Close, and by Dequeue once the
	// queue is closed and every item has been handed out.
	ErrClosed = errors.New("queue is closed")
)

const (
	// Cache line size for padding to prevent false sharing
	cacheLinePadding = 128
	// DefaultCapacity is used when New is called with a non-positive capacity.
	DefaultCapacity = 1024
	// Spin attempts before a caller parks on a notification channel
	maxSpinAttempts = 10
)

type slot[T any] struct {
	sequence uint64
	value    T
	_        [cacheLinePadding - 16]byte
}

// Queue is a lock-free bounded ring buffer. Producers block while the ring is
// full and consumers block while it is empty, so a slow consumer side applies
// backpressure to the producer.
//
// Items come out in no guaranteed order relative to concurrent consumers.
type Queue[T any] struct {
	ring []slot[T]
	mask uint64

	_    [cacheLinePadding]byte
	head uint64
	_    [cacheLinePadding - 8]byte
	tail uint64
	_    [cacheLinePadding - 8]byte

	closed atomic.Bool

	// itemC and spaceC are buffered (1) wake-up tokens and are never closed.
	itemC  chan struct{}
	spaceC chan struct{}
	// closeC is closed exactly once by Close.
	closeC chan struct{}
}

// New creates a queue holding at most capacity items, rounded up to a power of two.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	capacity = nextPowerOfTwo(capacity)
	ring := make([]slot[T], capacity)
	for i := range ring {
		ring[i].sequence = uint64(i) // #nosec G115 -- i is loop index within valid ring bounds
	}

	return &Queue[T]{
		ring:   ring,
		mask:   uint64(capacity - 1), // #nosec G115 -- capacity is validated positive
		itemC:  make(chan struct{}, 1),
		spaceC: make(chan struct{}, 1),
		closeC: make(chan struct{}),
	}
}

// Enqueue adds an item. It blocks while the queue is full and returns
// ErrClosed if the queue was closed, or ctx.Err() if ctx ends first.
func (q *Queue[T]) Enqueue(ctx context.Context, value T) error {
	spinCount := 0

	for {
		if q.closed.Load() {
			return ErrClosed
		}

		tail := atomic.LoadUint64(&q.tail)
		s := &q.ring[tail&q.mask]
		diff := int64(atomic.LoadUint64(&s.sequence)) - int64(tail) // #nosec G115 -- sequence comparison

		if diff == 0 {
			if atomic.CompareAndSwapUint64(&q.tail, tail, tail+1) {
				s.value = value
				atomic.StoreUint64(&s.sequence, tail+1)
				notify(q.itemC)
				return nil
			}
			continue
		}

		if diff > 0 {
			// another producer moved tail, reload
			continue
		}

		spinCount++
		if spinCount < maxSpinAttempts {
			runtime.Gosched()
			continue
		}

		spinCount = 0
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closeC:
			return ErrClosed
		case <-q.spaceC:
		}
	}
}

// Dequeue removes an item, blocking until one is available. Once the queue is
// closed and empty it returns ErrClosed; ctx ending first returns ctx.Err().
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	spinCount := 0

	for {
		if v, ok := q.TryDequeue(); ok {
			return v, nil
		}

		if q.drained() {
			return zero, ErrClosed
		}

		spinCount++
		if spinCount < maxSpinAttempts {
			runtime.Gosched()
			continue
		}

		spinCount = 0
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.itemC:
		case <-q.closeC:
			// closed but possibly not drained, re-check on the next pass
			if q.drained() {
				return zero, ErrClosed
			}
			runtime.Gosched()
		}
	}
}

// TryDequeue removes an item without blocking. It reports false when no item
// is ready.
func (q *Queue[T]) TryDequeue() (T, bool) {
	var zero T

	for {
		head := atomic.LoadUint64(&q.head)
		s := &q.ring[head&q.mask]
		diff := int64(atomic.LoadUint64(&s.sequence)) - int64(head+1) // #nosec G115 -- sequence comparison

		switch {
		case diff == 0:
			if !atomic.CompareAndSwapUint64(&q.head, head, head+1) {
				continue
			}
			v := s.value
			s.value = zero
			// hand the slot back to producers for the next lap
			atomic.StoreUint64(&s.sequence, head+q.mask+1)
			notify(q.spaceC)
			if q.Len() > 0 {
				// chain the wake-up so a parked consumer picks up the rest
				notify(q.itemC)
			}
			return v, true
		case diff > 0:
			// another consumer moved head, reload
			continue
		default:
			return zero, false
		}
	}
}

// Close marks the queue closed for producers. It is safe to call more than once.
func (q *Queue[T]) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.closeC)
	}
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	return q.closed.Load()
}

// Len returns the approximate number of queued items.
func (q *Queue[T]) Len() int {
	head := atomic.LoadUint64(&q.head)
	tail := atomic.LoadUint64(&q.tail)

	if tail > head {
		return int(tail - head) // #nosec G115 -- tail > head guarantees result fits in int
	}
	return 0
}

// Cap returns the ring capacity.
func (q *Queue[T]) Cap() int {
	return len(q.ring)
}

// drained reports closed and empty.
func (q *Queue[T]) drained() bool {
	if !q.closed.Load() {
		return false
	}
	return atomic.LoadUint64(&q.head) >= atomic.LoadUint64(&q.tail)
}

func notify(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// nextPowerOfTwo returns the next power of 2 >= n
func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}

	if n&(n-1) == 0 {
		return n
	}

	power := 1
	for power < n {
		power *= 2
	}
	return power
}
