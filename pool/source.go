package pool

import (
	"context"
	"iter"
)

// Source produces the items of a run. Each calls emit once per item and stops
// early when emit returns false. A Source may only support a single pass.
type Source[K comparable] interface {
	Each(ctx context.Context, emit func(K) bool) error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc[K comparable] func(ctx context.Context, emit func(K) bool) error

// Each calls f(ctx, emit).
func (f SourceFunc[K]) Each(ctx context.Context, emit func(K) bool) error {
	return f(ctx, emit)
}

// FromSlice returns a Source over an in-memory list of items.
func FromSlice[K comparable](items []K) Source[K] {
	return SourceFunc[K](func(ctx context.Context, emit func(K) bool) error {
		for _, item := range items {
			if !emit(item) {
				return nil
			}
		}
		return nil
	})
}

// FromSeq returns a Source over an iterator.
func FromSeq[K comparable](seq iter.Seq[K]) Source[K] {
	return SourceFunc[K](func(ctx context.Context, emit func(K) bool) error {
		for item := range seq {
			if !emit(item) {
				return nil
			}
		}
		return nil
	})
}

// FromChannel returns a Source reading items until ch is closed. It stops with
// ctx.Err() if ctx ends before the channel is closed.
func FromChannel[K comparable](ch <-chan K) Source[K] {
	return SourceFunc[K](func(ctx context.Context, emit func(K) bool) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case item, ok := <-ch:
				if !ok {
					return nil
				}
				if !emit(item) {
					return nil
				}
			}
		}
	})
}

// Range returns a Source producing the integers in [from, to).
func Range(from, to int) Source[int] {
	return SourceFunc[int](func(ctx context.Context, emit func(int) bool) error {
		for i := from; i < to; i++ {
			if !emit(i) {
				return nil
			}
		}
		return nil
	})
}
