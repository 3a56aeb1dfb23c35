package pool

import (
	"context"
	"errors"
	"fmt"
)

// Namespace prefixes every sentinel error message.
const Namespace = "fetchpool"

// Run-level errors.
var (
	ErrQueueClosedPrematurely = errors.New(Namespace + ": task source failed before the queue was fully populated")
	ErrDuplicateResult        = errors.New(Namespace + ": result recorded twice for the same item")
	ErrCancelled              = errors.New(Namespace + ": run cancelled before the queue drained")
	ErrInvalidConfig          = errors.New(Namespace + ": invalid configuration")
	ErrQueueClosed            = errors.New(Namespace + ": queue is closed")
)

// Per-item fetch error kinds. They are recorded in the item's Result and never
// abort the run.
var (
	ErrFetchTimeout     = errors.New(Namespace + ": fetch timed out")
	ErrFetchTransport   = errors.New(Namespace + ": fetch transport error")
	ErrFetchBadResponse = errors.New(Namespace + ": fetch returned a bad response")
	ErrFetchPanic       = errors.New(Namespace + ": fetch panicked")
)

// FetchError is the typed failure recorded for an item whose fetch did not succeed.
// errors.Is matches both Kind and the underlying cause.
type FetchError struct {
	Item     any
	Kind     error
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err == nil || e.Err == e.Kind {
		return fmt.Sprintf("item %v: %v", e.Item, e.Kind)
	}
	return fmt.Sprintf("item %v: %v: %v", e.Item, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func (e *FetchError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = fmt.Fprintf(s, "item(%v, attempts=%d): %v: %+v", e.Item, e.Attempts, e.Kind, e.Err)
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// BadResponse tags err as ErrFetchBadResponse. Clients use it for non-success
// statuses and unparsable payloads.
func BadResponse(err error) error {
	return tag(ErrFetchBadResponse, err)
}

// Transport tags err as ErrFetchTransport.
func Transport(err error) error {
	return tag(ErrFetchTransport, err)
}

func tag(kind, err error) error {
	if err == nil {
		return kind
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// classify picks the error kind for a failed attempt. Kinds already present
// in err win; an expired per-attempt deadline is a timeout; the rest is
// treated as a transport failure.
func classify(err error) error {
	for _, kind := range []error{ErrFetchBadResponse, ErrFetchTimeout, ErrFetchTransport, ErrFetchPanic} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrFetchTimeout
	}
	return ErrFetchTransport
}
