package core

import (
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Cancellation
// --------------------------------------------------------------------------

// Cancellation is a reusable component for signaling cooperative abort.
// Cancelling is effectively idempotent; the flag is observable by any number
// of cooperating tasks.
//
// Thread-safety: all methods are safe for concurrent use.
type Cancellation struct {
	flag atomic.Bool
}

// Cancel raises the flag.
func (c *Cancellation) Cancel() {
	c.flag.Store(true)
}

// IsCancelled reports whether the flag was raised.
func (c *Cancellation) IsCancelled() bool {
	return c.flag.Load()
}

// --------------------------------------------------------------------------
// First-Value Aggregator
// --------------------------------------------------------------------------

// AggregateValue stores the first value written to it that differs from T's
// zero value. Later writes are dropped; the latched value is readable any
// number of times.
//
// Thread-safety: all methods are safe for concurrent use. The internal lock
// is held only for the duration of a single read or write.
type AggregateValue[T comparable] struct {
	mu      sync.Mutex
	current T
}

// Set records v if no non-zero value was latched yet. It returns whether v
// itself is non-zero, regardless of whether it was latched.
func (a *AggregateValue[T]) Set(v T) bool {
	var zero T
	a.mu.Lock()
	if a.current == zero && v != zero {
		a.current = v
	}
	a.mu.Unlock()
	return v != zero
}

// Get returns the latched value, or T's zero value if none was latched.
func (a *AggregateValue[T]) Get() T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// HasValue reports whether a non-zero value was latched.
func (a *AggregateValue[T]) HasValue() bool {
	var zero T
	return a.Get() != zero
}

// AggregateError latches the first GenericError reported by a group of tasks.
type AggregateError = AggregateValue[GenericError]

// AggregateStatus latches the first non-OK operation status. StatusOK is the
// zero value, so successful operations never displace a failure.
type AggregateStatus = AggregateValue[OpStatus]
