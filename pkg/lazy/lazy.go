// Package lazy defers construction of expensive values until first use.
package lazy

import "sync"

// New returns an accessor that calls ctor on first access and returns the
// same value on every later call. Zero values are memoized like any other.
// If ctor panics, nothing is memoized and the next access tries again.
func New[T any](ctor func() T) func() T {
	var (
		mu          sync.Mutex
		initialized bool
		value       T
	)
	return func() T {
		mu.Lock()
		defer mu.Unlock()
		if !initialized {
			value = ctor()
			initialized = true
		}
		return value
	}
}
