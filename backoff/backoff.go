// Package backoff defines the retry delay contract used by the query client.
//
// A Policy maps a 0-based retry attempt to the wait before the next Fetcher
// invocation. Policies are pure: the same attempt always yields the same
// delay, and implementations hold no per-key state, so a single value can be
// shared by every entry of a client.
package backoff

import "time"

// Policy computes the wait before a retry.
//
// attempt is the number of failures already recorded in the current fetch
// cycle before this one is counted (0 for the first retry). Implementations
// must be safe for concurrent use and should be non-decreasing in attempt so
// retries never speed up.
type Policy interface {
	Delay(attempt int) time.Duration
}

// Func adapts an ordinary function to a Policy.
type Func func(attempt int) time.Duration

// Delay calls f(attempt).
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// None retries immediately. Useful in tests that must not sleep.
type None struct{}

// Delay always returns 0.
func (None) Delay(int) time.Duration { return 0 }

// Compile-time checks.
var (
	_ Policy = Func(nil)
	_ Policy = None{}
)
