// Package exponential implements capped exponential backoff.
package exponential

import (
	"time"

	"github.com/IvanBrykalov/querycache/backoff"
)

// Default values match the query client's defaults.
const (
	DefaultBase = time.Second
	DefaultMax  = 30 * time.Second
)

// policy doubles the delay on every attempt: min(base*2^attempt, max).
type policy struct {
	base time.Duration
	max  time.Duration
}

// New returns a capped exponential policy.
//   - base <= 0  -> every delay is 0
//   - max < base -> max is raised to base (the cap is never below the first delay)
func New(base, max time.Duration) backoff.Policy {
	if base < 0 {
		base = 0
	}
	if max < base {
		max = base
	}
	return policy{base: base, max: max}
}

// Default returns New(DefaultBase, DefaultMax).
func Default() backoff.Policy { return New(DefaultBase, DefaultMax) }

// Delay returns min(base*2^attempt, max). Negative attempts count as 0.
// Doubling stops as soon as the cap is reached, so large attempts cannot
// overflow time.Duration.
func (p policy) Delay(attempt int) time.Duration {
	if p.base == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	d := p.base
	for i := 0; i < attempt; i++ {
		if d >= p.max/2 {
			return p.max
		}
		d *= 2
	}
	if d > p.max {
		return p.max
	}
	return d
}
