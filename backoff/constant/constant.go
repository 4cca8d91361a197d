// Package constant implements a fixed-delay backoff policy.
package constant

import (
	"time"

	"github.com/IvanBrykalov/querycache/backoff"
)

type policy struct{ d time.Duration }

// New returns a policy that waits d before every retry (negative d => 0).
func New(d time.Duration) backoff.Policy {
	if d < 0 {
		d = 0
	}
	return policy{d: d}
}

// Delay ignores the attempt and returns the configured delay.
func (p policy) Delay(int) time.Duration { return p.d }
