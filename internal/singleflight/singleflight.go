// Package singleflight provides the shared in-flight operation handle used to
// collapse concurrent fetches for one key into a single execution.
package singleflight

import (
	"context"
	"sync"
)

// Call is one in-flight operation whose outcome is shared by every waiter.
//
// Concurrency notes:
//   - The owner starts the work and eventually calls Resolve exactly once
//     with the outcome; later Resolve calls are ignored, so an early resolution
//     (e.g. the owning entry was evicted) cannot be overwritten by the
//     operation's late result.
//   - Publishing (val, err) happens-before close(done), so Wait observes the
//     final values.
//   - A waiter whose ctx is cancelled stops waiting; the operation itself is
//     not affected.
type Call[V any] struct {
	done    chan struct{}
	once    sync.Once
	val     V
	err     error
	attached int // guarded by the owner's lock
}

// New returns an unresolved call.
func New[V any]() *Call[V] {
	return &Call[V]{done: make(chan struct{})}
}

// Resolve publishes the outcome and wakes all waiters.
// It reports whether this invocation was the one that resolved the call.
func (c *Call[V]) Resolve(v V, err error) bool {
	resolved := false
	c.once.Do(func() {
		c.val, c.err = v, err
		close(c.done)
		resolved = true
	})
	return resolved
}

// Wait blocks until the call is resolved or ctx is done.
func (c *Call[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Attach records one more request joining the call and returns how many have
// joined so far. The caller must serialize Attach with its own lock.
func (c *Call[V]) Attach() int {
	c.attached++
	return c.attached
}
