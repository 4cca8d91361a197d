package query

import (
	"context"
	"log/slog"
	"time"

	retry "github.com/avast/retry-go/v5"

	"github.com/IvanBrykalov/querycache/internal/singleflight"
)

// run executes one fetch cycle for e in its own goroutine.
//
// retry-go drives the attempts: Attempts(limit+1) bounds them, RetryIf stops
// early once the cycle is superseded or the failure is classified permanent,
// and DelayType asks the entry's backoff policy for the wait. The attempt
// wrapper does the per-failure bookkeeping itself, so retryCount and the
// Loading notifications do not depend on retry-go's callback order.
func (c *client[K, V]) run(ctx context.Context, e *entry[K, V], gen uint64, call *singleflight.Call[Result[V]], cfg Config, fetch Fetcher[K, V]) {
	attempts := 0
	retryable := func(err error) bool {
		if ctx.Err() != nil || !e.current(gen) {
			return false
		}
		return c.opt.ShouldRetry == nil || c.opt.ShouldRetry(err)
	}

	v, err := retry.NewWithData[V](
		retry.Context(ctx),
		retry.Attempts(uint(cfg.RetryLimit)+1),
		retry.RetryIf(retryable),
		retry.DelayType(func(_ uint, _ error, _ retry.DelayContext) time.Duration {
			// attempts failures so far; the policy is indexed by the count
			// before this failure was recorded.
			return cfg.Backoff.Delay(attempts - 1)
		}),
		retry.WithTimer(c.opt.Timer),
		retry.LastErrorOnly(true),
	).Do(func() (V, error) {
		attempts++
		c.opt.Metrics.Fetch()
		v, err := fetch(ctx, e.key)
		if err != nil && attempts <= cfg.RetryLimit && retryable(err) {
			if e.recordFailure(gen, c.now()) {
				c.opt.Metrics.Retry()
				c.log.Debug("query: fetch attempt failed, retrying",
					slog.Any("key", e.key),
					slog.Int("attempt", attempts),
					slog.Duration("backoff", cfg.Backoff.Delay(attempts-1)),
					slog.Any("error", err))
			}
		}
		return v, err
	})

	c.complete(e, gen, call, cfg, v, err, attempts)
}

// complete publishes the cycle outcome to the entry, its subscribers and
// every attached requester. Results of superseded cycles are dropped.
func (c *client[K, V]) complete(e *entry[K, V], gen uint64, call *singleflight.Call[Result[V]], cfg Config, v V, err error, attempts int) {
	now := c.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted || e.gen != gen {
		// Waiters were released with ErrEvicted when the entry went away.
		call.Resolve(Result[V]{}, ErrEvicted)
		c.opt.Metrics.Outcome(OutcomeDiscarded)
		c.log.Debug("query: discarded result of superseded cycle",
			slog.Any("key", e.key), slog.Uint64("generation", gen))
		return
	}

	e.endCycleLocked()
	if err == nil {
		res := e.succeedLocked(v, now)
		e.notifyLocked(now)
		call.Resolve(res, nil)
		c.opt.Metrics.Outcome(OutcomeSuccess)
		return
	}

	ferr := &FetchError{
		Key:       e.key,
		Attempts:  attempts,
		Exhausted: attempts > cfg.RetryLimit,
		Err:       err,
	}
	res := e.failLocked(ferr)
	e.notifyLocked(now)
	call.Resolve(res, ferr)
	c.opt.Metrics.Outcome(OutcomeError)
	c.log.Warn("query: fetch failed",
		slog.Any("key", e.key),
		slog.Int("attempts", attempts),
		slog.Bool("exhausted", ferr.Exhausted),
		slog.Any("error", err))
}
