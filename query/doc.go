// Package query provides a generic, keyed fetch cache with request
// deduplication, bounded retries with backoff, and staleness tracking
// (stale-while-revalidate).
//
// Design
//
//   - Registry: entries live in a sharded map (one RWMutex per shard, shard
//     count a power of two). An entry is created in Idle on first access and
//     removed only by Evict or Close.
//
//   - Entry: every key has its own mutex and a small state machine
//     (Idle → Loading → Success | Error). At most one fetch cycle runs per key;
//     requests arriving while Loading attach to it and share its outcome.
//
//   - Retries: a cycle calls the Fetcher up to RetryLimit+1 times, waiting
//     Backoff.Delay(0), Delay(1), ... between attempts (avast/retry-go drives the
//     loop). Each failure that will be retried is published as a Loading
//     state with a higher RetryCount; only exhaustion surfaces Error.
//
//   - Staleness: Success data is fresh for StaleAfter. Fresh data is served
//     without I/O; stale data is served immediately while a background cycle
//     refreshes it. Invalidate forces staleness without dropping data.
//
//   - Eviction: Evict cancels the running cycle's context, releases its
//     waiters with ErrEvicted and bumps the entry generation, so a late
//     result can never land in a recreated entry.
//
//   - Subscriptions: observers get the current state, then every transition
//     of the key in order, delivered from a per-subscription goroutine.
//
//   - Metrics: Options.Metrics receives Hit/StaleHit/Dedup/Fetch/Retry/Outcome
//     signals; see package metrics/prom for a Prometheus adapter.
//
// Basic usage
//
//	c := query.New[string, []User](query.Options[string, []User]{
//	    Fetcher: func(ctx context.Context, k string) ([]User, error) {
//	        return api.Users(ctx)
//	    },
//	})
//	defer c.Close()
//
//	res, err := c.Fetch(ctx, "users")
//	if err != nil {
//	    // errors.Is(err, query.ErrRetryExhausted) after all retries failed
//	}
//	_ = res.Value // res.Stale is set when a background refresh is running
//
// Watching a key
//
//	sub, _ := c.Subscribe(ctx, "users", func(ev query.Event[string, []User]) {
//	    render(ev.State) // Status, Data, Err, RetryCount, Fetching ...
//	})
//	defer sub.Unsubscribe()
//
// Deterministic tests
//
// Inject Options.Clock to control staleness, Options.Timer (or a zero
// backoff.Policy) to skip real waits between retries.
package query
