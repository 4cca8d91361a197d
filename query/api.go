package query

import "context"

// Client is a keyed fetch cache: it deduplicates concurrent fetches for a
// key, retries failures with backoff and serves cached data while it is fresh.
// All methods are safe for concurrent use by multiple goroutines, and
// operations on different keys never wait for each other.
type Client[K comparable, V any] interface {
	// Fetch returns fresh cached data without network activity, attaches to
	// the running cycle if the key is Loading, or starts a cycle and waits.
	// For stale data it returns immediately with Result.Stale set and refreshes
	// in the background. Cancelling ctx only stops this caller's wait.
	Fetch(ctx context.Context, k K, opts ...FetchOption) (Result[V], error)

	// Refetch starts a new cycle regardless of freshness (attaching to the
	// running one if the key is already Loading) and waits for it.
	// After a terminal Error this is the manual retry: the retry count starts over.
	Refetch(ctx context.Context, k K, opts ...FetchOption) (Result[V], error)

	// Prefetch behaves like Fetch but never waits.
	Prefetch(k K, opts ...FetchOption) error

	// Subscribe registers obs for k. The observer first receives the current
	// state, then every later transition in order, until Unsubscribe, ctx
	// cancellation or eviction (which delivers a final Evicted event).
	Subscribe(ctx context.Context, k K, obs Observer[K, V]) (*Subscription[K, V], error)

	// State returns a snapshot of k without fetching.
	State(k K) (State[V], bool)

	// SetData stores v as the latest successful value for k.
	SetData(k K, v V) error

	// Invalidate marks k stale without dropping data or cancelling a running
	// cycle. Reports whether k was present.
	Invalidate(k K) bool

	// InvalidateMatching invalidates every key accepted by match and returns the count.
	InvalidateMatching(match func(K) bool) int

	// Evict removes k. A running cycle is cancelled and its result discarded;
	// the next access recreates the key from Idle.
	Evict(k K) bool

	// Len returns the number of keys.
	Len() int

	// Keys returns the current keys in no particular order.
	Keys() []K

	// Close cancels running cycles, evicts every key and rejects later calls.
	Close() error
}
