package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/IvanBrykalov/querycache/backoff"
	"github.com/IvanBrykalov/querycache/backoff/exponential"
)

// Fetcher performs the real I/O for a key. It must be safe to call again
// after a failure and should honour ctx, which is cancelled when the entry is
// evicted or the client is closed.
type Fetcher[K comparable, V any] func(ctx context.Context, k K) (V, error)

// Never disables age-based staleness (invalidation still applies).
const Never time.Duration = -1

// Defaults used by DefaultConfig.
const (
	DefaultStaleAfter = 60 * time.Second
	DefaultRetryLimit = 3
)

// Config is the per-key fetch policy.
type Config struct {
	// StaleAfter is the freshness window measured from the last success.
	// 0 means "stale immediately"; Never means "never stale by age".
	StaleAfter time.Duration
	// RetryLimit is the number of retries after the first failed attempt.
	RetryLimit int
	// Backoff computes the wait before each retry; nil => exponential.Default().
	Backoff backoff.Policy
}

// DefaultConfig returns 60s freshness, 3 retries and 1s..30s exponential backoff.
func DefaultConfig() Config {
	return Config{
		StaleAfter: DefaultStaleAfter,
		RetryLimit: DefaultRetryLimit,
		Backoff:    exponential.Default(),
	}
}

func (c Config) normalize() Config {
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.StaleAfter < 0 {
		c.StaleAfter = Never
	}
	if c.Backoff == nil {
		c.Backoff = exponential.Default()
	}
	return c
}

// Outcome classifies how a fetch cycle ended.
type Outcome int

const (
	// OutcomeSuccess: the Fetcher returned a value.
	OutcomeSuccess Outcome = iota
	// OutcomeError: the cycle ended in the terminal Error state.
	OutcomeError
	// OutcomeDiscarded: the entry was evicted before the cycle finished.
	OutcomeDiscarded
)

// Metrics exposes client-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	// Hit: fresh cached data served without network activity.
	Hit()
	// StaleHit: stale data served while a background refresh runs.
	StaleHit()
	// Dedup: a request attached to an already running cycle.
	Dedup()
	// Fetch: one Fetcher invocation (every attempt counts).
	Fetch()
	// Retry: a failed attempt that will be retried.
	Retry()
	// Outcome: a cycle finished.
	Outcome(o Outcome)
	// Entries: current number of registry entries.
	Entries(n int)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Timer schedules the waits between retries. It has the same method set as
// retry-go's Timer, so tests can observe or skip backoff delays.
type Timer interface {
	After(time.Duration) <-chan time.Time
}

// Options configures the client. Zero values are safe; defaults are applied
// in New():
//   - nil Defaults => DefaultConfig()
//   - Shards <= 0  => auto (rounded up to power of two)
//   - nil Metrics  => NoopMetrics
//   - nil Clock    => time.Now()
//   - nil Timer    => time.After
//   - nil Logger   => discard
type Options[K comparable, V any] struct {
	// Fetcher is used for every key unless a call supplies WithFetcher.
	Fetcher Fetcher[K, V]

	// Defaults is the policy for keys without an override.
	Defaults *Config
	// PerKey returns an override for k, consulted once when the entry is created.
	PerKey func(k K) (Config, bool)

	// ShouldRetry classifies failures; false ends the cycle early.
	// nil treats every failure as retryable.
	ShouldRetry func(err error) bool

	// Shards defines the number of registry shards.
	Shards int

	Metrics Metrics
	Clock   Clock
	Timer   Timer
	Logger  *slog.Logger
}

// FetchOption adjusts the entry's policy. Options persist on the entry:
// the latest call that sets a field wins for later calls too.
type FetchOption func(*callOptions)

type callOptions struct {
	staleAfter *time.Duration
	retryLimit *int
	backoff    backoff.Policy
	fetcher    any
}

// WithStaleAfter sets the freshness window for the key.
func WithStaleAfter(d time.Duration) FetchOption {
	return func(o *callOptions) { o.staleAfter = &d }
}

// WithRetryLimit sets the number of retries for the key (negative => 0).
func WithRetryLimit(n int) FetchOption {
	return func(o *callOptions) { o.retryLimit = &n }
}

// WithBackoff sets the retry delay policy for the key.
func WithBackoff(p backoff.Policy) FetchOption {
	return func(o *callOptions) { o.backoff = p }
}

// WithFetcher sets the Fetcher for the key. Its type must match the client's
// K and V, otherwise the call fails with ErrFetcherType.
func WithFetcher[K comparable, V any](f Fetcher[K, V]) FetchOption {
	return func(o *callOptions) { o.fetcher = f }
}

type realTimer struct{}

func (realTimer) After(d time.Duration) <-chan time.Time { return time.After(d) }
