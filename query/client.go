package query

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/querycache/internal/singleflight"
)

// client implements Client on top of a sharded registry of entries.
type client[K comparable, V any] struct {
	reg      *registry[K, V]
	opt      Options[K, V]
	defaults Config
	log      *slog.Logger

	// base is the parent of every cycle context; cancelled by Close.
	base   context.Context
	stop   context.CancelFunc
	closed atomic.Bool
}

// New constructs a client with the provided Options.
// Defaults:
//   - nil Defaults -> DefaultConfig()
//   - nil Metrics  -> NoopMetrics
//   - nil Clock    -> time.Now
//   - nil Timer    -> time.After
//   - nil Logger   -> discard
//   - Shards <= 0  -> auto, rounded up to the next power of two
func New[K comparable, V any](opt Options[K, V]) Client[K, V] {
	defaults := DefaultConfig()
	if opt.Defaults != nil {
		defaults = opt.Defaults.normalize()
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Timer == nil {
		opt.Timer = realTimer{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}

	base, stop := context.WithCancel(context.Background())
	return &client[K, V]{
		reg:      newRegistry[K, V](opt.Shards),
		opt:      opt,
		defaults: defaults,
		log:      opt.Logger,
		base:     base,
		stop:     stop,
	}
}

// ---- Client[K,V] implementation ----

func (c *client[K, V]) Fetch(ctx context.Context, k K, opts ...FetchOption) (Result[V], error) {
	return c.fetch(ctx, k, false, opts)
}

func (c *client[K, V]) Refetch(ctx context.Context, k K, opts ...FetchOption) (Result[V], error) {
	return c.fetch(ctx, k, true, opts)
}

func (c *client[K, V]) Prefetch(k K, opts ...FetchOption) error {
	_, _, err := c.acquire(k, false, opts)
	return err
}

func (c *client[K, V]) fetch(ctx context.Context, k K, force bool, opts []FetchOption) (Result[V], error) {
	call, res, err := c.acquire(k, force, opts)
	if err != nil || call == nil {
		return res, err
	}
	return call.Wait(ctx)
}

// acquire applies the transition rules for a fetch request. It returns either
// a call to wait on, or an immediate result (call == nil).
func (c *client[K, V]) acquire(k K, force bool, opts []FetchOption) (*singleflight.Call[Result[V]], Result[V], error) {
	for {
		e, err := c.entry(k)
		if err != nil {
			return nil, Result[V]{}, err
		}

		e.mu.Lock()
		if e.evicted {
			// Lost a race with Evict; the registry holds a new entry (or none).
			e.mu.Unlock()
			continue
		}
		if err := e.applyLocked(opts); err != nil {
			e.mu.Unlock()
			return nil, Result[V]{}, err
		}
		now := c.now()

		switch {
		case e.status == StatusLoading:
			attached := e.flight.Attach()
			call, gen := e.flight, e.gen
			e.mu.Unlock()
			c.opt.Metrics.Dedup()
			c.log.Debug("query: joined running fetch",
				slog.Any("key", k), slog.Uint64("generation", gen), slog.Int("attached", attached))
			return call, Result[V]{}, nil

		case !force && e.freshLocked(now):
			res := e.cachedLocked(false)
			e.mu.Unlock()
			c.opt.Metrics.Hit()
			return nil, res, nil

		case !force && e.status == StatusSuccess:
			res := e.cachedLocked(true)
			age := e.age(now)
			_, err := c.startLocked(e, now)
			e.mu.Unlock()
			if err != nil {
				return nil, res, err
			}
			c.opt.Metrics.StaleHit()
			c.log.Debug("query: serving stale data, revalidating",
				slog.Any("key", k), slog.Duration("age", age))
			return nil, res, nil

		default:
			call, err := c.startLocked(e, now)
			e.mu.Unlock()
			return call, Result[V]{}, err
		}
	}
}

// startLocked begins a cycle on e (e.mu held) and launches its runner.
func (c *client[K, V]) startLocked(e *entry[K, V], now int64) (*singleflight.Call[Result[V]], error) {
	fetch := e.fetcher
	if fetch == nil {
		fetch = c.opt.Fetcher
	}
	if fetch == nil {
		return nil, ErrNoFetcher
	}

	ctx, cancel := context.WithCancel(c.base)
	call, gen := e.beginLocked(cancel, now)
	c.log.Debug("query: fetch cycle started",
		slog.Any("key", e.key), slog.Uint64("generation", gen))
	go c.run(ctx, e, gen, call, e.cfg, fetch)
	return call, nil
}

func (c *client[K, V]) Subscribe(ctx context.Context, k K, obs Observer[K, V]) (*Subscription[K, V], error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	for {
		e, err := c.entry(k)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		s := newSubscription(k, obs)
		s.detach = func() { e.removeSub(s) }
		if ctx.Done() != nil {
			s.watch(context.AfterFunc(ctx, s.unsubscribe))
		}
		e.addSubLocked(s, c.now())
		e.mu.Unlock()
		return s, nil
	}
}

func (c *client[K, V]) State(k K) (State[V], bool) {
	if c.closed.Load() {
		return State[V]{}, false
	}
	e := c.reg.lookup(k)
	if e == nil {
		return State[V]{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return State[V]{}, false
	}
	return e.snapshotLocked(c.now()), true
}

func (c *client[K, V]) SetData(k K, v V) error {
	for {
		e, err := c.entry(k)
		if err != nil {
			return err
		}
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		e.setDataLocked(v, c.now())
		e.mu.Unlock()
		return nil
	}
}

func (c *client[K, V]) Invalidate(k K) bool {
	if c.closed.Load() {
		return false
	}
	e := c.reg.lookup(k)
	if e == nil {
		return false
	}
	return c.invalidate(e)
}

func (c *client[K, V]) InvalidateMatching(match func(K) bool) int {
	if c.closed.Load() || match == nil {
		return 0
	}
	n := 0
	for k, e := range c.reg.snapshot() {
		if match(k) && c.invalidate(e) {
			n++
		}
	}
	return n
}

func (c *client[K, V]) invalidate(e *entry[K, V]) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return false
	}
	e.invalidated = true
	return true
}

func (c *client[K, V]) Evict(k K) bool {
	if c.closed.Load() {
		return false
	}
	e := c.reg.remove(k)
	if e == nil {
		return false
	}
	e.mu.Lock()
	e.evictLocked(c.now())
	e.mu.Unlock()
	c.opt.Metrics.Entries(c.reg.len())
	c.log.Debug("query: entry evicted", slog.Any("key", k))
	return true
}

func (c *client[K, V]) Len() int { return c.reg.len() }

func (c *client[K, V]) Keys() []K {
	snap := c.reg.snapshot()
	keys := make([]K, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	return keys
}

// Close cancels every running cycle and evicts all entries. Fetchers that
// ignore their context may still be running when Close returns; their
// results are discarded.
func (c *client[K, V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	now := c.now()
	entries := c.reg.drain()
	for _, e := range entries {
		e.mu.Lock()
		e.evictLocked(now)
		e.mu.Unlock()
	}
	// Waiters are released first so they see ErrEvicted, not a cancellation.
	c.stop()
	c.opt.Metrics.Entries(0)
	c.log.Debug("query: client closed", slog.Int("evicted", len(entries)))
	return nil
}

// ---- helpers ----

// entry returns the registry entry for k, creating it on first access.
func (c *client[K, V]) entry(k K) (*entry[K, V], error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	e, created := c.reg.getOrCreate(k, func() *entry[K, V] {
		cfg := c.defaults
		if c.opt.PerKey != nil {
			if kc, ok := c.opt.PerKey(k); ok {
				if kc.Backoff == nil {
					kc.Backoff = c.defaults.Backoff
				}
				cfg = kc
			}
		}
		return newEntry[K, V](k, cfg)
	})
	if e == nil {
		return nil, ErrClosed
	}
	if created {
		c.opt.Metrics.Entries(c.reg.len())
	}
	return e, nil
}

func (c *client[K, V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}
