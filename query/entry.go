package query

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/IvanBrykalov/querycache/internal/singleflight"
)

// entry is the state machine for one key. All fields are guarded by mu;
// methods with the Locked suffix expect mu to be held.
//
// Transitions:
//
//	Idle ──fetch──▶ Loading ──ok──▶ Success ──stale/refetch──▶ Loading
//	                   │  ▲                                      ▲
//	                   │  └─failure, retryCount < limit          │
//	                   └──failure, retryCount == limit──▶ Error ─┘
type entry[K comparable, V any] struct {
	mu  sync.Mutex
	key K

	cfg     Config
	fetcher Fetcher[K, V]

	status      Status
	data        V
	hasData     bool
	err         error
	fetchedAt   int64 // UnixNano of the last success; meaningful only with hasData
	invalidated bool
	retryCount  int

	// gen identifies the current cycle; bumped on every cycle start and on
	// eviction so results of superseded cycles can be recognised.
	gen    uint64
	flight *singleflight.Call[Result[V]]
	cancel context.CancelFunc

	subs    []*Subscription[K, V]
	evicted bool
}

func newEntry[K comparable, V any](k K, cfg Config) *entry[K, V] {
	return &entry[K, V]{key: k, cfg: cfg.normalize()}
}

// applyLocked merges per-call options into the entry's policy.
func (e *entry[K, V]) applyLocked(opts []FetchOption) error {
	if len(opts) == 0 {
		return nil
	}
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.fetcher != nil {
		f, ok := o.fetcher.(Fetcher[K, V])
		if !ok {
			return ErrFetcherType
		}
		e.fetcher = f
	}
	if o.staleAfter != nil {
		e.cfg.StaleAfter = *o.staleAfter
	}
	if o.retryLimit != nil {
		e.cfg.RetryLimit = *o.retryLimit
	}
	if o.backoff != nil {
		e.cfg.Backoff = o.backoff
	}
	e.cfg = e.cfg.normalize()
	return nil
}

// dataFreshLocked ignores status: it only asks whether the data is young enough.
func (e *entry[K, V]) dataFreshLocked(now int64) bool {
	if !e.hasData || e.invalidated {
		return false
	}
	if e.cfg.StaleAfter < 0 {
		return true
	}
	return now-e.fetchedAt < int64(e.cfg.StaleAfter)
}

// freshLocked reports whether a non-forced fetch may be served from cache.
func (e *entry[K, V]) freshLocked(now int64) bool {
	return e.status == StatusSuccess && e.dataFreshLocked(now)
}

func (e *entry[K, V]) snapshotLocked(now int64) State[V] {
	return State[V]{
		Status:      e.status,
		Data:        e.data,
		HasData:     e.hasData,
		Err:         e.err,
		FetchedAt:   e.fetchedTimeLocked(),
		StaleAfter:  e.cfg.StaleAfter,
		Stale:       e.hasData && (e.status == StatusError || !e.dataFreshLocked(now)),
		Invalidated: e.invalidated,
		RetryCount:  e.retryCount,
		Fetching:    e.flight != nil,
		Generation:  e.gen,
	}
}

func (e *entry[K, V]) cachedLocked(stale bool) Result[V] {
	return Result[V]{Value: e.data, Stale: stale, FetchedAt: e.fetchedTimeLocked()}
}

// fetchedTimeLocked is zero until data exists; a Clock reading 0 is a valid time.
func (e *entry[K, V]) fetchedTimeLocked() time.Time {
	if !e.hasData {
		return time.Time{}
	}
	return time.Unix(0, e.fetchedAt)
}

// notifyLocked queues the current state for every subscriber. Queuing under
// mu is what keeps per-key delivery in transition order.
func (e *entry[K, V]) notifyLocked(now int64) {
	if len(e.subs) == 0 {
		return
	}
	ev := Event[K, V]{Key: e.key, State: e.snapshotLocked(now)}
	for _, s := range e.subs {
		s.push(ev)
	}
}

// beginLocked enters Loading for a new cycle. The previous cycle's error and
// retry count never carry over.
func (e *entry[K, V]) beginLocked(cancel context.CancelFunc, now int64) (*singleflight.Call[Result[V]], uint64) {
	e.gen++
	e.status = StatusLoading
	e.err = nil
	e.retryCount = 0
	e.flight = singleflight.New[Result[V]]()
	e.cancel = cancel
	e.notifyLocked(now)
	return e.flight, e.gen
}

// current reports whether gen is still the live cycle of a registered entry.
func (e *entry[K, V]) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.evicted && e.gen == gen
}

// recordFailure counts a retryable failure of cycle gen. It returns false
// when the cycle has been superseded.
func (e *entry[K, V]) recordFailure(gen uint64, now int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted || e.gen != gen {
		return false
	}
	e.retryCount++
	e.notifyLocked(now)
	return true
}

func (e *entry[K, V]) endCycleLocked() {
	e.flight = nil
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *entry[K, V]) succeedLocked(v V, now int64) Result[V] {
	e.status = StatusSuccess
	e.data, e.hasData = v, true
	e.err = nil
	e.fetchedAt = now
	e.invalidated = false
	e.retryCount = 0
	return e.cachedLocked(false)
}

func (e *entry[K, V]) failLocked(err error) Result[V] {
	e.status = StatusError
	e.err = err
	return e.cachedLocked(e.hasData)
}

// setDataLocked writes v as if a fetch had succeeded. A running cycle keeps
// going and its result will replace v.
func (e *entry[K, V]) setDataLocked(v V, now int64) {
	e.data, e.hasData = v, true
	e.fetchedAt = now
	e.invalidated = false
	if e.flight == nil {
		e.status = StatusSuccess
		e.err = nil
		e.retryCount = 0
	}
	e.notifyLocked(now)
}

// evictLocked tears the entry down: the live cycle is cancelled and its
// waiters released, subscribers get a final event and their delivery ends.
func (e *entry[K, V]) evictLocked(now int64) {
	if e.evicted {
		return
	}
	e.evicted = true
	e.gen++
	if e.flight != nil {
		e.flight.Resolve(Result[V]{}, ErrEvicted)
	}
	e.endCycleLocked()

	ev := Event[K, V]{Key: e.key, State: e.snapshotLocked(now), Evicted: true}
	for _, s := range e.subs {
		s.push(ev)
		s.unwatch()
		s.end(false)
	}
	e.subs = nil
}

func (e *entry[K, V]) addSubLocked(s *Subscription[K, V], now int64) {
	e.subs = append(e.subs, s)
	s.push(Event[K, V]{Key: e.key, State: e.snapshotLocked(now)})
}

func (e *entry[K, V]) removeSub(s *Subscription[K, V]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = slices.DeleteFunc(e.subs, func(x *Subscription[K, V]) bool { return x == s })
}

func (e *entry[K, V]) age(now int64) time.Duration {
	if !e.hasData {
		return 0
	}
	return time.Duration(now - e.fetchedAt)
}
