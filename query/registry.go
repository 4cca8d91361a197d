package query

import (
	"hash/maphash"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/querycache/internal/util"
)

// registry owns the key→entry mapping. It is split into shards, each with its
// own lock, so lookups for different keys rarely contend. Entry state is never
// touched under a shard lock: callers take the entry's own mutex afterwards.
type registry[K comparable, V any] struct {
	shards []*shard[K, V]
	seed   maphash.Seed
	size   atomic.Int64
	closed atomic.Bool
}

type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]*entry[K, V]
}

func newRegistry[K comparable, V any](shards int) *registry[K, V] {
	n := util.ShardCount(shards)
	r := &registry[K, V]{
		shards: make([]*shard[K, V], n),
		seed:   maphash.MakeSeed(),
	}
	for i := range r.shards {
		r.shards[i] = &shard[K, V]{m: make(map[K]*entry[K, V])}
	}
	return r
}

func (r *registry[K, V]) shardFor(k K) *shard[K, V] {
	return r.shards[util.ShardIndex(util.Hash(r.seed, k), len(r.shards))]
}

// getOrCreate returns the entry for k, creating it with mk on first access.
// created reports whether this call inserted it. After drain it returns nil.
func (r *registry[K, V]) getOrCreate(k K, mk func() *entry[K, V]) (e *entry[K, V], created bool) {
	s := r.shardFor(k)

	s.mu.RLock()
	e = s.m[k]
	s.mu.RUnlock()
	if e != nil {
		return e, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.closed.Load() {
		return nil, false
	}
	if e = s.m[k]; e != nil {
		return e, false
	}
	e = mk()
	s.m[k] = e
	r.size.Add(1)
	return e, true
}

// lookup never creates.
func (r *registry[K, V]) lookup(k K) *entry[K, V] {
	s := r.shardFor(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[k]
}

// remove detaches k from the map and returns the entry it held, if any.
// Tearing the entry down is the caller's job.
func (r *registry[K, V]) remove(k K) *entry[K, V] {
	s := r.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[k]
	if !ok {
		return nil
	}
	delete(s.m, k)
	r.size.Add(-1)
	return e
}

// drain closes the registry and removes every entry.
func (r *registry[K, V]) drain() []*entry[K, V] {
	r.closed.Store(true)
	var out []*entry[K, V]
	for _, s := range r.shards {
		s.mu.Lock()
		for _, e := range s.m {
			out = append(out, e)
		}
		r.size.Add(-int64(len(s.m)))
		s.m = make(map[K]*entry[K, V])
		s.mu.Unlock()
	}
	return out
}

func (r *registry[K, V]) len() int { return int(r.size.Load()) }

// snapshot copies the current key→entry pairs shard by shard.
func (r *registry[K, V]) snapshot() map[K]*entry[K, V] {
	out := make(map[K]*entry[K, V], r.len())
	for _, s := range r.shards {
		s.mu.RLock()
		for k, e := range s.m {
			out[k] = e
		}
		s.mu.RUnlock()
	}
	return out
}
