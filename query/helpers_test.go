package query

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"
)

type fakeClock struct{ t atomic.Int64 }

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.t.Store(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (f *fakeClock) NowUnixNano() int64  { return f.t.Load() }
func (f *fakeClock) add(d time.Duration) { f.t.Add(int64(d)) }

// recordingTimer fires immediately and remembers every requested wait.
type recordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingTimer) After(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (r *recordingTimer) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// recorder collects observer events.
type recorder[K comparable, V any] struct {
	mu     sync.Mutex
	events []Event[K, V]
}

func (r *recorder[K, V]) observe(ev Event[K, V]) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder[K, V]) snapshot() []Event[K, V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event[K, V](nil), r.events...)
}

func (r *recorder[K, V]) statuses() []Status {
	evs := r.snapshot()
	out := make([]Status, len(evs))
	for i, ev := range evs {
		out[i] = ev.State.Status
	}
	return out
}

func (r *recorder[K, V]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// countingMetrics counts every hook invocation.
type countingMetrics struct {
	hits, staleHits, dedups, fetches, retries atomic.Int64
	outcomes                                  [3]atomic.Int64
	entries                                   atomic.Int64
}

func (m *countingMetrics) Hit()              { m.hits.Add(1) }
func (m *countingMetrics) StaleHit()         { m.staleHits.Add(1) }
func (m *countingMetrics) Dedup()            { m.dedups.Add(1) }
func (m *countingMetrics) Fetch()            { m.fetches.Add(1) }
func (m *countingMetrics) Retry()            { m.retries.Add(1) }
func (m *countingMetrics) Outcome(o Outcome) { m.outcomes[o].Add(1) }
func (m *countingMetrics) Entries(n int)     { m.entries.Store(int64(n)) }

var _ Metrics = (*countingMetrics)(nil)

// syncBuffer is a bytes.Buffer safe for a logger and a reader at once.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
