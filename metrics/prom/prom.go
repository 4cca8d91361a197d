package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/querycache/query"
)

// Adapter implements query.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits      prometheus.Counter
	staleHits prometheus.Counter
	dedups    prometheus.Counter
	fetches   prometheus.Counter
	retries   prometheus.Counter
	outcomes  *prometheus.CounterVec
	entries   prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}
	a := &Adapter{
		hits:      counter("hits_total", "Fetches served from fresh cached data"),
		staleHits: counter("stale_hits_total", "Fetches served from stale data while revalidating"),
		dedups:    counter("dedup_total", "Fetches attached to an already running cycle"),
		fetches:   counter("fetcher_calls_total", "Fetcher invocations, one per attempt"),
		retries:   counter("retries_total", "Failed attempts that were retried"),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "cycles_total",
				Help:        "Finished fetch cycles by outcome",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "entries",
			Help:        "Number of registered keys",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.staleHits, a.dedups, a.fetches, a.retries, a.outcomes, a.entries)
	return a
}

// Hit increments the fresh hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// StaleHit increments the stale-while-revalidate counter.
func (a *Adapter) StaleHit() { a.staleHits.Inc() }

// Dedup increments the deduplicated request counter.
func (a *Adapter) Dedup() { a.dedups.Inc() }

// Fetch increments the Fetcher invocation counter.
func (a *Adapter) Fetch() { a.fetches.Inc() }

// Retry increments the retry counter.
func (a *Adapter) Retry() { a.retries.Inc() }

// Outcome increments the cycle counter with an outcome label.
func (a *Adapter) Outcome(o query.Outcome) {
	a.outcomes.WithLabelValues(outcome(o)).Inc()
}

// Entries updates the gauge for the number of registered keys.
func (a *Adapter) Entries(n int) { a.entries.Set(float64(n)) }

// outcome maps Outcome to a stable label value.
func outcome(o query.Outcome) string {
	switch o {
	case query.OutcomeSuccess:
		return "success"
	case query.OutcomeError:
		return "error"
	default:
		return "discarded"
	}
}

// Compile-time check: ensure Adapter implements query.Metrics.
var _ query.Metrics = (*Adapter)(nil)
