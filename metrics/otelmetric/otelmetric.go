// Package otelmetric exports query client metrics through an OpenTelemetry
// MeterProvider.
package otelmetric

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/IvanBrykalov/querycache/query"
)

// DefaultScope is the instrumentation scope used when none is given.
const DefaultScope = "github.com/IvanBrykalov/querycache"

// Instrument names.
const (
	MetricHits    = "query.hits"
	MetricStale   = "query.stale_hits"
	MetricDedup   = "query.dedup"
	MetricFetches = "query.fetcher_calls"
	MetricRetries = "query.retries"
	MetricCycles  = "query.cycles"
	MetricEntries = "query.entries"
)

var (
	outcomeSuccess   = metric.WithAttributeSet(attribute.NewSet(attribute.String("outcome", "success")))
	outcomeError     = metric.WithAttributeSet(attribute.NewSet(attribute.String("outcome", "error")))
	outcomeDiscarded = metric.WithAttributeSet(attribute.NewSet(attribute.String("outcome", "discarded")))
)

// Adapter implements query.Metrics on OpenTelemetry instruments.
type Adapter struct {
	hits, staleHits, dedups, fetches, retries, cycles metric.Int64Counter
	entries                                           metric.Int64Gauge
}

// New creates the instruments on mp (nil => otel.GetMeterProvider()).
func New(mp metric.MeterProvider, scope string) (*Adapter, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if scope == "" {
		scope = DefaultScope
	}
	m := mp.Meter(scope)

	a := &Adapter{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&a.hits, MetricHits, "fetches served from fresh cached data"},
		{&a.staleHits, MetricStale, "fetches served from stale data while revalidating"},
		{&a.dedups, MetricDedup, "fetches attached to an already running cycle"},
		{&a.fetches, MetricFetches, "fetcher invocations, one per attempt"},
		{&a.retries, MetricRetries, "failed attempts that were retried"},
		{&a.cycles, MetricCycles, "finished fetch cycles by outcome"},
	}
	for _, c := range counters {
		ctr, err := m.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("otelmetric: create %s: %w", c.name, err)
		}
		*c.dst = ctr
	}
	g, err := m.Int64Gauge(MetricEntries, metric.WithDescription("number of registered keys"), metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("otelmetric: create %s: %w", MetricEntries, err)
	}
	a.entries = g
	return a, nil
}

// The query.Metrics hooks carry no context; measurements use Background.

func (a *Adapter) Hit()      { a.hits.Add(context.Background(), 1) }
func (a *Adapter) StaleHit() { a.staleHits.Add(context.Background(), 1) }
func (a *Adapter) Dedup()    { a.dedups.Add(context.Background(), 1) }
func (a *Adapter) Fetch()    { a.fetches.Add(context.Background(), 1) }
func (a *Adapter) Retry()    { a.retries.Add(context.Background(), 1) }

func (a *Adapter) Outcome(o query.Outcome) {
	opt := outcomeDiscarded
	switch o {
	case query.OutcomeSuccess:
		opt = outcomeSuccess
	case query.OutcomeError:
		opt = outcomeError
	}
	a.cycles.Add(context.Background(), 1, opt)
}

func (a *Adapter) Entries(n int) { a.entries.Record(context.Background(), int64(n)) }

var _ query.Metrics = (*Adapter)(nil)
