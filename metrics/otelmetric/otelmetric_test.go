package otelmetric

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/IvanBrykalov/querycache/query"
)

func newTestMeterProvider(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return mp, reader
}

// collect returns the data of every instrument by name.
func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, r.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "want Sum[int64], got %T", data)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestAdapter_Hooks(t *testing.T) {
	mp, reader := newTestMeterProvider(t)
	a, err := New(mp, "")
	require.NoError(t, err)

	a.Hit()
	a.Hit()
	a.StaleHit()
	a.Dedup()
	a.Fetch()
	a.Retry()
	a.Outcome(query.OutcomeSuccess)
	a.Outcome(query.OutcomeError)
	a.Outcome(query.OutcomeError)
	a.Entries(3)

	got := collect(t, reader)
	assert.Equal(t, int64(2), sum(t, got[MetricHits]))
	assert.Equal(t, int64(1), sum(t, got[MetricStale]))
	assert.Equal(t, int64(1), sum(t, got[MetricDedup]))
	assert.Equal(t, int64(1), sum(t, got[MetricFetches]))
	assert.Equal(t, int64(1), sum(t, got[MetricRetries]))
	assert.Equal(t, int64(3), sum(t, got[MetricCycles]))

	cycles := got[MetricCycles].(metricdata.Sum[int64])
	byOutcome := make(map[string]int64)
	for _, dp := range cycles.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("outcome"))
		byOutcome[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"success": 1, "error": 2}, byOutcome)

	g, ok := got[MetricEntries].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, g.DataPoints, 1)
	assert.Equal(t, int64(3), g.DataPoints[0].Value)
}

func TestAdapter_WithClient(t *testing.T) {
	mp, reader := newTestMeterProvider(t)
	a, err := New(mp, "test")
	require.NoError(t, err)

	c := query.New[int, int](query.Options[int, int]{
		Metrics:  a,
		Fetcher:  func(_ context.Context, k int) (int, error) { return k * k, nil },
		Defaults: &query.Config{StaleAfter: query.Never},
	})
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 3; i++ {
		res, err := c.Fetch(context.Background(), 4)
		require.NoError(t, err)
		assert.Equal(t, 16, res.Value)
	}

	got := collect(t, reader)
	assert.Equal(t, int64(1), sum(t, got[MetricFetches]))
	assert.Equal(t, int64(2), sum(t, got[MetricHits]))
}

func TestNew_GlobalProvider(t *testing.T) {
	a, err := New(nil, "")
	require.NoError(t, err)
	a.Hit() // the global no-op provider accepts measurements
}
