package query

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()            {}
func (NoopMetrics) StaleHit()       {}
func (NoopMetrics) Dedup()          {}
func (NoopMetrics) Fetch()          {}
func (NoopMetrics) Retry()          {}
func (NoopMetrics) Outcome(Outcome) {}
func (NoopMetrics) Entries(int)     {}

var _ Metrics = NoopMetrics{}
