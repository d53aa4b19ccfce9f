package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records applied queries. A nil *Metrics records nothing.
type Metrics struct {
	// Queries counts applied queries by item type and status.
	Queries *prometheus.CounterVec
	// Errors counts failed queries by the stage that failed.
	Errors *prometheus.CounterVec
	// Duration is the time spent executing a query.
	Duration prometheus.Histogram
	// Rows counts materialized items.
	Rows prometheus.Counter
}

// NewMetrics creates the query metrics and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Queries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shapeq_queries_total",
				Help: "Total number of applied queries",
			},
			[]string{"type", "status"},
		),
		Errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shapeq_query_errors_total",
				Help: "Total number of failed queries by stage",
			},
			[]string{"stage"},
		),
		Duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shapeq_query_duration_seconds",
				Help:    "Query execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		Rows: f.NewCounter(
			prometheus.CounterOpts{
				Name: "shapeq_query_rows_total",
				Help: "Total number of items returned by queries",
			},
		),
	}
}

func (m *Metrics) observe(typeName string, seconds float64, rows int, failedStage string) {
	if m == nil {
		return
	}
	m.Duration.Observe(seconds)
	if failedStage != "" {
		m.Queries.WithLabelValues(typeName, "error").Inc()
		m.Errors.WithLabelValues(failedStage).Inc()
		return
	}
	m.Queries.WithLabelValues(typeName, "ok").Inc()
	m.Rows.Add(float64(rows))
}
