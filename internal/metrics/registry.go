package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegistryMetrics holds metrics for topology snapshot publishing.
type RegistryMetrics struct {
	// PublishLatency tracks publish latency in seconds.
	// Labels: backend, status
	PublishLatency *prometheus.HistogramVec

	// SupersededTotal counts snapshots replaced before they were published.
	SupersededTotal prometheus.Counter
}

// NewRegistryMetrics creates registry metrics on reg.
func NewRegistryMetrics(reg prometheus.Registerer) *RegistryMetrics {
	f := factory(reg)
	return &RegistryMetrics{
		PublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "publish_latency_seconds",
			Help:      "Topology snapshot publish latency in seconds, by backend and status.",
			Buckets:   DefaultLatencyBuckets,
		}, []string{"backend", "status"}),
		SupersededTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "superseded_total",
			Help:      "Total number of snapshots replaced by a newer one before publishing.",
		}),
	}
}

// RecordPublish records one publish attempt.
func (m *RegistryMetrics) RecordPublish(backend string, seconds float64, ok bool) {
	m.PublishLatency.WithLabelValues(backend, status(ok)).Observe(seconds)
}

// IncSuperseded records a dropped intermediate snapshot.
func (m *RegistryMetrics) IncSuperseded() {
	m.SupersededTotal.Inc()
}
