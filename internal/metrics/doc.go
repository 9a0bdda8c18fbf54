// Package metrics provides Prometheus metrics for flockd nodes.
//
// Each component owns a metrics struct built from a registerer:
//   - CoordinatorMetrics: current phase, transitions, ticks, ACK outcomes,
//     rebalances and time spent per phase
//   - RouterMetrics: routed messages by direction, drops and ACK aggregation
//   - LinkMetrics: frames moved over switch and stream links
//   - CaptureMetrics: recorded frames, segment sizes and flush latency
//   - RegistryMetrics: topology snapshot publishes per backend
//   - ObjectStoreMetrics: object store operation latency and bytes moved
//
// Metrics are exposed via a dedicated HTTP server on /metrics.
//
// Usage:
//
//	coord := metrics.NewCoordinatorMetrics(prometheus.DefaultRegisterer)
//	srv := metrics.NewServer(":9090")
//	srv.Start()
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flockd"

// Status label values shared across components.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

func status(ok bool) string {
	if ok {
		return StatusSuccess
	}
	return StatusFailure
}

// factory returns a promauto factory for reg. A nil reg means the default
// registerer.
func factory(reg prometheus.Registerer) promauto.Factory {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return promauto.With(reg)
}

// DefaultLatencyBuckets cover in-process hops through to slow network
// writes, in seconds.
var DefaultLatencyBuckets = []float64{
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	5.0,    // 5s
	10.0,   // 10s
}
