package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CaptureMetrics holds metrics for the render capture pipeline.
type CaptureMetrics struct {
	// FramesTotal counts completed render frames.
	FramesTotal prometheus.Counter

	// EntitiesTotal counts entity records captured.
	EntitiesTotal prometheus.Counter

	// SegmentSize tracks compressed segment size in bytes.
	SegmentSize prometheus.Histogram

	// FlushLatency tracks segment flush latency in seconds.
	FlushLatency prometheus.Histogram

	// SinkRecordsTotal counts records handed to a sink.
	// Labels: sink (objectstore, kafka), status
	SinkRecordsTotal *prometheus.CounterVec
}

// Sink label values.
const (
	SinkObjectStore = "objectstore"
	SinkKafka       = "kafka"
)

// DefaultSegmentSizeBuckets range from a few frames to large segments.
var DefaultSegmentSizeBuckets = []float64{
	1024,     // 1KB
	4096,     // 4KB
	16384,    // 16KB
	65536,    // 64KB
	262144,   // 256KB
	1048576,  // 1MB
	4194304,  // 4MB
	16777216, // 16MB
}

// NewCaptureMetrics creates capture metrics on reg.
func NewCaptureMetrics(reg prometheus.Registerer) *CaptureMetrics {
	f := factory(reg)
	return &CaptureMetrics{
		FramesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "frames_total",
			Help:      "Total number of render frames captured.",
		}),
		EntitiesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "entities_total",
			Help:      "Total number of entity records captured.",
		}),
		SegmentSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "segment_size_bytes",
			Help:      "Capture segment size in bytes after compression.",
			Buckets:   DefaultSegmentSizeBuckets,
		}),
		FlushLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "flush_latency_seconds",
			Help:      "Capture segment flush latency in seconds.",
			Buckets:   DefaultLatencyBuckets,
		}),
		SinkRecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "sink_records_total",
			Help:      "Total number of records handed to a sink, by sink and status.",
		}, []string{"sink", "status"}),
	}
}

// RecordFrame records one captured render frame holding n entities.
func (m *CaptureMetrics) RecordFrame(n int) {
	m.FramesTotal.Inc()
	m.EntitiesTotal.Add(float64(n))
}

// RecordFlush records a segment flush.
func (m *CaptureMetrics) RecordFlush(sizeBytes int, seconds float64) {
	m.SegmentSize.Observe(float64(sizeBytes))
	m.FlushLatency.Observe(seconds)
}

// RecordSink records records handed to sink.
func (m *CaptureMetrics) RecordSink(sink string, records int, ok bool) {
	m.SinkRecordsTotal.WithLabelValues(sink, status(ok)).Add(float64(records))
}
