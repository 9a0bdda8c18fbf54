package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LinkMetrics holds metrics for the switch and the stream links into it.
type LinkMetrics struct {
	// ActivePeers tracks connections attached to the switch.
	ActivePeers prometheus.Gauge

	// FramesTotal counts frames moved over links.
	// Labels: direction (read, write)
	FramesTotal *prometheus.CounterVec

	// DroppedTotal counts frames a link could not carry.
	// Labels: reason (buffer_full, malformed)
	DroppedTotal *prometheus.CounterVec

	// ClampedTotal counts frames whose length word was out of range.
	ClampedTotal prometheus.Counter
}

// NewLinkMetrics creates link metrics on reg.
func NewLinkMetrics(reg prometheus.Registerer) *LinkMetrics {
	f := factory(reg)
	return &LinkMetrics{
		ActivePeers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "active_peers",
			Help:      "Current number of connections attached to the switch.",
		}),
		FramesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Total number of frames moved, by direction.",
		}, []string{"direction"}),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "dropped_total",
			Help:      "Total number of frames dropped, by reason.",
		}, []string{"reason"}),
		ClampedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "clamped_total",
			Help:      "Total number of frames whose length word was clamped.",
		}),
	}
}

// PeerAttached increments the active peer gauge.
func (m *LinkMetrics) PeerAttached() { m.ActivePeers.Inc() }

// PeerDetached decrements the active peer gauge.
func (m *LinkMetrics) PeerDetached() { m.ActivePeers.Dec() }

// RecordRead records a frame read from a link.
func (m *LinkMetrics) RecordRead(clamped bool) {
	m.FramesTotal.WithLabelValues(DirectionRead).Inc()
	if clamped {
		m.ClampedTotal.Inc()
	}
}

// RecordWrite records a frame written to a link.
func (m *LinkMetrics) RecordWrite() {
	m.FramesTotal.WithLabelValues(DirectionWrite).Inc()
}

// RecordDropped records a frame a link dropped.
func (m *LinkMetrics) RecordDropped(reason string) {
	m.DroppedTotal.WithLabelValues(reason).Inc()
}
