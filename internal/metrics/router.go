package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// RouterMetrics holds metrics for a router node.
type RouterMetrics struct {
	// RoutedTotal counts delivered messages.
	// Labels: router, direction (internal, external)
	RoutedTotal *prometheus.CounterVec

	// DroppedTotal counts messages not delivered anywhere.
	// Labels: router, reason
	DroppedTotal *prometheus.CounterVec

	// AcksAggregatedTotal counts ACKs the router sent to the coordinator.
	// Labels: router, tag
	AcksAggregatedTotal *prometheus.CounterVec
}

// Routing direction label values.
const (
	DirectionInternal = "internal"
	DirectionExternal = "external"
)

// Drop reason label values.
const (
	DropIrrelevant  = "irrelevant"
	DropUnknownType = "unknown_type"
	DropNoRecipient = "no_recipient"
	DropBufferFull  = "buffer_full"
	DropMalformed   = "malformed"
)

// NewRouterMetrics creates router metrics on reg.
func NewRouterMetrics(reg prometheus.Registerer) *RouterMetrics {
	f := factory(reg)
	return &RouterMetrics{
		RoutedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "routed_total",
			Help:      "Total number of messages delivered, by direction.",
		}, []string{"router", "direction"}),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dropped_total",
			Help:      "Total number of messages dropped, by reason.",
		}, []string{"router", "reason"}),
		AcksAggregatedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "acks_aggregated_total",
			Help:      "Total number of aggregated ACKs sent to the coordinator, by tag.",
		}, []string{"router", "tag"}),
	}
}

// RecordRouted records a message delivered in direction.
func (m *RouterMetrics) RecordRouted(router uint32, direction string) {
	m.RoutedTotal.WithLabelValues(strconv.FormatUint(uint64(router), 10), direction).Inc()
}

// RecordDropped records a dropped message.
func (m *RouterMetrics) RecordDropped(router uint32, reason string) {
	m.DroppedTotal.WithLabelValues(strconv.FormatUint(uint64(router), 10), reason).Inc()
}

// RecordAggregatedAck records an ACK emitted on behalf of the router's workers.
func (m *RouterMetrics) RecordAggregatedAck(router uint32, tag string) {
	m.AcksAggregatedTotal.WithLabelValues(strconv.FormatUint(uint64(router), 10), tag).Inc()
}
