package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CoordinatorMetrics holds metrics for the phase state machine.
type CoordinatorMetrics struct {
	// Phase is the numeric message type of the current phase.
	Phase prometheus.Gauge

	// PhaseStarted is the unix time the current phase began. A value far in
	// the past means the barrier is stalled.
	PhaseStarted prometheus.Gauge

	// TransitionsTotal counts phase entries.
	// Labels: phase
	TransitionsTotal *prometheus.CounterVec

	// TicksTotal counts completed render phases.
	TicksTotal prometheus.Counter

	// AcksTotal counts router ACKs by what the barrier did with them.
	// Labels: outcome (counted, duplicate, awaiting_rebalance, wrong_tag, unknown_router)
	AcksTotal *prometheus.CounterVec

	// RebalancesTotal counts load-balance requests.
	// Labels: result (applied, refused)
	RebalancesTotal *prometheus.CounterVec

	// PhaseDuration tracks wall time from a phase start to its barrier.
	// Labels: phase
	PhaseDuration *prometheus.HistogramVec

	// Workers and Routers describe the configured topology.
	Workers prometheus.Gauge
	Routers prometheus.Gauge
}

// Rebalance result label values.
const (
	RebalanceApplied = "applied"
	RebalanceRefused = "refused"
)

// NewCoordinatorMetrics creates coordinator metrics on reg.
func NewCoordinatorMetrics(reg prometheus.Registerer) *CoordinatorMetrics {
	f := factory(reg)
	return &CoordinatorMetrics{
		Phase: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "phase",
			Help:      "Message type of the phase the coordinator is in.",
		}),
		PhaseStarted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "phase_started_timestamp_seconds",
			Help:      "Unix time at which the current phase started.",
		}),
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "phase_transitions_total",
			Help:      "Total number of phase entries, by phase.",
		}, []string{"phase"}),
		TicksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "ticks_total",
			Help:      "Total number of completed simulation ticks.",
		}),
		AcksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "acks_total",
			Help:      "Total number of router ACKs, by barrier outcome.",
		}, []string{"outcome"}),
		RebalancesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "rebalances_total",
			Help:      "Total number of load-balance requests, by result.",
		}, []string{"result"}),
		PhaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "phase_duration_seconds",
			Help:      "Time from phase start until every router acknowledged it.",
			Buckets:   DefaultLatencyBuckets,
		}, []string{"phase"}),
		Workers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "workers",
			Help:      "Number of discovered workers.",
		}),
		Routers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "routers",
			Help:      "Number of routers taking part in the barrier.",
		}),
	}
}

// EnterPhase records a transition into phase, whose numeric type is code.
func (m *CoordinatorMetrics) EnterPhase(phase string, code int) {
	m.Phase.Set(float64(code))
	m.PhaseStarted.SetToCurrentTime()
	m.TransitionsTotal.WithLabelValues(phase).Inc()
}

// ObservePhase records how long phase took to complete.
func (m *CoordinatorMetrics) ObservePhase(phase string, seconds float64) {
	m.PhaseDuration.WithLabelValues(phase).Observe(seconds)
}

// RecordAck records an ACK outcome.
func (m *CoordinatorMetrics) RecordAck(outcome string) {
	m.AcksTotal.WithLabelValues(outcome).Inc()
}

// RecordRebalance records a load-balance request.
func (m *CoordinatorMetrics) RecordRebalance(refused bool) {
	result := RebalanceApplied
	if refused {
		result = RebalanceRefused
	}
	m.RebalancesTotal.WithLabelValues(result).Inc()
}

// IncTick records a completed tick.
func (m *CoordinatorMetrics) IncTick() {
	m.TicksTotal.Inc()
}

// SetTopology records the discovered topology size.
func (m *CoordinatorMetrics) SetTopology(workers, routers int) {
	m.Workers.Set(float64(workers))
	m.Routers.Set(float64(routers))
}
