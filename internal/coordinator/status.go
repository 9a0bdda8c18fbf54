package coordinator

import (
	"time"

	"github.com/flockd-io/flockd/internal/barrier"
	"github.com/flockd-io/flockd/internal/partition"
	"github.com/flockd-io/flockd/internal/wire"
)

// Status is a point-in-time view of the coordinator.
type Status struct {
	RunID        string    `json:"runId"`
	Phase        string    `json:"phase"`
	Tick         uint64    `json:"tick"`
	PhaseStarted time.Time `json:"phaseStarted"`
	// PhaseElapsed is filled in when Status is read.
	PhaseElapsed time.Duration `json:"phaseElapsed"`

	Workers     int       `json:"workers"`
	Routers     int       `json:"routers"`
	Received    int       `json:"received"`
	Outstanding []wire.ID `json:"outstanding"`
	// AwaitingRenderer is set during render while the renderer's ACK is missing.
	AwaitingRenderer bool                  `json:"awaitingRenderer"`
	EntityCount      int                   `json:"entityCount"`
	Records          []barrier.Record      `json:"records,omitempty"`
	Partitions       []partition.Partition `json:"partitions,omitempty"`

	phase Phase
}

// Current returns the phase as a value.
func (s Status) Current() Phase { return s.phase }

// Status returns the latest published view of the coordinator.
func (c *Coordinator) Status() Status {
	s := *c.snap.Load()
	s.PhaseElapsed = time.Since(s.PhaseStarted)
	return s
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	return c.snap.Load().phase
}

func (c *Coordinator) publishStatus() {
	s := &Status{
		RunID:        c.cfg.RunID,
		Phase:        c.phase.String(),
		Tick:         c.tick,
		PhaseStarted: c.phaseStarted,
		Workers:      len(c.slots),
		Routers:      c.ledger.Len(),
		EntityCount:  c.entityCount,
		phase:        c.phase,
	}
	if c.phase.Barriered() {
		s.Received = c.ledger.Received()
		s.Outstanding = c.ledger.Outstanding()
		s.Records = c.ledger.Records()
		s.AwaitingRenderer = c.phase == Render && c.cfg.AwaitRenderer && !c.rendererAcked
	}
	if c.dir != nil {
		s.Partitions = c.dir.All()
	}
	c.snap.Store(s)
}
