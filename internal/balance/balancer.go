// Package balance computes boundary moves that relieve an overloaded
// partition.
//
// A rebalance shrinks every free edge of the overloaded partition by one
// step. Edges are shared along whole grid lines, so the line a moving edge
// lies on moves for every partition on it: partitions across the line grow,
// partitions on the overloaded partition's row or column shrink with it.
// Every shared edge therefore stays coincident and the regions keep tiling
// the simulation area.
package balance

import (
	"errors"
	"fmt"

	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/partition"
	"github.com/flockd-io/flockd/internal/wire"
)

var (
	// ErrUnknownPartition is returned when the requester is not in the directory.
	ErrUnknownPartition = errors.New("balance: unknown partition")
	// ErrRebalanceInFlight means a rebalance already ran during this phase.
	ErrRebalanceInFlight = errors.New("balance: rebalance already in flight this phase")
	// ErrMinimalBounds means a shrink would touch a partition already at its
	// minimum size and the guard is enabled.
	ErrMinimalBounds = errors.New("balance: partition at minimal bounds")
	// ErrCollapse means the shift would leave a partition with no area.
	ErrCollapse = errors.New("balance: shift would collapse a partition")
)

// Reopener reopens a router's barrier record when one of its partitions is
// sent an instruction.
type Reopener interface {
	Reopen(router wire.ID) bool
}

// Instruction is the boundary move for one partition.
type Instruction struct {
	Partition wire.ID
	Router    wire.ID
	Delta     EdgeDelta
}

// Body returns the LoadBalanceInstruction message body.
func (i Instruction) Body() []uint32 {
	return []uint32{uint32(Pack(i.Delta))}
}

// Plan is the outcome of one rebalance request.
type Plan struct {
	Requester    wire.ID
	Instructions []Instruction
	// Refused is set when nothing moved; Instructions then holds a single
	// zero instruction for the requester so it can close its phase.
	Refused error
}

// Config configures a Balancer.
type Config struct {
	VisionRadius int
	// RespectMinimalBounds refuses shrinks that touch a partition flagged
	// minimal. When false such shrinks are issued and logged.
	RespectMinimalBounds bool
	Logger               *logging.Logger
}

// Balancer turns load-balance requests into instructions and keeps the
// directory in step with them. It is driven from a single goroutine.
type Balancer struct {
	dir      *partition.Directory
	ledger   Reopener
	cfg      Config
	logger   *logging.Logger
	inFlight bool
}

// New creates a balancer over dir that reopens barrier records in ledger.
func New(dir *partition.Directory, ledger Reopener, cfg Config) *Balancer {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Balancer{
		dir:    dir,
		ledger: ledger,
		cfg:    cfg,
		logger: logger.With(map[string]any{"component": "balancer"}),
	}
}

// BeginPhase allows the next request to run. The coordinator calls it at
// the start of every load-balance phase.
func (b *Balancer) BeginPhase() {
	b.inFlight = false
}

// Rebalance handles a request from an overloaded partition. The directory is
// updated and the barrier reopened for every router that receives an
// instruction before the plan is returned.
func (b *Balancer) Rebalance(id wire.ID) (Plan, error) {
	req, ok := b.dir.Get(id)
	if !ok {
		return Plan{}, fmt.Errorf("%w: %d", ErrUnknownPartition, id)
	}
	plan := Plan{Requester: id}

	if b.inFlight {
		return b.refuse(plan, req, ErrRebalanceInFlight), nil
	}

	deltas := b.compute(req)
	if err := b.check(deltas); err != nil {
		return b.refuse(plan, req, err), nil
	}
	b.inFlight = true

	for _, p := range b.dir.All() {
		d := deltas[p.ID]
		if d.Zero() && p.ID != id {
			continue
		}
		if !d.Zero() {
			if err := b.dir.SetRegion(p.ID, Apply(p.Region, d, b.cfg.VisionRadius)); err != nil {
				return Plan{}, fmt.Errorf("balance: apply to %d: %w", p.ID, err)
			}
			b.dir.RefreshMinimal(p.ID, b.cfg.VisionRadius)
		}
		plan.Instructions = append(plan.Instructions, Instruction{Partition: p.ID, Router: p.Router, Delta: d})
		b.ledger.Reopen(p.Router)
	}

	b.logger.Infof("rebalanced", map[string]any{
		"requester":    uint32(id),
		"instructions": len(plan.Instructions),
		"delta":        deltas[id].String(),
	})
	return plan, nil
}

func (b *Balancer) refuse(plan Plan, req partition.Partition, reason error) Plan {
	plan.Refused = reason
	plan.Instructions = []Instruction{{Partition: req.ID, Router: req.Router}}
	b.ledger.Reopen(req.Router)
	b.logger.Warnf("rebalance refused", map[string]any{
		"requester": uint32(req.ID),
		"reason":    reason.Error(),
	})
	return plan
}

// compute returns the delta for every partition on a moving grid line.
func (b *Balancer) compute(req partition.Partition) map[wire.ID]EdgeDelta {
	gw, gh := b.dir.Grid()
	x, y := req.GridX, req.GridY
	north, east := y != 0, x != gw-1
	south, west := y != gh-1, x != 0

	out := make(map[wire.ID]EdgeDelta)
	for _, p := range b.dir.All() {
		var d EdgeDelta
		if north {
			switch p.GridY {
			case y - 1:
				d.S++
			case y:
				d.N--
			}
		}
		if south {
			switch p.GridY {
			case y + 1:
				d.N++
			case y:
				d.S--
			}
		}
		if east {
			switch p.GridX {
			case x + 1:
				d.W++
			case x:
				d.E--
			}
		}
		if west {
			switch p.GridX {
			case x - 1:
				d.E++
			case x:
				d.W--
			}
		}
		if !d.Zero() {
			out[p.ID] = d
		}
	}
	return out
}

// check rejects plans that would collapse a region, and plans that shrink a
// minimal partition when the guard is on.
func (b *Balancer) check(deltas map[wire.ID]EdgeDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	for id, d := range deltas {
		p, ok := b.dir.Get(id)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownPartition, id)
		}
		next := Apply(p.Region, d, b.cfg.VisionRadius)
		if next.Width() <= 0 || next.Height() <= 0 {
			return fmt.Errorf("%w: partition %d would become %s", ErrCollapse, id, next)
		}
		shrinksX := next.Width() < p.Region.Width()
		shrinksY := next.Height() < p.Region.Height()
		if (shrinksX && p.MinimalWidth) || (shrinksY && p.MinimalHeight) {
			if b.cfg.RespectMinimalBounds {
				return fmt.Errorf("%w: partition %d", ErrMinimalBounds, id)
			}
			b.logger.Warnf("shrinking partition at minimal bounds", map[string]any{
				"partition": uint32(id),
				"region":    p.Region.String(),
			})
		}
	}
	return nil
}
