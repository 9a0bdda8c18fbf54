package router

import (
	"github.com/flockd-io/flockd/internal/wire"
)

// aggregator folds the ACKs of a router's workers into at most one plain
// ACK and one rebalance ACK per phase.
//
// A plain ACK is emitted once every worker acknowledged the phase and no
// worker was sent a rebalance instruction. Once instructions arrive, a
// LoadBalanceInstruction-tagged ACK is emitted when every affected worker
// sent its tagged ACK and every other worker its plain one.
type aggregator struct {
	phase    wire.Type
	plain    map[wire.ID]bool
	tagged   map[wire.ID]bool
	affected map[wire.ID]bool

	sentPlain  bool
	sentTagged bool
}

func (a *aggregator) reset(phase wire.Type) {
	a.phase = phase
	a.plain = make(map[wire.ID]bool)
	a.tagged = make(map[wire.ID]bool)
	a.affected = make(map[wire.ID]bool)
	a.sentPlain = false
	a.sentTagged = false
}

func (a *aggregator) markAffected(w wire.ID) {
	if a.affected == nil {
		a.reset(a.phase)
	}
	a.affected[w] = true
	// A fresh instruction needs a fresh tagged ACK.
	delete(a.tagged, w)
	a.sentTagged = false
}

// record notes an ACK from worker w and reports whether it was counted.
func (a *aggregator) record(w wire.ID, tag wire.Type) bool {
	if a.plain == nil {
		a.reset(a.phase)
	}
	switch {
	case tag == wire.LoadBalanceInstruction && a.affected[w]:
		a.tagged[w] = true
	case tag == a.phase && a.phase != 0:
		a.plain[w] = true
	default:
		return false
	}
	return true
}

// ready reports whether an ACK is due for workers, and with which tag. It
// reports each ACK at most once per phase.
func (a *aggregator) ready(workers []wire.ID) (wire.Type, bool) {
	if len(workers) == 0 {
		return 0, false
	}
	if len(a.affected) == 0 {
		if a.sentPlain {
			return 0, false
		}
		for _, w := range workers {
			if !a.plain[w] {
				return 0, false
			}
		}
		a.sentPlain = true
		return a.phase, true
	}

	if a.sentTagged {
		return 0, false
	}
	for _, w := range workers {
		if a.affected[w] {
			if !a.tagged[w] {
				return 0, false
			}
		} else if !a.plain[w] {
			return 0, false
		}
	}
	a.sentTagged = true
	return wire.LoadBalanceInstruction, true
}
