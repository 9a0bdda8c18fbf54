// Package barrier tracks which routers have acknowledged the current phase.
//
// The coordinator treats every router as one barrier participant. A phase
// completes when every router's record is marked received. A rebalance can
// reopen individual records mid-phase; a reopened router is then only
// counted again once it sends an ACK tagged as the post-rebalance ACK.
package barrier

import (
	"github.com/flockd-io/flockd/internal/wire"
)

// Outcome describes what Record did with an ACK.
type Outcome int

const (
	// Counted means the ACK moved the barrier forward.
	Counted Outcome = iota
	// Duplicate means the router had already been counted this phase.
	Duplicate
	// AwaitingRebalance means the router is pending a rebalance and the ACK
	// was not the tagged post-rebalance ACK.
	AwaitingRebalance
	// WrongTag means the ACK answered a different phase.
	WrongTag
	// UnknownRouter means the sender is not a barrier participant.
	UnknownRouter
)

func (o Outcome) String() string {
	switch o {
	case Counted:
		return "counted"
	case Duplicate:
		return "duplicate"
	case AwaitingRebalance:
		return "awaiting_rebalance"
	case WrongTag:
		return "wrong_tag"
	case UnknownRouter:
		return "unknown_router"
	}
	return "unknown"
}

// RebalanceTag is the tag a reopened router's ACK must carry.
const RebalanceTag = wire.LoadBalanceInstruction

// Record is one router's state for the current phase.
type Record struct {
	Router             wire.ID `json:"router"`
	Received           bool    `json:"received"`
	PendingLoadBalance bool    `json:"pendingLoadBalance"`
}

// Ledger holds one Record per router. It is not safe for concurrent use.
type Ledger struct {
	records  []Record
	index    map[wire.ID]int
	received int
	tag      wire.Type
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{index: make(map[wire.ID]int)}
}

// Add registers a router. Adding a router twice is a no-op and returns false.
func (l *Ledger) Add(router wire.ID) bool {
	if _, ok := l.index[router]; ok {
		return false
	}
	l.index[router] = len(l.records)
	l.records = append(l.records, Record{Router: router})
	return true
}

// Has reports whether router is a participant.
func (l *Ledger) Has(router wire.ID) bool {
	_, ok := l.index[router]
	return ok
}

// Len returns the number of participants.
func (l *Ledger) Len() int { return len(l.records) }

// Received returns how many participants are counted for this phase.
func (l *Ledger) Received() int { return l.received }

// Tag returns the ACK tag the current phase expects.
func (l *Ledger) Tag() wire.Type { return l.tag }

// Reset starts a new phase expecting ACKs tagged with tag. Every record's
// received and pending flags are cleared.
func (l *Ledger) Reset(tag wire.Type) {
	l.tag = tag
	l.received = 0
	for i := range l.records {
		l.records[i].Received = false
		l.records[i].PendingLoadBalance = false
	}
}

// Record applies an ACK from router carrying tag.
func (l *Ledger) Record(router wire.ID, tag wire.Type) Outcome {
	i, ok := l.index[router]
	if !ok {
		return UnknownRouter
	}
	r := &l.records[i]
	if r.PendingLoadBalance {
		if tag != RebalanceTag {
			return AwaitingRebalance
		}
	} else if tag != l.tag {
		return WrongTag
	}
	if r.Received {
		return Duplicate
	}
	r.Received = true
	l.received++
	return Counted
}

// Reopen clears router's received flag and marks it pending a rebalance.
// The counter drops by one if the router had already been counted.
func (l *Ledger) Reopen(router wire.ID) bool {
	i, ok := l.index[router]
	if !ok {
		return false
	}
	r := &l.records[i]
	if r.Received && l.received > 0 {
		l.received--
	}
	r.Received = false
	r.PendingLoadBalance = true
	return true
}

// Complete reports whether every participant is counted. An empty ledger
// is never complete.
func (l *Ledger) Complete() bool {
	return len(l.records) > 0 && l.received == len(l.records)
}

// Outstanding returns the routers not yet counted this phase.
func (l *Ledger) Outstanding() []wire.ID {
	var out []wire.ID
	for _, r := range l.records {
		if !r.Received {
			out = append(out, r.Router)
		}
	}
	return out
}

// Records returns a copy of every record.
func (l *Ledger) Records() []Record {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}
