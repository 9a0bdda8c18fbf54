package coordinator

import "github.com/flockd-io/flockd/internal/wire"

// Phase is a state of the coordinator's state machine.
type Phase int

const (
	Idle Phase = iota
	Discovery
	AwaitingUserInfo
	Setup
	NeighborExchange
	PositionUpdate
	BoundaryTransfer
	LoadBalance
	Render
	Stopped
)

var phaseNames = [...]string{
	Idle:             "Idle",
	Discovery:        "Discovery",
	AwaitingUserInfo: "AwaitingUserInfo",
	Setup:            "Setup",
	NeighborExchange: "NeighborExchange",
	PositionUpdate:   "PositionUpdate",
	BoundaryTransfer: "BoundaryTransfer",
	LoadBalance:      "LoadBalance",
	Render:           "Render",
	Stopped:          "Stopped",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "Unknown"
}

// Barriered reports whether the phase waits on router ACKs.
func (p Phase) Barriered() bool {
	return p >= Setup && p <= Render
}

// StartType is the message that opens the phase, which is also the tag its
// ACKs carry. Phases without a barrier return Init.
func (p Phase) StartType() wire.Type {
	switch p {
	case Setup:
		return wire.Setup
	case NeighborExchange:
		return wire.NeighborExchange
	case PositionUpdate:
		return wire.PositionUpdate
	case BoundaryTransfer:
		return wire.BoundaryTransfer
	case LoadBalance:
		return wire.LoadBalance
	case Render:
		return wire.Render
	}
	return wire.Init
}

// next returns the phase that follows p in the tick cycle.
func (p Phase) next(loadBalancing bool) Phase {
	switch p {
	case Setup, Render:
		return NeighborExchange
	case NeighborExchange:
		return PositionUpdate
	case PositionUpdate:
		return BoundaryTransfer
	case BoundaryTransfer:
		if loadBalancing {
			return LoadBalance
		}
		return Render
	case LoadBalance:
		return Render
	}
	return p
}
