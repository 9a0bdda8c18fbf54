package wire

import "strconv"

// Type is the closed set of message types.
type Type uint32

const (
	Init                   Type = 1
	Ping                   Type = 2
	PingReply              Type = 3
	UserInfo               Type = 4
	Setup                  Type = 5
	NeighborExchange       Type = 6
	EndDiscovery           Type = 7
	NeighborReply          Type = 8
	PositionUpdate         Type = 9
	LoadBalanceInstruction Type = 10
	BoundaryTransfer       Type = 11
	EntityTransfer         Type = 12
	Render                 Type = 14
	RenderData             Type = 15
	Kill                   Type = 16
	Ack                    Type = 17
	StartDiscovery         Type = 18
	LoadBalance            Type = 19
	LoadBalanceRequest     Type = 20
	MinimalBoundsReport    Type = 21
)

var typeNames = map[Type]string{
	Init:                   "init",
	Ping:                   "ping",
	PingReply:              "ping-reply",
	UserInfo:               "user-info",
	Setup:                  "setup",
	NeighborExchange:       "neighbor-exchange",
	EndDiscovery:           "end-discovery",
	NeighborReply:          "neighbor-reply",
	PositionUpdate:         "position-update",
	LoadBalanceInstruction: "load-balance-instruction",
	BoundaryTransfer:       "boundary-transfer",
	EntityTransfer:         "entity-transfer",
	Render:                 "render",
	RenderData:             "render-data",
	Kill:                   "kill",
	Ack:                    "ack",
	StartDiscovery:         "start-discovery",
	LoadBalance:            "load-balance",
	LoadBalanceRequest:     "load-balance-request",
	MinimalBoundsReport:    "minimal-bounds-report",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "type(" + strconv.FormatUint(uint64(t), 10) + ")"
}

// Known reports whether t is part of the protocol.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// PhaseStart reports whether t is one of the broadcasts that open a tick phase.
func (t Type) PhaseStart() bool {
	switch t {
	case NeighborExchange, PositionUpdate, BoundaryTransfer, LoadBalance, Render:
		return true
	}
	return false
}
