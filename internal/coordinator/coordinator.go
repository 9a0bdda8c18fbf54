// Package coordinator drives a flock through its phases.
//
// The coordinator discovers routers and their workers, lays the workers out
// over the simulation area, sends every partition its setup record, and
// then cycles through neighbour exchange, position update, boundary
// transfer, load balance and render. Each phase ends when every router has
// acknowledged it; rebalances issued during the load-balance phase reopen
// the barrier for the routers they touch.
//
// All state is owned by the goroutine running Run. Operators talk to it
// through the command methods and read it through Status.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flockd-io/flockd/internal/balance"
	"github.com/flockd-io/flockd/internal/barrier"
	"github.com/flockd-io/flockd/internal/link"
	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/metrics"
	"github.com/flockd-io/flockd/internal/partition"
	"github.com/flockd-io/flockd/internal/registry"
	"github.com/flockd-io/flockd/internal/topology"
	"github.com/flockd-io/flockd/internal/wire"
)

var (
	// ErrLinkClosed is returned by Run when the coordinator's link goes down.
	ErrLinkClosed = errors.New("coordinator: link closed")
	// ErrStopped is returned by the command methods once Run has returned.
	ErrStopped = errors.New("coordinator: stopped")
)

// Config configures a Coordinator.
type Config struct {
	Width, Height int
	VisionRadius  int

	// LoadBalancing enables the load-balance phase.
	LoadBalancing bool
	// AwaitRenderer makes the render phase also wait for the renderer's ACK.
	AwaitRenderer bool
	// RespectMinimalBounds refuses rebalances that shrink a minimal partition.
	RespectMinimalBounds bool

	// EntityCount, when positive, stands in for the operator's UserInfo.
	EntityCount int
	// AutoDiscovery, when positive, starts discovery as soon as Run is
	// called and ends it after this window.
	AutoDiscovery time.Duration
	// Ticks, when positive, kills the flock after that many completed ticks.
	Ticks uint64

	// RunID names the run in logs and published snapshots. A random id is
	// generated when empty.
	RunID string

	Logger    *logging.Logger
	Metrics   *metrics.CoordinatorMetrics
	Publisher registry.Publisher
}

// Coordinator is the phase state machine. Only the operator commands,
// Status and Phase are safe to call from other goroutines.
type Coordinator struct {
	cfg     Config
	conn    link.Conn
	logger  *logging.Logger
	metrics *metrics.CoordinatorMetrics

	cmds chan command
	done chan struct{}

	phase        Phase
	phaseStarted time.Time
	tick         uint64

	// discovery
	seen   map[wire.ID]struct{}
	slots  []topology.Slot
	nextID wire.ID

	entityCount   int
	dir           *partition.Directory
	ledger        *barrier.Ledger
	balancer      *balance.Balancer
	rebalanced    bool
	rendererAcked bool

	snap atomic.Pointer[Status]
}

// New creates a coordinator that talks to the flock over conn.
func New(cfg Config, conn link.Conn) *Coordinator {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	c := &Coordinator{
		cfg:         cfg,
		conn:        conn,
		logger:      logger.WithRunID(cfg.RunID).With(map[string]any{"component": "coordinator"}),
		metrics:     cfg.Metrics,
		cmds:        make(chan command, 16),
		done:        make(chan struct{}),
		seen:        make(map[wire.ID]struct{}),
		nextID:      wire.FirstWorkerID,
		entityCount: cfg.EntityCount,
		ledger:      barrier.NewLedger(),
	}
	c.phaseStarted = time.Now()
	c.publishStatus()
	return c
}

// RunID returns the run id.
func (c *Coordinator) RunID() string { return c.cfg.RunID }

// Run processes messages and operator commands until ctx is done, the flock
// is killed, or the link closes. A kill returns nil.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	var discoveryTimer <-chan time.Time
	var timer *time.Timer
	if c.cfg.AutoDiscovery > 0 {
		c.startDiscovery()
		timer = time.NewTimer(c.cfg.AutoDiscovery)
		defer timer.Stop()
		discoveryTimer = timer.C
	}

	c.logger.Infof("coordinator running", map[string]any{
		"width":         c.cfg.Width,
		"height":        c.cfg.Height,
		"visionRadius":  c.cfg.VisionRadius,
		"loadBalancing": c.cfg.LoadBalancing,
		"awaitRenderer": c.cfg.AwaitRenderer,
	})

	for {
		var err error
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-discoveryTimer:
			err = c.endDiscovery()
			if c.phase == Discovery {
				timer.Reset(c.cfg.AutoDiscovery)
			} else {
				discoveryTimer = nil
			}
		case cmd := <-c.cmds:
			err = c.apply(cmd)
		case m, ok := <-c.conn.Recv():
			if !ok {
				return ErrLinkClosed
			}
			err = c.handle(m)
		}
		c.publishStatus()
		if err != nil {
			return err
		}
		if c.phase == Stopped {
			return nil
		}
	}
}

func (c *Coordinator) handle(m wire.Message) error {
	if m.To != wire.Coordinator && m.To != wire.Broadcast {
		return nil
	}
	m, fixed := m.Clamp()
	if fixed {
		c.logger.Warnf("clamped malformed message", map[string]any{"type": m.Type.String(), "from": uint32(m.From)})
	}

	switch m.Type {
	case wire.Ack:
		c.handleAck(m)
	case wire.PingReply:
		c.handlePingReply(m)
	case wire.StartDiscovery:
		c.startDiscovery()
	case wire.EndDiscovery:
		return c.endDiscovery()
	case wire.UserInfo:
		n, err := m.Arg(0)
		if err != nil {
			c.logger.Warnf("malformed user info", map[string]any{"error": err.Error()})
			return nil
		}
		return c.userInfo(int(n))
	case wire.LoadBalanceRequest:
		c.handleLoadBalanceRequest(m)
	case wire.MinimalBoundsReport:
		c.handleMinimalReport(m)
	case wire.Kill:
		c.kill()
	case wire.Ping, wire.Setup, wire.NeighborExchange, wire.PositionUpdate,
		wire.BoundaryTransfer, wire.LoadBalance, wire.Render:
		// our own broadcasts echoed back by a shared segment
	default:
		if !m.Type.Known() {
			c.logger.Warnf("unknown message type", map[string]any{"type": uint32(m.Type), "from": uint32(m.From)})
		}
	}
	return nil
}

func (c *Coordinator) send(m wire.Message) {
	if err := c.conn.Send(m); err != nil {
		c.logger.Warnf("send failed", map[string]any{
			"type":  m.Type.String(),
			"to":    uint32(m.To),
			"error": err.Error(),
		})
	}
}

func (c *Coordinator) broadcast(t wire.Type, body ...uint32) {
	c.send(wire.New(wire.Broadcast, wire.Coordinator, t, body...))
}

func (c *Coordinator) enter(p Phase) {
	c.phase = p
	c.phaseStarted = time.Now()
	if c.metrics != nil {
		c.metrics.EnterPhase(p.String(), int(p.StartType()))
	}
	if p.Barriered() {
		c.ledger.Reset(p.StartType())
		c.rendererAcked = false
	}
	c.logger.Debugf("entered phase", map[string]any{"phase": p.String(), "tick": c.tick})
}

func (c *Coordinator) startDiscovery() {
	switch c.phase {
	case Idle, Discovery:
	default:
		c.logger.Warnf("discovery requested after setup, ignoring", map[string]any{"phase": c.phase.String()})
		return
	}
	if c.phase == Idle {
		c.enter(Discovery)
	}
	c.logger.Info("discovery started, pinging")
	c.broadcast(wire.Ping)
}

func (c *Coordinator) handlePingReply(m wire.Message) {
	if c.phase != Discovery {
		c.logger.Debugf("ping reply outside discovery", map[string]any{"router": uint32(m.From)})
		return
	}
	if _, dup := c.seen[m.From]; dup {
		c.logger.Debugf("duplicate ping reply", map[string]any{"router": uint32(m.From)})
		return
	}
	hosted, err := m.Arg(0)
	if err != nil {
		c.logger.Warnf("malformed ping reply", map[string]any{"router": uint32(m.From), "error": err.Error()})
		return
	}
	c.seen[m.From] = struct{}{}
	if hosted == 0 {
		return
	}

	// A router only flips to configured once every one of its workers got a
	// setup record, so a partial grant would stall it. Refuse the whole reply.
	free := wire.MaxWorkers - int(c.nextID-wire.FirstWorkerID)
	if int64(hosted) > int64(free) {
		c.logger.Warnf("ping reply exceeds worker id space, router ignored", map[string]any{
			"router": uint32(m.From),
			"hosted": hosted,
			"free":   free,
		})
		return
	}
	for i := uint32(0); i < hosted; i++ {
		c.slots = append(c.slots, topology.Slot{ID: c.nextID, Router: m.From})
		c.nextID++
	}
	c.ledger.Add(m.From)
	c.logger.Infof("router discovered", map[string]any{"router": uint32(m.From), "workers": hosted})
}

func (c *Coordinator) endDiscovery() error {
	if c.phase != Discovery {
		return nil
	}
	if len(c.slots) == 0 {
		c.logger.Warn("discovery found no workers, searching again")
		c.broadcast(wire.Ping)
		return nil
	}
	if c.metrics != nil {
		c.metrics.SetTopology(len(c.slots), c.ledger.Len())
	}
	c.logger.Infof("discovery finished", map[string]any{"workers": len(c.slots), "routers": c.ledger.Len()})
	c.enter(AwaitingUserInfo)
	if c.entityCount > 0 {
		return c.userInfo(c.entityCount)
	}
	return nil
}

func (c *Coordinator) userInfo(n int) error {
	switch c.phase {
	case Idle, Discovery:
		// held until discovery ends
		c.entityCount = n
		return nil
	case AwaitingUserInfo:
	default:
		c.logger.Warnf("user info after setup, ignoring", map[string]any{"entities": n})
		return nil
	}
	c.entityCount = n
	c.send(wire.New(wire.Renderer, wire.Coordinator, wire.UserInfo, uint32(n)))
	return c.setup()
}

func (c *Coordinator) setup() error {
	dir, err := topology.Build(c.slots, topology.Options{
		Width:        c.cfg.Width,
		Height:       c.cfg.Height,
		VisionRadius: c.cfg.VisionRadius,
	})
	if err != nil {
		c.enter(Stopped)
		return fmt.Errorf("coordinator: setup: %w", err)
	}
	if err := dir.AssignShares(topology.Shares(c.entityCount, dir.Len())); err != nil {
		c.enter(Stopped)
		return fmt.Errorf("coordinator: setup: %w", err)
	}
	c.dir = dir
	c.balancer = balance.New(dir, c.ledger, balance.Config{
		VisionRadius:         c.cfg.VisionRadius,
		RespectMinimalBounds: c.cfg.RespectMinimalBounds,
		Logger:               c.logger,
	})

	c.enter(Setup)
	gw, gh := dir.Grid()
	c.logger.Infof("setting up", map[string]any{
		"grid":     fmt.Sprintf("%dx%d", gw, gh),
		"entities": c.entityCount,
	})
	c.publishSnapshot()

	for _, p := range dir.All() {
		rec := p.SetupRecord(dir.Width(), dir.Height())
		c.send(wire.New(p.Router, wire.Coordinator, wire.Setup, rec.Body()...))
	}
	return nil
}

func (c *Coordinator) handleAck(m wire.Message) {
	tag := m.Tag()
	if m.From == wire.Renderer {
		if c.phase == Render && tag == wire.Render && c.cfg.AwaitRenderer {
			c.rendererAcked = true
			c.maybeAdvance()
		}
		return
	}
	if !c.phase.Barriered() {
		c.logger.Debugf("ack outside a phase", map[string]any{"router": uint32(m.From), "tag": tag.String()})
		return
	}

	outcome := c.ledger.Record(m.From, tag)
	if c.metrics != nil {
		c.metrics.RecordAck(outcome.String())
	}
	switch outcome {
	case barrier.Counted:
		c.maybeAdvance()
	case barrier.AwaitingRebalance:
		c.logger.Infof("discarding plain ack from router awaiting rebalance", map[string]any{"router": uint32(m.From), "tag": tag.String()})
	default:
		c.logger.Debugf("ack not counted", map[string]any{
			"router":  uint32(m.From),
			"tag":     tag.String(),
			"outcome": outcome.String(),
			"phase":   c.phase.String(),
		})
	}
}

func (c *Coordinator) maybeAdvance() {
	if !c.ledger.Complete() {
		return
	}
	if c.phase == Render && c.cfg.AwaitRenderer && !c.rendererAcked {
		return
	}
	c.advance()
}

func (c *Coordinator) advance() {
	done := c.phase
	if c.metrics != nil {
		c.metrics.ObservePhase(done.String(), time.Since(c.phaseStarted).Seconds())
	}

	switch done {
	case LoadBalance:
		if c.rebalanced {
			c.rebalanced = false
			c.publishSnapshot()
		}
	case Render:
		c.tick++
		if c.metrics != nil {
			c.metrics.IncTick()
		}
		if c.cfg.Ticks > 0 && c.tick >= c.cfg.Ticks {
			c.logger.Infof("tick limit reached", map[string]any{"ticks": c.tick})
			c.kill()
			return
		}
	}

	next := done.next(c.cfg.LoadBalancing)
	c.enter(next)
	if next == LoadBalance {
		c.balancer.BeginPhase()
	}
	c.broadcast(next.StartType())
}

func (c *Coordinator) handleLoadBalanceRequest(m wire.Message) {
	if c.phase != LoadBalance {
		c.logger.Warnf("load balance request outside load balance phase", map[string]any{
			"partition": uint32(m.From),
			"phase":     c.phase.String(),
		})
		return
	}
	plan, err := c.balancer.Rebalance(m.From)
	if err != nil {
		c.logger.Warnf("load balance request rejected", map[string]any{"partition": uint32(m.From), "error": err.Error()})
		return
	}
	if c.metrics != nil {
		c.metrics.RecordRebalance(plan.Refused != nil)
	}
	if plan.Refused == nil {
		c.rebalanced = true
	}
	for _, inst := range plan.Instructions {
		c.send(wire.New(inst.Partition, wire.Coordinator, wire.LoadBalanceInstruction, inst.Body()...))
	}
}

func (c *Coordinator) handleMinimalReport(m wire.Message) {
	if c.dir == nil {
		return
	}
	kind, err := m.Arg(0)
	if err != nil {
		c.logger.Warnf("malformed minimal bounds report", map[string]any{"partition": uint32(m.From), "error": err.Error()})
		return
	}
	if err := c.dir.MarkMinimal(m.From, partition.MinimalKind(kind)); err != nil {
		c.logger.Warnf("minimal bounds report rejected", map[string]any{"partition": uint32(m.From), "error": err.Error()})
		return
	}
	c.logger.Debugf("partition at minimal bounds", map[string]any{"partition": uint32(m.From), "kind": kind})
}

func (c *Coordinator) kill() {
	c.broadcast(wire.Kill)
	c.logger.Infof("flock killed", map[string]any{"phase": c.phase.String(), "tick": c.tick})
	c.enter(Stopped)
}

func (c *Coordinator) publishSnapshot() {
	if c.cfg.Publisher == nil || c.dir == nil {
		return
	}
	s := registry.FromDirectory(c.cfg.RunID, c.tick, c.phase.String(), c.dir)
	if err := c.cfg.Publisher.Publish(context.Background(), s); err != nil {
		c.logger.Warnf("snapshot publish failed", map[string]any{"error": err.Error()})
	}
}
