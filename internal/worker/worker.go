// Package worker is the reference worker partition. It owns the entities
// inside its region and answers every coordinator phase over a single link
// to its router.
package worker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/flockd-io/flockd/internal/balance"
	"github.com/flockd-io/flockd/internal/link"
	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/partition"
	"github.com/flockd-io/flockd/internal/wire"
)

// ErrLinkClosed is returned by Run when the router link goes away before a
// Kill arrives.
var ErrLinkClosed = errors.New("worker: link closed")

const (
	// DefaultMaxSpeed caps entity speed in pixels per tick.
	DefaultMaxSpeed = 4
	// DefaultOverloadThreshold is the entity count above which a worker asks
	// for a rebalance.
	DefaultOverloadThreshold = 30
)

// Config configures a Worker.
type Config struct {
	VisionRadius      int
	OverloadThreshold int
	MaxSpeed          float64
	// Physics defaults to Boids over VisionRadius and MaxSpeed.
	Physics Physics
	Logger  *logging.Logger
}

// Snapshot is a point-in-time view of the worker.
type Snapshot struct {
	ID         wire.ID          `json:"id"`
	Configured bool             `json:"configured"`
	Region     partition.Region `json:"region"`
	Entities   int              `json:"entities"`
	Queued     int              `json:"queued"`
}

// exchange tracks one neighbour exchange. Replies may arrive before this
// worker sees the exchange broadcast, so they are collected regardless and
// the ACK goes out once both sides are complete.
type exchange struct {
	started    bool
	acked      bool
	done       map[wire.ID]bool
	candidates []wire.Entity
}

// Worker is driven by a single goroutine in Run.
type Worker struct {
	cfg     Config
	conn    link.Conn
	physics Physics
	logger  *logging.Logger

	id            wire.ID
	configured    bool
	region        partition.Region
	width, height int
	neighbors     [wire.NeighborSlots]wire.ID
	distinct      int

	entities []wire.Entity
	queued   []wire.Entity
	xchg     exchange

	snap atomic.Pointer[Snapshot]
}

// New creates an unconfigured worker talking to its router over conn.
func New(cfg Config, conn link.Conn) *Worker {
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = DefaultMaxSpeed
	}
	if cfg.OverloadThreshold <= 0 {
		cfg.OverloadThreshold = DefaultOverloadThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	w := &Worker{
		cfg:     cfg,
		conn:    conn,
		physics: cfg.Physics,
		logger:  logger.With(map[string]any{"component": "worker"}),
	}
	if w.physics == nil {
		w.physics = Boids{VisionRadius: float64(cfg.VisionRadius), MaxSpeed: cfg.MaxSpeed}
	}
	w.publish()
	return w
}

// Snapshot returns the latest published view. Safe for concurrent use.
func (w *Worker) Snapshot() Snapshot { return *w.snap.Load() }

func (w *Worker) publish() {
	w.snap.Store(&Snapshot{
		ID:         w.id,
		Configured: w.configured,
		Region:     w.region,
		Entities:   len(w.entities),
		Queued:     len(w.queued),
	})
}

// Run handles messages until Kill, ctx cancellation or link loss.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-w.conn.Recv():
			if !ok {
				return ErrLinkClosed
			}
			if stop := w.handle(m); stop {
				w.logger.Info("killed")
				return nil
			}
		}
	}
}

// accepts mirrors the router's filter at the worker: nothing from itself,
// and only traffic addressed to it, broadcast, or sent by a neighbour.
func (w *Worker) accepts(m wire.Message) bool {
	if !w.configured {
		return m.Type == wire.Setup || m.Type == wire.Kill
	}
	if m.From == w.id {
		return false
	}
	return m.To == w.id || m.To == wire.Broadcast || w.isNeighbor(m.From)
}

func (w *Worker) handle(m wire.Message) bool {
	if !w.accepts(m) {
		return false
	}
	switch m.Type {
	case wire.Setup:
		w.handleSetup(m)
	case wire.NeighborExchange:
		w.startExchange()
	case wire.NeighborReply:
		w.handleReply(m)
	case wire.PositionUpdate:
		w.step()
	case wire.BoundaryTransfer:
		w.transferEscaped()
	case wire.EntityTransfer:
		w.acceptTransfer(m)
	case wire.LoadBalance:
		w.evaluateLoad()
	case wire.LoadBalanceInstruction:
		w.applyInstruction(m)
	case wire.Render:
		w.render()
	case wire.Kill:
		return true
	default:
		w.logger.Debugf("ignored message", map[string]any{"msg": m.String()})
	}
	w.publish()
	return false
}

func (w *Worker) handleSetup(m wire.Message) {
	rec, err := wire.DecodeSetup(m.Body)
	if err != nil {
		w.logger.Warnf("malformed setup record", map[string]any{"error": err.Error()})
		return
	}
	w.id = rec.ID
	w.region = partition.Region{XMin: int(rec.XMin), YMin: int(rec.YMin), XMax: int(rec.XMax), YMax: int(rec.YMax)}
	w.width, w.height = int(rec.Width), int(rec.Height)
	w.neighbors = rec.Neighbors
	w.distinct = int(rec.DistinctNeighbors)
	w.entities = seed(rec)
	w.queued = nil
	w.xchg = exchange{}
	w.configured = true
	w.logger = w.logger.With(map[string]any{"partition": uint32(w.id)})

	w.logger.Infof("partition configured", map[string]any{
		"region":    w.region.String(),
		"entities":  len(w.entities),
		"neighbors": w.distinct,
	})
	w.ack(wire.Setup)
}

// seed spreads the initial population along the region's diagonal. Ids are
// unique across the flock given that every partition but the last holds
// the same share.
func seed(rec wire.SetupRecord) []wire.Entity {
	n := int(rec.Population)
	if n == 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(int64(rec.ID)))
	stepX := float64(rec.XMax-rec.XMin) / float64(n)
	stepY := float64(rec.YMax-rec.YMin) / float64(n)
	base := uint32(rec.ID-wire.FirstWorkerID) * rec.Population

	out := make([]wire.Entity, n)
	for i := range out {
		angle := rng.Float64() * 2 * math.Pi
		speed := 1 + rng.Float64()*(DefaultMaxSpeed-1)
		out[i] = wire.Entity{
			ID: base + uint32(i) + 1,
			X:  float64(rec.XMin) + stepX*float64(i) + 1,
			Y:  float64(rec.YMin) + stepY*float64(i) + 1,
			VX: speed * math.Cos(angle),
			VY: speed * math.Sin(angle),
		}
	}
	return out
}

func (w *Worker) startExchange() {
	w.xchg.started = true
	if w.distinct > 0 {
		for _, body := range wire.PackEntities(w.entities) {
			w.send(wire.New(wire.Multicast, w.id, wire.NeighborReply, body...))
		}
	}
	w.finishExchange()
}

func (w *Worker) handleReply(m wire.Message) {
	remaining, ents, err := wire.UnpackEntities(m.Body)
	if err != nil {
		w.logger.Warnf("malformed neighbour reply", map[string]any{"from": uint32(m.From), "error": err.Error()})
		return
	}
	w.xchg.candidates = append(w.xchg.candidates, ents...)
	if remaining == 0 {
		if w.xchg.done == nil {
			w.xchg.done = make(map[wire.ID]bool)
		}
		w.xchg.done[m.From] = true
	}
	w.finishExchange()
}

func (w *Worker) finishExchange() {
	if !w.xchg.started || w.xchg.acked || len(w.xchg.done) < w.distinct {
		return
	}
	w.xchg.acked = true
	w.ack(wire.NeighborExchange)
}

// step runs physics against the candidates of the last exchange, wraps
// positions around the simulation area and starts a fresh exchange.
func (w *Worker) step() {
	candidates := make([]wire.Entity, 0, len(w.entities)+len(w.xchg.candidates))
	candidates = append(candidates, w.entities...)
	candidates = append(candidates, w.xchg.candidates...)
	w.physics.Step(w.entities, candidates)
	for i := range w.entities {
		w.entities[i].X = wrap(w.entities[i].X, float64(w.width))
		w.entities[i].Y = wrap(w.entities[i].Y, float64(w.height))
	}
	w.xchg = exchange{}
	w.ack(wire.PositionUpdate)
}

// transferEscaped hands every entity outside the region to the neighbour
// on the side it left through. Entities whose neighbour is this partition
// itself stay.
func (w *Worker) transferEscaped() {
	kept := w.entities[:0]
	sent := 0
	for _, e := range w.entities {
		to := w.owner(e)
		if to == w.id || to == 0 {
			kept = append(kept, e)
			continue
		}
		w.send(wire.New(to, w.id, wire.EntityTransfer, wire.TransferBody(e)...))
		sent++
	}
	w.entities = kept
	if sent > 0 {
		w.logger.Debugf("transferred entities", map[string]any{"count": sent})
	}
	w.ack(wire.BoundaryTransfer)
}

// owner returns the neighbour in the direction e escaped, or this worker's
// id when it is still inside.
func (w *Worker) owner(e wire.Entity) wire.ID {
	dx := side(e.X, float64(w.region.XMin), float64(w.region.XMax), float64(w.width))
	dy := side(e.Y, float64(w.region.YMin), float64(w.region.YMax), float64(w.height))
	var slot int
	switch {
	case dx == 0 && dy == 0:
		return w.id
	case dx == 0 && dy < 0:
		slot = wire.North
	case dx > 0 && dy < 0:
		slot = wire.NorthEast
	case dx > 0 && dy == 0:
		slot = wire.East
	case dx > 0 && dy > 0:
		slot = wire.SouthEast
	case dx == 0 && dy > 0:
		slot = wire.South
	case dx < 0 && dy > 0:
		slot = wire.SouthWest
	case dx < 0 && dy == 0:
		slot = wire.West
	default:
		slot = wire.NorthWest
	}
	return w.neighbors[slot]
}

// side reports whether v lies before (-1), inside (0) or after (+1) the
// span [lo, hi) on a wrapping axis of the given size, taking the shorter
// way round.
func side(v, lo, hi, size float64) int {
	if v >= lo && v < hi {
		return 0
	}
	before := lo - v
	if before < 0 {
		before += size
	}
	after := v - hi
	if after < 0 {
		after += size
	}
	if before <= after {
		return -1
	}
	return 1
}

// acceptTransfer queues an incoming entity. Queued entities join the
// population at the next render, once every neighbour has finished sending.
func (w *Worker) acceptTransfer(m wire.Message) {
	e, err := wire.DecodeTransfer(m.Body)
	if err != nil {
		w.logger.Warnf("malformed entity transfer", map[string]any{"from": uint32(m.From), "error": err.Error()})
		return
	}
	w.queued = append(w.queued, e)
}

func (w *Worker) evaluateLoad() {
	if len(w.entities) > w.cfg.OverloadThreshold {
		w.logger.Infof("overloaded, requesting rebalance", map[string]any{
			"entities":  len(w.entities),
			"threshold": w.cfg.OverloadThreshold,
		})
		w.send(wire.New(wire.Coordinator, w.id, wire.LoadBalanceRequest))
		return
	}
	w.ack(wire.LoadBalance)
}

func (w *Worker) applyInstruction(m wire.Message) {
	v, err := m.Arg(0)
	if err != nil {
		w.logger.Warnf("malformed load balance instruction", map[string]any{"error": err.Error()})
		return
	}
	d := balance.Unpack(uint16(v))
	before := w.region
	w.region = balance.Apply(w.region, d, w.cfg.VisionRadius)
	if !d.Zero() {
		w.logger.Infof("region changed", map[string]any{
			"from":  before.String(),
			"to":    w.region.String(),
			"delta": d.String(),
		})
	}

	minW := w.region.Width() <= w.cfg.VisionRadius
	minH := w.region.Height() <= w.cfg.VisionRadius
	switch {
	case minW && minH:
		w.reportMinimal(partition.MinimalBoth)
	case minW:
		w.reportMinimal(partition.MinimalWidthOnly)
	case minH:
		w.reportMinimal(partition.MinimalHeightOnly)
	}
	w.ack(wire.LoadBalanceInstruction)
}

func (w *Worker) reportMinimal(kind partition.MinimalKind) {
	w.send(wire.New(wire.Coordinator, w.id, wire.MinimalBoundsReport, uint32(kind)))
}

func (w *Worker) render() {
	if len(w.queued) > 0 {
		w.entities = append(w.entities, w.queued...)
		w.queued = nil
	}
	for _, body := range wire.PackEntities(w.entities) {
		w.send(wire.New(wire.Renderer, w.id, wire.RenderData, body...))
	}
	w.ack(wire.Render)
}

func (w *Worker) ack(tag wire.Type) {
	w.send(wire.NewAck(w.id, tag))
}

func (w *Worker) send(m wire.Message) {
	if err := w.conn.Send(m); err != nil {
		w.logger.Warnf("send failed", map[string]any{"msg": m.String(), "error": err.Error()})
	}
}

func (w *Worker) isNeighbor(id wire.ID) bool {
	if id.Reserved() {
		return false
	}
	for _, n := range w.neighbors {
		if n == id {
			return true
		}
	}
	return false
}
