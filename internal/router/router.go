// Package router implements the per-host switch between local endpoints and
// the shared network segment.
//
// A router owns a fixed number of worker slots. Before setup it answers
// discovery pings and hands each setup record addressed to it to the next
// free slot. Once every slot has an id it routes traffic between local
// workers, optionally hosted coordinator and renderer endpoints, and the
// upstream link, and folds its workers' phase ACKs into one ACK per phase.
package router

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/flockd-io/flockd/internal/link"
	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/metrics"
	"github.com/flockd-io/flockd/internal/wire"
	"golang.org/x/exp/slices"
)

// ErrUpstreamClosed is returned by Run when the upstream link goes down.
var ErrUpstreamClosed = errors.New("router: upstream link closed")

// Config configures a Router.
type Config struct {
	ID      wire.ID
	Logger  *logging.Logger
	Metrics *metrics.RouterMetrics
}

// Ports are the links a router switches between. Upstream, Coordinator and
// Renderer may be nil.
type Ports struct {
	Upstream    link.Conn
	Workers     []link.Conn
	Coordinator link.Conn
	Renderer    link.Conn
}

type sourceKind int

const (
	fromUpstream sourceKind = iota
	fromWorker
	fromCoordinator
	fromRenderer
	// fromSelf marks messages the router originates.
	fromSelf
)

type source struct {
	kind sourceKind
	slot int
}

func (s source) local() bool { return s.kind != fromUpstream }

type slot struct {
	id   wire.ID
	conn link.Conn
}

// Snapshot is a point-in-time view of the router for status reporting.
type Snapshot struct {
	ID         wire.ID   `json:"id"`
	Configured bool      `json:"configured"`
	Slots      []wire.ID `json:"slots"`
	Neighbors  []wire.ID `json:"neighbors"`
}

// Router is a single-goroutine event loop; only Snapshot and Configured are
// safe to call from other goroutines.
type Router struct {
	id      wire.ID
	logger  *logging.Logger
	metrics *metrics.RouterMetrics

	upstream    link.Conn
	coordinator link.Conn
	renderer    link.Conn
	slots       []slot

	filled     int
	configured bool
	neighbors  []wire.ID
	agg        aggregator

	snap atomic.Pointer[Snapshot]
}

// New creates a router with one slot per worker link.
func New(cfg Config, ports Ports) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	r := &Router{
		id:          cfg.ID,
		logger:      logger.With(map[string]any{"component": "router", "router": uint32(cfg.ID)}),
		metrics:     cfg.Metrics,
		upstream:    ports.Upstream,
		coordinator: ports.Coordinator,
		renderer:    ports.Renderer,
		slots:       make([]slot, len(ports.Workers)),
	}
	for i, c := range ports.Workers {
		r.slots[i].conn = c
	}
	r.publish()
	return r
}

// ID returns the router id.
func (r *Router) ID() wire.ID { return r.id }

// Configured reports whether every slot has received its setup record.
func (r *Router) Configured() bool { return r.snap.Load().Configured }

// Snapshot returns the latest published view of the router.
func (r *Router) Snapshot() Snapshot { return *r.snap.Load() }

func (r *Router) publish() {
	s := &Snapshot{
		ID:         r.id,
		Configured: r.configured,
		Slots:      make([]wire.ID, 0, len(r.slots)),
		Neighbors:  slices.Clone(r.neighbors),
	}
	for _, sl := range r.slots {
		s.Slots = append(s.Slots, sl.id)
	}
	r.snap.Store(s)
}

type event struct {
	src source
	m   wire.Message
	eof bool
}

// Run switches messages until ctx is done, a Kill has been forwarded, or the
// upstream link closes.
func (r *Router) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan event)
	pump := func(src source, c link.Conn) {
		for {
			select {
			case m, ok := <-c.Recv():
				if !ok {
					select {
					case events <- event{src: src, eof: true}:
					case <-ctx.Done():
					}
					return
				}
				select {
				case events <- event{src: src, m: m}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
	if r.upstream != nil {
		go pump(source{kind: fromUpstream}, r.upstream)
	}
	for i, sl := range r.slots {
		go pump(source{kind: fromWorker, slot: i}, sl.conn)
	}
	if r.coordinator != nil {
		go pump(source{kind: fromCoordinator}, r.coordinator)
	}
	if r.renderer != nil {
		go pump(source{kind: fromRenderer}, r.renderer)
	}

	r.logger.Infof("router running", map[string]any{"slots": len(r.slots)})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if ev.eof {
				if ev.src.kind == fromUpstream {
					return ErrUpstreamClosed
				}
				r.logger.Warnf("local link closed", map[string]any{"source": r.describe(ev.src)})
				continue
			}
			if stop := r.handle(ev.src, ev.m); stop {
				r.logger.Info("kill forwarded, router stopping")
				return nil
			}
		}
	}
}

// handle processes one message from src and reports whether the router
// should stop.
func (r *Router) handle(src source, m wire.Message) bool {
	if !m.Type.Known() {
		r.logger.Warnf("unknown message type", map[string]any{"msg": m.String(), "source": r.describe(src)})
		r.drop(metrics.DropUnknownType)
		return false
	}
	if !src.local() && !r.relevant(m) {
		r.drop(metrics.DropIrrelevant)
		return false
	}

	switch m.Type {
	case wire.Ping:
		r.handlePing(src, m)
		return false
	case wire.Setup:
		if m.To == r.id {
			r.handleSetup(m)
			return false
		}
		if !src.local() {
			r.drop(metrics.DropNoRecipient)
			return false
		}
	case wire.Ack:
		if src.kind == fromWorker && m.To == wire.Coordinator {
			r.handleWorkerAck(src.slot, m)
			return false
		}
	case wire.LoadBalanceInstruction:
		if r.isLocalWorker(m.To) {
			r.agg.markAffected(m.To)
		}
	case wire.Kill:
		r.route(src, m)
		return true
	}

	if m.From == wire.Coordinator && m.Type.PhaseStart() {
		r.agg.reset(m.Type)
	}
	r.route(src, m)
	return false
}

// relevant applies the filter for traffic arriving from upstream.
func (r *Router) relevant(m wire.Message) bool {
	switch {
	case m.From == wire.Coordinator:
		return true
	case m.To == wire.Broadcast:
		return true
	case m.To == r.id:
		return true
	case r.isLocalWorker(m.To):
		return true
	case r.isNeighbor(m.From):
		return true
	case m.To == wire.Coordinator && r.coordinator != nil:
		return true
	case m.To == wire.Renderer && r.renderer != nil:
		return true
	}
	return false
}

func (r *Router) handlePing(src source, m wire.Message) {
	reply := wire.New(wire.Coordinator, r.id, wire.PingReply, uint32(len(r.slots)))
	r.route(source{kind: fromSelf}, reply)
	if src.local() {
		r.sendUpstream(m)
	}
	r.logger.Debugf("answered ping", map[string]any{"workers": len(r.slots)})
}

func (r *Router) handleSetup(m wire.Message) {
	if r.filled >= len(r.slots) {
		r.logger.Warnf("setup record with no free slot", map[string]any{"msg": m.String()})
		r.drop(metrics.DropNoRecipient)
		return
	}
	rec, err := wire.DecodeSetup(m.Body)
	if err != nil {
		r.logger.Warnf("malformed setup record", map[string]any{"error": err.Error()})
		r.drop(metrics.DropMalformed)
		return
	}

	// Workers acknowledge their setup record; count those ACKs as a phase.
	if r.agg.phase != wire.Setup {
		r.agg.reset(wire.Setup)
	}

	i := r.filled
	r.slots[i].id = rec.ID
	r.filled++
	for _, n := range rec.Neighbors {
		if n != rec.ID && !slices.Contains(r.neighbors, n) {
			r.neighbors = append(r.neighbors, n)
		}
	}
	// A partition may list a co-hosted partition as a neighbour; those are
	// routed as local workers, not neighbours.
	r.neighbors = slices.DeleteFunc(r.neighbors, r.isLocalWorker)

	r.sendLocal(r.slots[i].conn, wire.New(rec.ID, m.From, wire.Setup, m.Body...))
	if r.filled == len(r.slots) {
		r.configured = true
		r.logger.Infof("router configured", map[string]any{"neighbors": len(r.neighbors)})
	}
	r.publish()
}

func (r *Router) handleWorkerAck(slotIdx int, m wire.Message) {
	w := r.slots[slotIdx].id
	if w == 0 {
		r.logger.Warnf("ack from unconfigured slot", map[string]any{"slot": slotIdx})
		return
	}
	if !r.agg.record(w, m.Tag()) {
		r.logger.Debugf("ack not counted", map[string]any{
			"worker": uint32(w),
			"tag":    m.Tag().String(),
			"phase":  r.agg.phase.String(),
		})
	}
	if !r.configured {
		return
	}
	if emit, ready := r.agg.ready(r.workerIDs()); ready {
		r.route(source{kind: fromSelf}, wire.NewAck(r.id, emit))
		if r.metrics != nil {
			r.metrics.RecordAggregatedAck(uint32(r.id), emit.String())
		}
		r.logger.Debugf("aggregated ack", map[string]any{"tag": emit.String()})
	}
}

// route delivers m according to its destination. Traffic from upstream is
// never sent back upstream.
func (r *Router) route(src source, m wire.Message) {
	switch m.To {
	case wire.Broadcast:
		for i, sl := range r.slots {
			if src.kind == fromWorker && src.slot == i {
				continue
			}
			r.sendLocal(sl.conn, m)
		}
		if r.coordinator != nil && src.kind != fromCoordinator {
			r.sendLocal(r.coordinator, m)
		}
		if r.renderer != nil && src.kind != fromRenderer {
			r.sendLocal(r.renderer, m)
		}
		if src.local() {
			r.sendUpstream(m)
		}
	case wire.Multicast:
		for i, sl := range r.slots {
			if sl.id == 0 || sl.id == m.From || (src.kind == fromWorker && src.slot == i) {
				continue
			}
			r.sendLocal(sl.conn, m)
		}
		if src.local() {
			r.sendUpstream(m)
		}
	default:
		switch {
		case m.To == wire.Coordinator && r.coordinator != nil:
			r.sendLocal(r.coordinator, m)
		case m.To == wire.Renderer && r.renderer != nil:
			r.sendLocal(r.renderer, m)
		case r.isLocalWorker(m.To):
			r.sendLocal(r.slots[r.slotOf(m.To)].conn, m)
		case src.local() && r.upstream != nil:
			r.sendUpstream(m)
		default:
			r.drop(metrics.DropNoRecipient)
		}
	}
}

func (r *Router) sendLocal(c link.Conn, m wire.Message) {
	r.send(c, m, metrics.DirectionInternal)
}

func (r *Router) sendUpstream(m wire.Message) {
	if r.upstream == nil {
		return
	}
	r.send(r.upstream, m, metrics.DirectionExternal)
}

func (r *Router) send(c link.Conn, m wire.Message, direction string) {
	if err := c.Send(m); err != nil {
		r.logger.Warnf("send failed", map[string]any{
			"msg":       m.String(),
			"direction": direction,
			"error":     err.Error(),
		})
		if errors.Is(err, link.ErrBufferFull) {
			r.drop(metrics.DropBufferFull)
		}
		return
	}
	if r.metrics != nil {
		r.metrics.RecordRouted(uint32(r.id), direction)
	}
}

func (r *Router) drop(reason string) {
	if r.metrics != nil {
		r.metrics.RecordDropped(uint32(r.id), reason)
	}
}

func (r *Router) slotOf(id wire.ID) int {
	if id == 0 {
		return -1
	}
	return slices.IndexFunc(r.slots, func(s slot) bool { return s.id == id })
}

func (r *Router) isLocalWorker(id wire.ID) bool {
	return !id.Reserved() && r.slotOf(id) >= 0
}

func (r *Router) isNeighbor(id wire.ID) bool {
	return slices.Contains(r.neighbors, id)
}

func (r *Router) workerIDs() []wire.ID {
	ids := make([]wire.ID, 0, len(r.slots))
	for _, s := range r.slots {
		if s.id != 0 {
			ids = append(ids, s.id)
		}
	}
	return ids
}

func (r *Router) describe(src source) string {
	switch src.kind {
	case fromUpstream:
		return "upstream"
	case fromCoordinator:
		return "coordinator"
	case fromRenderer:
		return "renderer"
	case fromSelf:
		return "self"
	}
	if src.slot >= 0 && src.slot < len(r.slots) && r.slots[src.slot].id != 0 {
		return r.slots[src.slot].id.String()
	}
	return "slot"
}
