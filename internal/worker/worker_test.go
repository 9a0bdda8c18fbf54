package worker

import (
	"context"
	"testing"
	"time"

	"github.com/flockd-io/flockd/internal/balance"
	"github.com/flockd-io/flockd/internal/link"
	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/partition"
	"github.com/flockd-io/flockd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const routerID wire.ID = 40

// grid2x2 is partition 3's view of a 2x2 grid over 1280x720: 4 to the east
// and west, 5 to the north and south, 6 on every diagonal.
var grid2x2 = [wire.NeighborSlots]wire.ID{5, 6, 4, 6, 5, 6, 4, 6}

func newWorker(t *testing.T, cfg Config) (*Worker, link.Conn) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.VisionRadius == 0 {
		cfg.VisionRadius = 20
	}
	local, router := link.Pipe(256)
	return New(cfg, local), router
}

func setupMsg(id wire.ID, population uint32, r partition.Region, neighbors [wire.NeighborSlots]wire.ID) wire.Message {
	distinct := map[wire.ID]bool{}
	for _, n := range neighbors {
		if n != id {
			distinct[n] = true
		}
	}
	rec := wire.SetupRecord{
		ID:                id,
		Population:        population,
		XMin:              uint32(r.XMin),
		YMin:              uint32(r.YMin),
		XMax:              uint32(r.XMax),
		YMax:              uint32(r.YMax),
		DistinctNeighbors: uint32(len(distinct)),
		Neighbors:         neighbors,
		Width:             1280,
		Height:            720,
	}
	return wire.New(id, routerID, wire.Setup, rec.Body()...)
}

func phase(t wire.Type) wire.Message {
	return wire.New(wire.Broadcast, wire.Coordinator, t)
}

func drain(c link.Conn) []wire.Message {
	var out []wire.Message
	for {
		select {
		case m := <-c.Recv():
			out = append(out, m)
		default:
			return out
		}
	}
}

func acks(msgs []wire.Message) []wire.Type {
	var out []wire.Type
	for _, m := range msgs {
		if m.Type == wire.Ack {
			out = append(out, m.Tag())
		}
	}
	return out
}

func ofType(msgs []wire.Message, t wire.Type) []wire.Message {
	var out []wire.Message
	for _, m := range msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// configured returns partition 3 of a 2x2 grid with the given population.
func configured(t *testing.T, cfg Config, population uint32) (*Worker, link.Conn) {
	t.Helper()
	w, router := newWorker(t, cfg)
	w.handle(setupMsg(3, population, partition.Region{XMax: 640, YMax: 360}, grid2x2))
	require.True(t, w.Snapshot().Configured)
	drain(router)
	return w, router
}

func TestSetupSeedsAndAcks(t *testing.T) {
	w, router := newWorker(t, Config{})

	// Nothing but setup is accepted before configuration.
	w.handle(phase(wire.PositionUpdate))
	assert.Empty(t, drain(router))

	w.handle(setupMsg(4, 25, partition.Region{XMin: 640, XMax: 1280, YMax: 360}, grid2x2))
	out := drain(router)
	require.Len(t, out, 1)
	assert.Equal(t, wire.Ack, out[0].Type)
	assert.Equal(t, wire.ID(4), out[0].From)
	assert.Equal(t, wire.Setup, out[0].Tag())

	snap := w.Snapshot()
	assert.Equal(t, wire.ID(4), snap.ID)
	assert.Equal(t, 25, snap.Entities)
	assert.Equal(t, partition.Region{XMin: 640, XMax: 1280, YMax: 360}, snap.Region)

	seen := map[uint32]bool{}
	for _, e := range w.entities {
		assert.True(t, snap.Region.Contains(e.X, e.Y), "entity %d seeded outside region", e.ID)
		assert.False(t, seen[e.ID])
		seen[e.ID] = true
		assert.LessOrEqual(t, e.ID, uint32(50))
		assert.Greater(t, e.ID, uint32(25))
	}
}

func TestNeighborExchange(t *testing.T) {
	w, router := configured(t, Config{}, 12)

	w.handle(phase(wire.NeighborExchange))
	out := drain(router)
	replies := ofType(out, wire.NeighborReply)
	require.Len(t, replies, 2, "12 entities need two chunks")
	assert.Equal(t, wire.Multicast, replies[0].To)
	assert.Equal(t, uint32(1), replies[0].Body[0])
	assert.Equal(t, uint32(0), replies[1].Body[0])
	assert.Empty(t, acks(out))

	one := wire.PackEntities([]wire.Entity{{ID: 900, X: 700, Y: 10}})
	w.handle(wire.New(wire.Multicast, 4, wire.NeighborReply, one[0]...))
	w.handle(wire.New(wire.Multicast, 5, wire.NeighborReply, 1, wire.PackPair(1, 400), 0, 901))
	assert.Empty(t, acks(drain(router)), "5 still has a chunk to send")

	w.handle(wire.New(wire.Multicast, 5, wire.NeighborReply, one[0]...))
	assert.Empty(t, acks(drain(router)), "6 has not replied")

	w.handle(wire.New(wire.Multicast, 6, wire.NeighborReply, 0))
	assert.Equal(t, []wire.Type{wire.NeighborExchange}, acks(drain(router)))
	assert.Len(t, w.xchg.candidates, 3)

	// Late duplicates do not produce a second ACK.
	w.handle(wire.New(wire.Multicast, 6, wire.NeighborReply, 0))
	assert.Empty(t, drain(router))
}

func TestRepliesBeforeExchangeBroadcast(t *testing.T) {
	w, router := configured(t, Config{}, 3)

	for _, from := range []wire.ID{4, 5, 6} {
		w.handle(wire.New(wire.Multicast, from, wire.NeighborReply, 0))
	}
	assert.Empty(t, drain(router))

	w.handle(phase(wire.NeighborExchange))
	assert.Equal(t, []wire.Type{wire.NeighborExchange}, acks(drain(router)))
}

func TestSinglePartitionExchangeAcksAtOnce(t *testing.T) {
	w, router := newWorker(t, Config{})
	var self [wire.NeighborSlots]wire.ID
	for i := range self {
		self[i] = 3
	}
	w.handle(setupMsg(3, 10, partition.Region{XMax: 1280, YMax: 720}, self))
	drain(router)

	w.handle(phase(wire.NeighborExchange))
	out := drain(router)
	assert.Empty(t, ofType(out, wire.NeighborReply))
	assert.Equal(t, []wire.Type{wire.NeighborExchange}, acks(out))
}

func TestPositionUpdateWraps(t *testing.T) {
	var seen int
	move := PhysicsFunc(func(entities, candidates []wire.Entity) {
		seen = len(candidates)
		for i := range entities {
			entities[i].X -= 700
			entities[i].Y += 800
		}
	})
	w, router := configured(t, Config{Physics: move}, 2)
	w.xchg.candidates = []wire.Entity{{ID: 77}}

	w.handle(phase(wire.PositionUpdate))
	assert.Equal(t, []wire.Type{wire.PositionUpdate}, acks(drain(router)))
	assert.Equal(t, 3, seen, "own entities plus exchanged candidates")
	for _, e := range w.entities {
		assert.GreaterOrEqual(t, e.X, 0.0)
		assert.Less(t, e.X, 1280.0)
		assert.GreaterOrEqual(t, e.Y, 0.0)
		assert.Less(t, e.Y, 720.0)
	}
	assert.Empty(t, w.xchg.candidates, "exchange state cleared for the next tick")
}

func TestBoundaryTransfer(t *testing.T) {
	w, router := configured(t, Config{}, 0)
	w.entities = []wire.Entity{
		{ID: 1, X: 100, Y: 100},  // inside
		{ID: 2, X: 650, Y: 100},  // east
		{ID: 3, X: 100, Y: 365},  // south
		{ID: 4, X: 1275, Y: 100}, // wrapped west
		{ID: 5, X: 650, Y: 715},  // wrapped north-east
	}

	w.handle(phase(wire.BoundaryTransfer))
	out := drain(router)
	assert.Equal(t, []wire.Type{wire.BoundaryTransfer}, acks(out))

	got := map[uint32]wire.ID{}
	for _, m := range ofType(out, wire.EntityTransfer) {
		e, err := wire.DecodeTransfer(m.Body)
		require.NoError(t, err)
		got[e.ID] = m.To
	}
	assert.Equal(t, map[uint32]wire.ID{2: 4, 3: 5, 4: 4, 5: 6}, got)
	require.Len(t, w.entities, 1)
	assert.Equal(t, uint32(1), w.entities[0].ID)
}

func TestTransfersCommittedAtRender(t *testing.T) {
	w, router := configured(t, Config{}, 1)
	in := wire.Entity{ID: 300, X: 630, Y: 20, VX: 1.5, VY: -2}
	w.handle(wire.New(3, 4, wire.EntityTransfer, wire.TransferBody(in)...))
	assert.Equal(t, 1, w.Snapshot().Queued)
	assert.Equal(t, 1, w.Snapshot().Entities)

	w.handle(phase(wire.Render))
	out := drain(router)
	assert.Equal(t, []wire.Type{wire.Render}, acks(out))

	frames := ofType(out, wire.RenderData)
	require.Len(t, frames, 1)
	assert.Equal(t, wire.Renderer, frames[0].To)
	remaining, ents, err := wire.UnpackEntities(frames[0].Body)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), remaining)
	require.Len(t, ents, 2)
	assert.Equal(t, in, ents[1])
	assert.Equal(t, 2, w.Snapshot().Entities)
	assert.Zero(t, w.Snapshot().Queued)
}

func TestRenderChunksLargePopulation(t *testing.T) {
	w, router := configured(t, Config{}, 25)
	w.handle(phase(wire.Render))
	frames := ofType(drain(router), wire.RenderData)
	require.Len(t, frames, 3)
	total := 0
	for i, f := range frames {
		remaining, ents, err := wire.UnpackEntities(f.Body)
		require.NoError(t, err)
		assert.Equal(t, uint32(len(frames)-i-1), remaining)
		assert.LessOrEqual(t, len(f.Body), wire.MaxBodyLen)
		total += len(ents)
	}
	assert.Equal(t, 25, total)
}

func TestEvaluateLoad(t *testing.T) {
	w, router := configured(t, Config{OverloadThreshold: 10}, 10)
	w.handle(phase(wire.LoadBalance))
	assert.Equal(t, []wire.Type{wire.LoadBalance}, acks(drain(router)))

	w.entities = append(w.entities, wire.Entity{ID: 999, X: 5, Y: 5})
	w.handle(phase(wire.LoadBalance))
	out := drain(router)
	assert.Empty(t, acks(out))
	req := ofType(out, wire.LoadBalanceRequest)
	require.Len(t, req, 1)
	assert.Equal(t, wire.Coordinator, req[0].To)
	assert.Equal(t, wire.ID(3), req[0].From)
}

func TestApplyInstruction(t *testing.T) {
	w, router := configured(t, Config{}, 0)
	d := balance.EdgeDelta{E: -1, S: -1}
	w.handle(wire.New(3, wire.Coordinator, wire.LoadBalanceInstruction, uint32(balance.Pack(d))))

	out := drain(router)
	assert.Equal(t, []wire.Type{wire.LoadBalanceInstruction}, acks(out))
	assert.Empty(t, ofType(out, wire.MinimalBoundsReport))
	assert.Equal(t, partition.Region{XMax: 620, YMax: 340}, w.Snapshot().Region)
}

func TestApplyInstructionReportsMinimal(t *testing.T) {
	cases := []struct {
		name   string
		region partition.Region
		delta  balance.EdgeDelta
		kind   partition.MinimalKind
	}{
		{"width", partition.Region{XMax: 40, YMax: 360}, balance.EdgeDelta{E: -1}, partition.MinimalWidthOnly},
		{"height", partition.Region{XMax: 640, YMax: 40}, balance.EdgeDelta{S: -1}, partition.MinimalHeightOnly},
		{"both", partition.Region{XMax: 40, YMax: 40}, balance.EdgeDelta{E: -1, S: -1}, partition.MinimalBoth},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, router := newWorker(t, Config{})
			w.handle(setupMsg(3, 0, tc.region, grid2x2))
			drain(router)

			w.handle(wire.New(3, wire.Coordinator, wire.LoadBalanceInstruction, uint32(balance.Pack(tc.delta))))
			out := drain(router)
			rep := ofType(out, wire.MinimalBoundsReport)
			require.Len(t, rep, 1)
			assert.Equal(t, []uint32{uint32(tc.kind)}, rep[0].Body)
			assert.Equal(t, []wire.Type{wire.LoadBalanceInstruction}, acks(out))
		})
	}
}

func TestIgnoresForeignTraffic(t *testing.T) {
	w, router := configured(t, Config{}, 2)

	// From itself, and from a non-neighbour to someone else.
	w.handle(wire.New(wire.Broadcast, 3, wire.Render))
	w.handle(wire.New(wire.Multicast, 9, wire.NeighborReply, 0))
	w.handle(wire.New(7, wire.Coordinator, wire.LoadBalanceInstruction, 0))
	assert.Empty(t, drain(router))
	assert.Empty(t, w.xchg.done)
}

func TestRunStopsOnKill(t *testing.T) {
	w, router := configured(t, Config{}, 1)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.NoError(t, router.Send(phase(wire.Kill)))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRunReturnsOnLinkClose(t *testing.T) {
	w, router := newWorker(t, Config{})
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.NoError(t, router.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrLinkClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestBoidsSteersAndCapsSpeed(t *testing.T) {
	b := Boids{VisionRadius: 20, MaxSpeed: 4}
	ents := []wire.Entity{
		{ID: 1, X: 100, Y: 100, VX: 10, VY: 0},
		{ID: 2, X: 500, Y: 500, VX: 1, VY: 0},
	}
	cands := append([]wire.Entity{{ID: 3, X: 105, Y: 100, VX: 0, VY: 3}}, ents...)
	b.Step(ents, cands)

	v := vec{ents[0].VX, ents[0].VY}
	assert.InDelta(t, 4, v.mag(), 1e-9)
	assert.NotEqual(t, 0.0, ents[0].VY, "steered by its neighbour")

	// Alone: keeps heading and speed.
	assert.Equal(t, 501.0, ents[1].X)
	assert.Equal(t, 1.0, ents[1].VX)
}

func TestSide(t *testing.T) {
	cases := []struct {
		v, lo, hi, size float64
		want            int
	}{
		{50, 0, 100, 1280, 0},
		{105, 0, 100, 1280, 1},
		{1275, 0, 100, 1280, -1},
		{5, 640, 1280, 1280, 1},
		{630, 640, 1280, 1280, -1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, side(tc.v, tc.lo, tc.hi, tc.size), "v=%v span=[%v,%v)", tc.v, tc.lo, tc.hi)
	}
}
