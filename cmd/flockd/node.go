package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flockd-io/flockd/internal/capture"
	"github.com/flockd-io/flockd/internal/config"
	"github.com/flockd-io/flockd/internal/coordinator"
	"github.com/flockd-io/flockd/internal/link"
	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/objectstore"
	"github.com/flockd-io/flockd/internal/registry"
	"github.com/flockd-io/flockd/internal/router"
	"github.com/flockd-io/flockd/internal/server"
	"github.com/flockd-io/flockd/internal/wire"
	"github.com/flockd-io/flockd/internal/worker"
)

// NodeOptions selects what one node runs. A node with a router owns its
// workers and may host the coordinator and renderer behind the router. A
// node without one is a bare coordinator attached straight to Upstream.
type NodeOptions struct {
	Config   *config.Config
	Logger   *logging.Logger
	Services *Services
	RunID    string

	// Upstream links the node to the switch. It may be nil for a single
	// router flock.
	Upstream link.Conn

	Router      bool
	Coordinator bool
	Renderer    bool

	// Store overrides the configured object store. The caller keeps
	// ownership of it.
	Store objectstore.Store
}

// Node is one flockd process worth of endpoints.
type Node struct {
	opts   NodeOptions
	logger *logging.Logger

	store       objectstore.Store
	ownsStore   bool
	publisher   registry.Publisher
	coordinator *coordinator.Coordinator
	recorder    *capture.Recorder
	router      *router.Router
	workers     []*worker.Worker
}

// NewNode builds every endpoint and mounts the operator API and readiness
// checks. Nothing runs until Run.
func NewNode(ctx context.Context, opts NodeOptions) (*Node, error) {
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	if !opts.Router && !opts.Coordinator {
		return nil, errors.New("node runs nothing")
	}
	if !opts.Router && opts.Upstream == nil {
		return nil, errors.New("a coordinator without a router needs an upstream link")
	}
	n := &Node{
		opts:   opts,
		logger: opts.Logger.WithRunID(opts.RunID),
	}
	cfg := opts.Config
	svc := opts.Services
	buffer := cfg.Host.SendBuffer

	n.store = opts.Store
	if n.store == nil && (opts.Coordinator || opts.Renderer) {
		store, err := openObjectStore(ctx, cfg.ObjectStore, svc)
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		n.store = store
		n.ownsStore = true
	}
	if n.ownsStore || (n.store != nil && opts.Coordinator) {
		svc.Health.RegisterReadinessCheck(server.NewObjectStoreChecker(n.store))
	}

	ports := router.Ports{Upstream: opts.Upstream}

	if opts.Coordinator {
		pub, err := openRegistry(ctx, cfg.Registry, n.store, svc, n.logger)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("registry: %w", err)
		}
		n.publisher = pub

		conn := opts.Upstream
		if opts.Router {
			var routerSide link.Conn
			conn, routerSide = link.Pipe(buffer)
			ports.Coordinator = routerSide
		}
		n.coordinator = coordinator.New(coordinator.Config{
			Width:                cfg.Simulation.Width,
			Height:               cfg.Simulation.Height,
			VisionRadius:         cfg.Simulation.VisionRadius,
			LoadBalancing:        cfg.Simulation.LoadBalancing,
			AwaitRenderer:        cfg.Simulation.AwaitRenderer,
			RespectMinimalBounds: cfg.Simulation.RespectMinimalBounds,
			EntityCount:          cfg.Coordinator.EntityCount,
			AutoDiscovery:        time.Duration(cfg.Coordinator.AutoDiscoveryMs) * time.Millisecond,
			Ticks:                cfg.Simulation.Ticks,
			RunID:                opts.RunID,
			Logger:               n.logger,
			Metrics:              svc.CoordinatorMetrics(),
			Publisher:            pub,
		}, conn)

		svc.Health.RegisterHandler("/v1/", server.NewOperatorHandler(n.coordinator, n.logger))
		svc.Health.RegisterReadinessCheck(server.NewCoordinatorChecker(n.coordinator))
		svc.Health.RegisterReadinessCheck(server.NewRegistryChecker(pub, opts.RunID))
	}

	if opts.Router {
		if opts.Renderer {
			sinks, err := openSinks(ctx, cfg.Capture, n.store, opts.RunID, svc, n.logger)
			if err != nil {
				n.Close()
				return nil, fmt.Errorf("capture: %w", err)
			}
			conn, routerSide := link.Pipe(buffer)
			ports.Renderer = routerSide
			n.recorder = capture.New(capture.Config{
				AwaitRenderer: cfg.Simulation.AwaitRenderer,
				Expected:      cfg.Coordinator.EntityCount,
				Sinks:         sinks,
				Logger:        n.logger,
				Metrics:       svc.CaptureMetrics(),
			}, conn)
		}

		for i := 0; i < cfg.Host.Workers; i++ {
			local, routerSide := link.Pipe(buffer)
			ports.Workers = append(ports.Workers, routerSide)
			n.workers = append(n.workers, worker.New(worker.Config{
				VisionRadius:      cfg.Simulation.VisionRadius,
				OverloadThreshold: cfg.Simulation.OverloadThreshold,
				MaxSpeed:          cfg.Simulation.MaxSpeed,
				Logger:            n.logger.With(map[string]any{"slot": i}),
			}, local))
		}
		n.router = router.New(router.Config{
			ID:      wire.ID(cfg.Host.RouterID),
			Logger:  n.logger,
			Metrics: svc.RouterMetrics(),
		}, ports)
	}
	return n, nil
}

// Coordinator returns the hosted coordinator, or nil.
func (n *Node) Coordinator() *coordinator.Coordinator { return n.coordinator }

// Recorder returns the hosted recorder, or nil.
func (n *Node) Recorder() *capture.Recorder { return n.recorder }

// Store returns the node's object store, or nil.
func (n *Node) Store() objectstore.Store { return n.store }

// Run runs every endpoint until the flock is killed or one of them fails.
// A kill stops every loop cleanly and Run returns nil.
func (n *Node) Run(ctx context.Context) error {
	ctx = logging.WithRunIDCtx(ctx, n.opts.RunID)
	logging.ContextLogger(ctx, n.logger).Infof("node running", map[string]any{
		"router":      n.router != nil,
		"workers":     len(n.workers),
		"coordinator": n.coordinator != nil,
		"renderer":    n.recorder != nil,
	})

	g, ctx := errgroup.WithContext(ctx)
	health := n.opts.Services.Health

	if n.router != nil {
		name := "router-" + strconv.FormatUint(uint64(n.router.ID()), 10)
		g.Go(func() error { return health.Track(name, func() error { return n.router.Run(ctx) }) })
		for i, w := range n.workers {
			slot := fmt.Sprintf("%s-worker-%d", name, i)
			g.Go(func() error { return health.Track(slot, func() error { return w.Run(ctx) }) })
		}
	}
	if n.recorder != nil {
		g.Go(func() error { return health.Track("capture", func() error { return n.recorder.Run(ctx) }) })
	}
	if n.coordinator != nil {
		g.Go(func() error { return health.Track("coordinator", func() error { return n.coordinator.Run(ctx) }) })
	}
	return g.Wait()
}

// Close flushes the registry and releases storage.
func (n *Node) Close() {
	if n.publisher != nil {
		if err := n.publisher.Close(); err != nil {
			n.logger.Warnf("registry close failed", map[string]any{"error": err.Error()})
		}
	}
	if n.ownsStore {
		if err := n.store.Close(); err != nil {
			n.logger.Warnf("object store close failed", map[string]any{"error": err.Error()})
		}
	}
}
