package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/flockd-io/flockd/internal/config"
	"github.com/flockd-io/flockd/internal/link"
	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/objectstore"
	"github.com/flockd-io/flockd/internal/wire"
)

// LocalOptions configures a whole flock in one process.
type LocalOptions struct {
	Config   *config.Config
	Logger   *logging.Logger
	Services *Services
	RunID    string
	// Routers is the number of hosts. Router ids count up from
	// Config.Host.RouterID.
	Routers int
}

// Local runs routers over in-process pipes joined by a switch. The first
// router hosts the coordinator and the renderer.
type Local struct {
	sw    *link.Switch
	nodes []*Node
	store objectstore.Store
}

// NewLocal builds the flock.
func NewLocal(ctx context.Context, opts LocalOptions) (*Local, error) {
	if opts.Routers <= 0 {
		return nil, errors.New("local: at least one router is required")
	}
	base := opts.Config.Host.RouterID
	for i := 0; i < opts.Routers; i++ {
		if id := wire.ID(base) + wire.ID(i); id < wire.FirstRouterID {
			return nil, fmt.Errorf("local: router id %d is reserved for endpoints and workers", id)
		}
	}

	store, err := openObjectStore(ctx, opts.Config.ObjectStore, opts.Services)
	if err != nil {
		return nil, err
	}
	l := &Local{
		sw:    link.NewSwitch(link.SwitchConfig{SendBuffer: opts.Config.Switch.SendBuffer}, opts.Logger, opts.Services.LinkMetrics()),
		store: store,
	}

	for i := 0; i < opts.Routers; i++ {
		cfg := *opts.Config
		cfg.Host.RouterID = base + uint32(i)

		upstream, net := link.Pipe(cfg.Switch.SendBuffer)
		l.sw.Attach(net)

		node, err := NewNode(ctx, NodeOptions{
			Config:      &cfg,
			Logger:      opts.Logger.WithNode(fmt.Sprintf("router-%d", cfg.Host.RouterID)),
			Services:    opts.Services,
			RunID:       opts.RunID,
			Upstream:    upstream,
			Router:      true,
			Coordinator: i == 0,
			Renderer:    i == 0,
			Store:       store,
		})
		if err != nil {
			l.Close()
			return nil, err
		}
		l.nodes = append(l.nodes, node)
	}
	return l, nil
}

// Coordinator returns the node hosting the coordinator.
func (l *Local) Coordinator() *Node { return l.nodes[0] }

// Store returns the object store every node shares.
func (l *Local) Store() objectstore.Store { return l.store }

// Run runs every node until the flock is killed.
func (l *Local) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range l.nodes {
		g.Go(func() error { return n.Run(ctx) })
	}
	return g.Wait()
}

// Close tears down the switch and releases the nodes. The store is closed
// last since every node shares it.
func (l *Local) Close() {
	l.sw.Close()
	for _, n := range l.nodes {
		n.Close()
	}
	l.store.Close()
}

func runLocal(args []string) int {
	fs := flag.NewFlagSet("local", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	routers := fs.Int("routers", 2, "Number of routers")
	workers := fs.Int("workers", -1, "Override workers per router")
	entities := fs.Int("entities", 0, "Entity count (default: config value, or 200)")
	ticks := fs.Uint64("ticks", 0, "Stop after this many ticks (0 runs until interrupted)")
	autoDiscovery := fs.Duration("auto-discovery", 0, "Discovery window (default: config value, or 200ms)")
	capture := fs.Bool("capture", false, "Enable capture")
	runIDFlag := fs.String("run-id", "", "Run id (default: random UUID)")
	usage(fs, `Usage: flockd local [options]

Run a complete flock in one process: a switch, the routers with their
workers, the coordinator and the renderer, linked by in-process pipes.`)

	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fail("failed to load config: %v", err)
	}
	if *workers >= 0 {
		cfg.Host.Workers = *workers
	}
	switch {
	case *entities > 0:
		cfg.Coordinator.EntityCount = *entities
	case cfg.Coordinator.EntityCount == 0:
		cfg.Coordinator.EntityCount = 200
	}
	if *ticks > 0 {
		cfg.Simulation.Ticks = *ticks
	}
	switch {
	case *autoDiscovery > 0:
		cfg.Coordinator.AutoDiscoveryMs = autoDiscovery.Milliseconds()
	case cfg.Coordinator.AutoDiscoveryMs == 0:
		cfg.Coordinator.AutoDiscoveryMs = 200
	}
	if *capture {
		cfg.Capture.Enabled = true
	}

	id := runID(*runIDFlag)
	logger := newLogger(cfg, "local").WithRunID(id)
	svc := NewServices(cfg.Observability, logger)

	return runUntilSignal(logger, "local", func(ctx context.Context) error {
		l, err := NewLocal(ctx, LocalOptions{
			Config:   cfg,
			Logger:   logger,
			Services: svc,
			RunID:    id,
			Routers:  *routers,
		})
		if err != nil {
			return err
		}
		defer l.Close()

		if err := svc.Start(); err != nil {
			return err
		}
		defer svc.Shutdown()
		return l.Run(ctx)
	})
}
