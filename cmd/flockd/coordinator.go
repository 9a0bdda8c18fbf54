package main

import (
	"context"
	"flag"
	"time"

	"github.com/flockd-io/flockd/internal/link"
)

func runCoordinator(args []string) int {
	fs := flag.NewFlagSet("coordinator", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	switchAddr := fs.String("switch", "", "Override switch address (e.g., localhost:7700)")
	healthAddr := fs.String("health-addr", "", "Override health and operator API address (e.g., :9091)")
	entities := fs.Int("entities", -1, "Entity count; skips waiting for the operator")
	ticks := fs.Uint64("ticks", 0, "Stop after this many ticks (0 runs until killed)")
	autoDiscovery := fs.Duration("auto-discovery", 0, "End discovery automatically after this window")
	runIDFlag := fs.String("run-id", "", "Run id (default: random UUID)")
	usage(fs, `Usage: flockd coordinator [options]

Run the phase coordinator attached directly to the switch. Discovery,
user parameters and kill are driven through the operator API mounted on
the health server under /v1/.`)

	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fail("failed to load config: %v", err)
	}
	if *switchAddr != "" {
		cfg.Coordinator.SwitchAddr = *switchAddr
	}
	if *healthAddr != "" {
		cfg.Observability.HealthAddr = *healthAddr
	}
	if *entities >= 0 {
		cfg.Coordinator.EntityCount = *entities
	}
	if *ticks > 0 {
		cfg.Simulation.Ticks = *ticks
	}
	if *autoDiscovery > 0 {
		cfg.Coordinator.AutoDiscoveryMs = autoDiscovery.Milliseconds()
	}

	id := runID(*runIDFlag)
	logger := newLogger(cfg, "coordinator").WithRunID(id)
	svc := NewServices(cfg.Observability, logger)

	return runUntilSignal(logger, "coordinator", func(ctx context.Context) error {
		conn, err := link.DialRetry(ctx, cfg.Coordinator.SwitchAddr, time.Second, link.Options{
			SendBuffer: cfg.Host.SendBuffer,
			Logger:     logger,
			Metrics:    svc.LinkMetrics(),
		})
		if err != nil {
			return err
		}
		defer conn.Close()

		node, err := NewNode(ctx, NodeOptions{
			Config:      cfg,
			Logger:      logger,
			Services:    svc,
			RunID:       id,
			Upstream:    conn,
			Coordinator: true,
		})
		if err != nil {
			return err
		}
		defer node.Close()

		if err := svc.Start(); err != nil {
			return err
		}
		defer svc.Shutdown()
		return node.Run(ctx)
	})
}
