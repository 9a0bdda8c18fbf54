package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/flockd-io/flockd/internal/link"
)

func runHost(args []string) int {
	fs := flag.NewFlagSet("host", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	routerID := fs.Uint("router-id", 0, "Override router id (100 or above)")
	workers := fs.Int("workers", -1, "Override worker count")
	switchAddr := fs.String("switch", "", "Override switch address (e.g., localhost:7700)")
	hostsCoordinator := fs.Bool("coordinator", false, "Host the coordinator behind this router")
	hostsRenderer := fs.Bool("renderer", false, "Host the renderer and capture behind this router")
	healthAddr := fs.String("health-addr", "", "Override health endpoint address (e.g., :9091)")
	runIDFlag := fs.String("run-id", "", "Run id used for capture keys (default: random UUID)")
	usage(fs, `Usage: flockd host [options]

Run a router and its workers connected to the switch. The host may also
run the coordinator and the renderer endpoints behind its router.`)

	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fail("failed to load config: %v", err)
	}
	if *routerID > 0 {
		cfg.Host.RouterID = uint32(*routerID)
	}
	if *workers >= 0 {
		cfg.Host.Workers = *workers
	}
	if *switchAddr != "" {
		cfg.Host.SwitchAddr = *switchAddr
	}
	if *hostsCoordinator {
		cfg.Host.HostsCoordinator = true
	}
	if *hostsRenderer {
		cfg.Host.HostsRenderer = true
	}
	if *healthAddr != "" {
		cfg.Observability.HealthAddr = *healthAddr
	}
	if err := cfg.Validate(); err != nil {
		return fail("%v", err)
	}

	id := runID(*runIDFlag)
	logger := newLogger(cfg, fmt.Sprintf("router-%d", cfg.Host.RouterID)).WithRunID(id)
	svc := NewServices(cfg.Observability, logger)

	return runUntilSignal(logger, "host", func(ctx context.Context) error {
		conn, err := link.DialRetry(ctx, cfg.Host.SwitchAddr, time.Second, link.Options{
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
			Router:      true,
			Coordinator: cfg.Host.HostsCoordinator,
			Renderer:    cfg.Host.HostsRenderer,
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
