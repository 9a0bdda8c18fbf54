package main

import (
	"context"
	"errors"
	"flag"

	"github.com/flockd-io/flockd/internal/link"
)

func runSwitch(args []string) int {
	fs := flag.NewFlagSet("switch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	listenAddr := fs.String("listen", "", "Override listen address (e.g., :7700)")
	healthAddr := fs.String("health-addr", "", "Override health endpoint address (e.g., :9091)")
	usage(fs, `Usage: flockd switch [options]

Run the switch. Every frame a host sends is copied to every other host.`)

	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fail("failed to load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.Switch.ListenAddr = *listenAddr
	}
	if *healthAddr != "" {
		cfg.Observability.HealthAddr = *healthAddr
	}

	logger := newLogger(cfg, "switch")
	svc := NewServices(cfg.Observability, logger)
	sw := link.NewSwitch(link.SwitchConfig{
		ListenAddr: cfg.Switch.ListenAddr,
		SendBuffer: cfg.Switch.SendBuffer,
	}, logger, svc.LinkMetrics())

	return runUntilSignal(logger, "switch", func(ctx context.Context) error {
		if err := svc.Start(); err != nil {
			return err
		}
		defer svc.Shutdown()

		errCh := make(chan error, 1)
		go func() {
			errCh <- svc.Health.Track("switch", sw.ListenAndServe)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sw.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, link.ErrSwitchClosed) {
			return err
		}
		return nil
	})
}
