package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/flockd-io/flockd/internal/config"
	"github.com/flockd-io/flockd/internal/registry/oxia"
)

func runRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	retire := fs.String("retire", "", "Delete the liveness key of this run instead of listing")
	usage(fs, `Usage: flockd runs [options]

List the runs whose coordinator still holds an Oxia session. Requires
registry.backend to be oxia.`)

	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fail("failed to load config: %v", err)
	}
	if cfg.Registry.Backend != config.BackendOxia {
		return fail("runs needs registry.backend %q, got %q", config.BackendOxia, cfg.Registry.Backend)
	}

	timeout := time.Duration(cfg.Registry.RequestTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pub, err := oxia.New(ctx, oxia.Config{
		ServiceAddress: cfg.Registry.OxiaEndpoint,
		Namespace:      cfg.Registry.Namespace,
		RequestTimeout: timeout,
	})
	if err != nil {
		return fail("%v", err)
	}
	defer pub.Close()

	if *retire != "" {
		if err := pub.Retire(ctx, *retire); err != nil {
			return fail("%v", err)
		}
		newLogger(cfg, "runs").Infof("run retired", map[string]any{"runId": *retire})
		return 0
	}

	runs, err := pub.LiveRuns(ctx)
	if err != nil {
		return fail("%v", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tTICK\tPHASE\tPARTITIONS\tPUBLISHED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n", r.RunID, r.Tick, r.Phase, r.Partitions, r.PublishedAt.Format(time.RFC3339))
	}
	tw.Flush()
	return 0
}
