package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/flockd-io/flockd/internal/config"
	"github.com/flockd-io/flockd/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// shutdownTimeout bounds graceful shutdown after a signal.
const shutdownTimeout = 30 * time.Second

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("flockd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "coordinator":
		os.Exit(runCoordinator(os.Args[2:]))
	case "host":
		os.Exit(runHost(os.Args[2:]))
	case "switch":
		os.Exit(runSwitch(os.Args[2:]))
	case "local":
		os.Exit(runLocal(os.Args[2:]))
	case "export":
		os.Exit(runExport(os.Args[2:]))
	case "runs":
		os.Exit(runRuns(os.Args[2:]))
	case "version":
		fmt.Printf("flockd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: flockd <command> [options]

Commands:
  coordinator  Run the phase coordinator and its operator API
  host         Run a router with its workers, optionally hosting the coordinator and renderer
  switch       Run the TCP switch that links hosts
  local        Run a whole flock in one process
  export       Export captured segments of a run to Parquet
  runs         List or retire live runs in the Oxia registry
  version      Print version information

Run 'flockd <command> --help' for more information on a command.`)
}

// usage prints text followed by the flag defaults.
func usage(fs *flag.FlagSet, text string) {
	fs.Usage = func() {
		fmt.Println(text + "\n\nOptions:")
		fs.PrintDefaults()
	}
}

// loadConfig reads path when given, otherwise FLOCKD_CONFIG or defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func newLogger(cfg *config.Config, node string) *logging.Logger {
	return logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat).WithNode(node)
}

func runID(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return uuid.NewString()
}

// runUntilSignal runs run until it returns or SIGINT/SIGTERM arrives. On a
// signal the context is cancelled and run gets shutdownTimeout to return.
// It returns the process exit code.
func runUntilSignal(logger *logging.Logger, name string, run func(ctx context.Context) error) int {
	ctx, cancel := context.WithCancel(logging.WithLoggerCtx(context.Background(), logger))
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Infof("received shutdown signal", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			logger.Errorf(name+" error", map[string]any{"error": err.Error()})
			return 1
		}
		logger.Info(name + " finished")
		return 0
	}

	logger.Info("initiating graceful shutdown")
	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("shutdown error", map[string]any{"error": err.Error()})
			return 1
		}
	case <-time.After(shutdownTimeout):
		logger.Error("shutdown timed out")
		return 1
	}
	logger.Info(name + " shutdown complete")
	return 0
}

func fail(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return 1
}
