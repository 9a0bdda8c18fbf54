package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockd-io/flockd/internal/capture"
	"github.com/flockd-io/flockd/internal/config"
	"github.com/flockd-io/flockd/internal/coordinator"
	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/registry"
)

func localConfig() *config.Config {
	cfg := config.Default()
	cfg.Simulation.Width = 200
	cfg.Simulation.Height = 100
	cfg.Simulation.VisionRadius = 10
	cfg.Simulation.Ticks = 2
	cfg.Host.Workers = 2
	cfg.Coordinator.EntityCount = 60
	cfg.Coordinator.AutoDiscoveryMs = 100
	cfg.Capture.Enabled = true
	cfg.Capture.SegmentTicks = 1
	cfg.Capture.Compression = "snappy"
	cfg.Registry.Backend = config.BackendObjectStore
	cfg.Observability = config.ObservabilityConfig{}
	return cfg
}

func TestLocalFlockCapturesEveryTick(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cfg := localConfig()
	svc := NewServices(cfg.Observability, logging.Nop())
	l, err := NewLocal(ctx, LocalOptions{
		Config:   cfg,
		Logger:   logging.Nop(),
		Services: svc,
		RunID:    "local-run",
		Routers:  2,
	})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Run(ctx))

	status := l.Coordinator().Coordinator().Status()
	assert.Equal(t, coordinator.Stopped, status.Current())
	assert.Equal(t, uint64(2), status.Tick)
	assert.Equal(t, 4, status.Workers)

	stats := l.Coordinator().Recorder().Stats()
	assert.Equal(t, 2, stats.Frames)
	assert.Equal(t, 120, stats.Records)
	assert.Zero(t, stats.Partial)

	keys, err := capture.ListSegments(ctx, l.Store(), cfg.Capture.Prefix, "local-run")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	var buf bytes.Buffer
	rows, err := capture.ExportParquet(ctx, l.Store(), cfg.Capture.Prefix, "local-run", &buf)
	require.NoError(t, err)
	assert.Equal(t, 120, rows)

	reg := registry.NewObjectStore(l.Store(), cfg.Registry.Prefix)
	assert.Eventually(t, func() bool {
		snap, err := reg.Latest(ctx, "local-run")
		return err == nil && snap.Validate() == nil && len(snap.Partitions) == 4
	}, 5*time.Second, 20*time.Millisecond)

	health := svc.Health.CheckHealth()
	assert.Contains(t, health.Loops, "coordinator")
	assert.Contains(t, health.Loops, "capture")
}

func TestNewLocalRejectsReservedRouterIDs(t *testing.T) {
	cfg := localConfig()
	cfg.Host.RouterID = 98
	_, err := NewLocal(context.Background(), LocalOptions{
		Config:   cfg,
		Logger:   logging.Nop(),
		Services: NewServices(cfg.Observability, logging.Nop()),
		Routers:  2,
	})
	assert.ErrorContains(t, err, "reserved")
}

func TestNewNodeNeedsARole(t *testing.T) {
	cfg := localConfig()
	svc := NewServices(cfg.Observability, logging.Nop())

	_, err := NewNode(context.Background(), NodeOptions{Config: cfg, Logger: logging.Nop(), Services: svc})
	assert.Error(t, err)

	_, err = NewNode(context.Background(), NodeOptions{Config: cfg, Logger: logging.Nop(), Services: svc, Coordinator: true})
	assert.Error(t, err)
}

func TestOpenRegistryRejectsUnknownBackend(t *testing.T) {
	cfg := localConfig()
	cfg.Registry.Backend = "etcd"
	svc := NewServices(cfg.Observability, logging.Nop())
	_, err := openRegistry(context.Background(), cfg.Registry, nil, svc, logging.Nop())
	assert.Error(t, err)
}
