package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockd-io/flockd/internal/wire"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1280, cfg.Simulation.Width)
	assert.Equal(t, 720, cfg.Simulation.Height)
	assert.Equal(t, 20, cfg.Simulation.VisionRadius)
	assert.True(t, cfg.Simulation.LoadBalancing)
	assert.False(t, cfg.Simulation.AwaitRenderer)
	assert.False(t, cfg.Simulation.RespectMinimalBounds)
	assert.Equal(t, BackendMemory, cfg.Registry.Backend)
	assert.Equal(t, "zstd", cfg.Capture.Compression)
	require.NoError(t, cfg.Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
simulation:
  width: 400
  height: 300
  awaitRenderer: true
host:
  routerId: 142
  workers: 8
capture:
  enabled: true
  compression: lz4
  kafka:
    brokers: [a:9092, b:9092]
registry:
  backend: oxia
`))
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Simulation.Width)
	assert.Equal(t, 300, cfg.Simulation.Height)
	assert.True(t, cfg.Simulation.AwaitRenderer)
	// Untouched keys keep their defaults.
	assert.Equal(t, 20, cfg.Simulation.VisionRadius)
	assert.Equal(t, uint32(142), cfg.Host.RouterID)
	assert.Equal(t, 8, cfg.Host.Workers)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Capture.Kafka.Brokers)
	assert.Equal(t, "flockd-frames", cfg.Capture.Kafka.Topic)
	assert.Equal(t, BackendOxia, cfg.Registry.Backend)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("simulation:\n  wdith: 10\n"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLOCKD_WIDTH", "640")
	t.Setenv("FLOCKD_LOAD_BALANCING", "false")
	t.Setenv("FLOCKD_MAX_SPEED", "2.5")
	t.Setenv("FLOCKD_ROUTER_ID", "107")
	t.Setenv("FLOCKD_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("FLOCKD_KAFKA_PARTITIONS", "3")

	cfg, err := Parse([]byte("simulation:\n  width: 100\n"))
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Simulation.Width)
	assert.False(t, cfg.Simulation.LoadBalancing)
	assert.Equal(t, 2.5, cfg.Simulation.MaxSpeed)
	assert.Equal(t, uint32(107), cfg.Host.RouterID)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Capture.Kafka.Brokers)
	assert.Equal(t, int32(3), cfg.Capture.Kafka.Partitions)
}

func TestEnvOverrideBadValue(t *testing.T) {
	t.Setenv("FLOCKD_VISION_RADIUS", "wide")
	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "VisionRadius")
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flockd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("coordinator:\n  entityCount: 500\n"), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Coordinator.EntityCount)

	t.Setenv(PathEnv, path)
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Coordinator.EntityCount)

	_, err = LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"zero width", func(c *Config) { c.Simulation.Width = 0 }},
		{"negative height", func(c *Config) { c.Simulation.Height = -1 }},
		{"zero radius", func(c *Config) { c.Simulation.VisionRadius = 0 }},
		{"zero threshold", func(c *Config) { c.Simulation.OverloadThreshold = 0 }},
		{"negative entities", func(c *Config) { c.Coordinator.EntityCount = -5 }},
		{"renderer router id", func(c *Config) { c.Host.RouterID = 2 }},
		{"multicast router id", func(c *Config) { c.Host.RouterID = 99 }},
		{"router id in worker range", func(c *Config) { c.Host.RouterID = 42 }},
		{"too many workers", func(c *Config) { c.Host.Workers = wire.MaxWorkers + 1 }},
		{"width beyond fixed point", func(c *Config) { c.Simulation.Width = 4096 }},
		{"height beyond fixed point", func(c *Config) { c.Simulation.Height = wire.MaxExtent + 1 }},
		{"unknown compression", func(c *Config) { c.Capture.Compression = "brotli" }},
		{"unknown backend", func(c *Config) { c.Registry.Backend = "etcd" }},
		{"oxia without endpoint", func(c *Config) {
			c.Registry.Backend = BackendOxia
			c.Registry.OxiaEndpoint = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mod(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestValidateAcceptsLimits(t *testing.T) {
	cfg := Default()
	cfg.Simulation.Width = wire.MaxExtent
	cfg.Simulation.Height = wire.MaxExtent
	cfg.Host.RouterID = uint32(wire.FirstRouterID)
	cfg.Host.Workers = wire.MaxWorkers
	assert.NoError(t, cfg.Validate())
}
