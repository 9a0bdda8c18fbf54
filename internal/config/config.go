// Package config provides configuration loading and validation for flockd.
// Supports YAML files with environment variable overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// PathEnv names the config file Load reads when set.
const PathEnv = "FLOCKD_CONFIG"

// Config holds all configuration for a flockd process.
type Config struct {
	Simulation    SimulationConfig    `yaml:"simulation"`
	Coordinator   CoordinatorConfig   `yaml:"coordinator"`
	Host          HostConfig          `yaml:"host"`
	Switch        SwitchConfig        `yaml:"switch"`
	Capture       CaptureConfig       `yaml:"capture"`
	ObjectStore   ObjectStoreConfig   `yaml:"objectStore"`
	Registry      RegistryConfig      `yaml:"registry"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type SimulationConfig struct {
	Width                int     `yaml:"width" env:"FLOCKD_WIDTH"`
	Height               int     `yaml:"height" env:"FLOCKD_HEIGHT"`
	VisionRadius         int     `yaml:"visionRadius" env:"FLOCKD_VISION_RADIUS"`
	LoadBalancing        bool    `yaml:"loadBalancing" env:"FLOCKD_LOAD_BALANCING"`
	OverloadThreshold    int     `yaml:"overloadThreshold" env:"FLOCKD_OVERLOAD_THRESHOLD"`
	MaxSpeed             float64 `yaml:"maxSpeed" env:"FLOCKD_MAX_SPEED"`
	AwaitRenderer        bool    `yaml:"awaitRenderer" env:"FLOCKD_AWAIT_RENDERER"`
	RespectMinimalBounds bool    `yaml:"respectMinimalBounds" env:"FLOCKD_RESPECT_MINIMAL_BOUNDS"`
	// Ticks stops the run after this many render phases. Zero runs until killed.
	Ticks uint64 `yaml:"ticks" env:"FLOCKD_TICKS"`
}

type CoordinatorConfig struct {
	SwitchAddr  string `yaml:"switchAddr" env:"FLOCKD_COORDINATOR_SWITCH_ADDR"`
	EntityCount int    `yaml:"entityCount" env:"FLOCKD_ENTITY_COUNT"`
	// AutoDiscoveryMs ends discovery automatically after this window. Zero
	// waits for an operator.
	AutoDiscoveryMs int64 `yaml:"autoDiscoveryMs" env:"FLOCKD_AUTO_DISCOVERY_MS"`
}

type HostConfig struct {
	RouterID         uint32 `yaml:"routerId" env:"FLOCKD_ROUTER_ID"`
	Workers          int    `yaml:"workers" env:"FLOCKD_WORKERS"`
	HostsCoordinator bool   `yaml:"hostsCoordinator" env:"FLOCKD_HOSTS_COORDINATOR"`
	HostsRenderer    bool   `yaml:"hostsRenderer" env:"FLOCKD_HOSTS_RENDERER"`
	SwitchAddr       string `yaml:"switchAddr" env:"FLOCKD_SWITCH_ADDR"`
	SendBuffer       int    `yaml:"sendBuffer" env:"FLOCKD_SEND_BUFFER"`
}

type SwitchConfig struct {
	ListenAddr string `yaml:"listenAddr" env:"FLOCKD_SWITCH_LISTEN_ADDR"`
	SendBuffer int    `yaml:"sendBuffer" env:"FLOCKD_SWITCH_SEND_BUFFER"`
}

type CaptureConfig struct {
	Enabled      bool        `yaml:"enabled" env:"FLOCKD_CAPTURE_ENABLED"`
	SegmentTicks int         `yaml:"segmentTicks" env:"FLOCKD_CAPTURE_SEGMENT_TICKS"`
	Compression  string      `yaml:"compression" env:"FLOCKD_CAPTURE_COMPRESSION"`
	Prefix       string      `yaml:"prefix" env:"FLOCKD_CAPTURE_PREFIX"`
	Kafka        KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers" env:"FLOCKD_KAFKA_BROKERS"`
	Topic      string   `yaml:"topic" env:"FLOCKD_KAFKA_TOPIC"`
	Partitions int32    `yaml:"partitions" env:"FLOCKD_KAFKA_PARTITIONS"`
}

type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint" env:"FLOCKD_S3_ENDPOINT"`
	Bucket    string `yaml:"bucket" env:"FLOCKD_S3_BUCKET"`
	Region    string `yaml:"region" env:"FLOCKD_S3_REGION"`
	AccessKey string `yaml:"accessKey" env:"FLOCKD_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"FLOCKD_S3_SECRET_KEY"`
}

type RegistryConfig struct {
	Backend          string `yaml:"backend" env:"FLOCKD_REGISTRY_BACKEND"`
	OxiaEndpoint     string `yaml:"oxiaEndpoint" env:"FLOCKD_OXIA_ENDPOINT"`
	Namespace        string `yaml:"namespace" env:"FLOCKD_OXIA_NAMESPACE"`
	RequestTimeoutMs int64  `yaml:"requestTimeoutMs" env:"FLOCKD_REGISTRY_TIMEOUT_MS"`
	Prefix           string `yaml:"prefix" env:"FLOCKD_REGISTRY_PREFIX"`
}

type ObservabilityConfig struct {
	MetricsAddr    string `yaml:"metricsAddr" env:"FLOCKD_METRICS_ADDR"`
	HealthAddr     string `yaml:"healthAddr" env:"FLOCKD_HEALTH_ADDR"`
	GRPCHealthAddr string `yaml:"grpcHealthAddr" env:"FLOCKD_GRPC_HEALTH_ADDR"`
	LogLevel       string `yaml:"logLevel" env:"FLOCKD_LOG_LEVEL"`
	LogFormat      string `yaml:"logFormat" env:"FLOCKD_LOG_FORMAT"`
}

// Registry backends.
const (
	BackendMemory      = "memory"
	BackendObjectStore = "objectstore"
	BackendOxia        = "oxia"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Width:             1280,
			Height:            720,
			VisionRadius:      20,
			LoadBalancing:     true,
			OverloadThreshold: 30,
			MaxSpeed:          4,
		},
		Coordinator: CoordinatorConfig{
			SwitchAddr: "localhost:7700",
		},
		Host: HostConfig{
			RouterID:   100,
			Workers:    4,
			SwitchAddr: "localhost:7700",
			SendBuffer: 256,
		},
		Switch: SwitchConfig{
			ListenAddr: ":7700",
			SendBuffer: 1024,
		},
		Capture: CaptureConfig{
			SegmentTicks: 10,
			Compression:  "zstd",
			Prefix:       "flockd",
			Kafka: KafkaConfig{
				Topic:      "flockd-frames",
				Partitions: 1,
			},
		},
		ObjectStore: ObjectStoreConfig{
			Region: "us-east-1",
		},
		Registry: RegistryConfig{
			Backend:          BackendMemory,
			OxiaEndpoint:     "localhost:6648",
			Namespace:        "default",
			RequestTimeoutMs: 10000,
			Prefix:           "flockd",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			HealthAddr:  ":9091",
			LogLevel:    "info",
			LogFormat:      "json",
		},
	}
}

// Load reads the file named by FLOCKD_CONFIG when set. Otherwise it returns
// the defaults with environment overrides applied.
func Load() (*Config, error) {
	if path := os.Getenv(PathEnv); path != "" {
		return LoadFromPath(path)
	}
	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFromPath reads a YAML file over the defaults, then applies
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, then applies environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
