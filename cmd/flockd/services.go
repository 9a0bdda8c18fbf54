package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/flockd-io/flockd/internal/capture"
	"github.com/flockd-io/flockd/internal/config"
	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/metrics"
	"github.com/flockd-io/flockd/internal/objectstore"
	"github.com/flockd-io/flockd/internal/objectstore/s3"
	"github.com/flockd-io/flockd/internal/registry"
	"github.com/flockd-io/flockd/internal/registry/oxia"
	"github.com/flockd-io/flockd/internal/server"
)

// Services owns the process-wide observability surface: one metrics
// registry, the health server with its mounted handlers, the metrics
// endpoint and the gRPC health mirror. Each metrics group is created once
// and shared by every component in the process.
type Services struct {
	cfg    config.ObservabilityConfig
	logger *logging.Logger

	Registry *prometheus.Registry
	Health   *server.HealthServer

	metricsServer *metrics.Server
	grpcHealth    *server.GRPCHealth

	coordinatorMetrics *metrics.CoordinatorMetrics
	routerMetrics      *metrics.RouterMetrics
	linkMetrics        *metrics.LinkMetrics
	captureMetrics     *metrics.CaptureMetrics
	storeMetrics       *metrics.ObjectStoreMetrics
	registryMetrics    *metrics.RegistryMetrics
}

// NewServices creates the registry and health server. Nothing listens
// until Start.
func NewServices(cfg config.ObservabilityConfig, logger *logging.Logger) *Services {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Services{
		cfg:      cfg,
		logger:   logger,
		Registry: reg,
		Health:   server.NewHealthServer(cfg.HealthAddr, logger),
	}
}

func (s *Services) CoordinatorMetrics() *metrics.CoordinatorMetrics {
	if s.coordinatorMetrics == nil {
		s.coordinatorMetrics = metrics.NewCoordinatorMetrics(s.Registry)
	}
	return s.coordinatorMetrics
}

func (s *Services) RouterMetrics() *metrics.RouterMetrics {
	if s.routerMetrics == nil {
		s.routerMetrics = metrics.NewRouterMetrics(s.Registry)
	}
	return s.routerMetrics
}

func (s *Services) LinkMetrics() *metrics.LinkMetrics {
	if s.linkMetrics == nil {
		s.linkMetrics = metrics.NewLinkMetrics(s.Registry)
	}
	return s.linkMetrics
}

func (s *Services) CaptureMetrics() *metrics.CaptureMetrics {
	if s.captureMetrics == nil {
		s.captureMetrics = metrics.NewCaptureMetrics(s.Registry)
	}
	return s.captureMetrics
}

func (s *Services) ObjectStoreMetrics() *metrics.ObjectStoreMetrics {
	if s.storeMetrics == nil {
		s.storeMetrics = metrics.NewObjectStoreMetrics(s.Registry)
	}
	return s.storeMetrics
}

func (s *Services) RegistryMetrics() *metrics.RegistryMetrics {
	if s.registryMetrics == nil {
		s.registryMetrics = metrics.NewRegistryMetrics(s.Registry)
	}
	return s.registryMetrics
}

// Start opens every configured listener. An empty address disables that
// listener.
func (s *Services) Start() error {
	if s.cfg.MetricsAddr != "" {
		s.metricsServer = metrics.NewServerWithRegistry(s.cfg.MetricsAddr, s.Registry)
		if err := s.metricsServer.Start(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}
	if s.cfg.HealthAddr != "" {
		if err := s.Health.Start(); err != nil {
			return fmt.Errorf("health server: %w", err)
		}
	}
	if s.cfg.GRPCHealthAddr != "" {
		s.grpcHealth = server.NewGRPCHealth(s.Health, 0, s.logger)
		if err := s.grpcHealth.Start(s.cfg.GRPCHealthAddr); err != nil {
			return fmt.Errorf("grpc health: %w", err)
		}
	}
	return nil
}

// Shutdown fails the probes first, then closes the listeners.
func (s *Services) Shutdown() {
	s.Health.SetShuttingDown()
	if s.grpcHealth != nil {
		s.grpcHealth.Close()
	}
	if err := s.Health.Close(); err != nil {
		s.logger.Warnf("health server close failed", map[string]any{"error": err.Error()})
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Close(); err != nil {
			s.logger.Warnf("metrics server close failed", map[string]any{"error": err.Error()})
		}
	}
}

// openObjectStore returns S3 when a bucket is configured and an in-memory
// store otherwise. Either way calls are instrumented.
func openObjectStore(ctx context.Context, cfg config.ObjectStoreConfig, svc *Services) (objectstore.Store, error) {
	var store objectstore.Store
	if cfg.Bucket == "" {
		store = objectstore.NewMockStore()
	} else {
		s, err := s3.New(ctx, s3.Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			UsePathStyle:    cfg.Endpoint != "",
		})
		if err != nil {
			return nil, err
		}
		store = s
	}
	return objectstore.NewInstrumentedStore(store, svc.ObjectStoreMetrics()), nil
}

// openRegistry builds the configured backend behind an Async publisher so
// the coordinator never waits on it.
func openRegistry(ctx context.Context, cfg config.RegistryConfig, store objectstore.Store, svc *Services, logger *logging.Logger) (registry.Publisher, error) {
	var next registry.Publisher
	switch cfg.Backend {
	case config.BackendMemory:
		next = registry.NewMemory()
	case config.BackendObjectStore:
		next = registry.NewObjectStore(store, objectstore.NormalizeKey(cfg.Prefix))
	case config.BackendOxia:
		p, err := oxia.New(ctx, oxia.Config{
			ServiceAddress: cfg.OxiaEndpoint,
			Namespace:      cfg.Namespace,
			RequestTimeout: time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		next = p
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
	}
	return registry.NewAsync(next, registry.AsyncConfig{
		Backend: cfg.Backend,
		Timeout: time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
		Metrics: svc.RegistryMetrics(),
		Logger:  logger,
	}), nil
}

// openSinks builds the capture sinks the config enables.
func openSinks(ctx context.Context, cfg config.CaptureConfig, store objectstore.Store, runID string, svc *Services, logger *logging.Logger) ([]capture.Sink, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	compression, err := capture.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	sinks := []capture.Sink{capture.NewSegmentSink(capture.SegmentConfig{
		Store:       store,
		Prefix:      objectstore.NormalizeKey(cfg.Prefix),
		RunID:       runID,
		Ticks:       cfg.SegmentTicks,
		Compression: compression,
		Metrics:     svc.CaptureMetrics(),
		Logger:      logger,
	})}
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := capture.NewKafkaSink(ctx, capture.KafkaConfig{
			Brokers:    cfg.Kafka.Brokers,
			Topic:      cfg.Kafka.Topic,
			Partitions: cfg.Kafka.Partitions,
			RunID:      runID,
		}, svc.CaptureMetrics(), logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, k)
	}
	return sinks, nil
}
