package server

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/flockd-io/flockd/internal/logging"
)

// DefaultGRPCPollInterval is how often GRPCHealth re-evaluates readiness.
const DefaultGRPCPollInterval = 2 * time.Second

// GRPCHealth serves the standard gRPC health service. The overall status
// ("") follows the HealthServer's readiness.
type GRPCHealth struct {
	health   *HealthServer
	service  *health.Server
	server   *grpc.Server
	interval time.Duration
	logger   *logging.Logger

	mu        sync.Mutex
	boundAddr string
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewGRPCHealth mirrors h. A zero interval means DefaultGRPCPollInterval.
func NewGRPCHealth(h *HealthServer, interval time.Duration, logger *logging.Logger) *GRPCHealth {
	if interval <= 0 {
		interval = DefaultGRPCPollInterval
	}
	if logger == nil {
		logger = logging.Nop()
	}
	g := &GRPCHealth{
		health:   h,
		service:  health.NewServer(),
		server:   grpc.NewServer(),
		interval: interval,
		logger:   logger.With(map[string]any{"component": "grpc-health"}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	healthpb.RegisterHealthServer(g.server, g.service)
	g.service.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return g
}

// Start listens on addr and begins polling readiness.
func (g *GRPCHealth) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.boundAddr = ln.Addr().String()
	g.mu.Unlock()

	g.Refresh(context.Background())
	go g.poll()
	go func() {
		if err := g.server.Serve(ln); err != nil && err != grpc.ErrServerStopped {
			g.logger.Errorf("grpc health server error", map[string]any{"error": err.Error()})
		}
	}()
	g.logger.Infof("grpc health listening", map[string]any{"addr": ln.Addr().String()})
	return nil
}

// Addr returns the bound address after Start.
func (g *GRPCHealth) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.boundAddr
}

// Refresh evaluates readiness once and publishes the result.
func (g *GRPCHealth) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if g.health.CheckReadiness(ctx).Status != StatusOK {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.service.SetServingStatus("", st)
	return st
}

func (g *GRPCHealth) poll() {
	defer close(g.doneCh)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), g.interval)
			g.Refresh(ctx)
			cancel()
		}
	}
}

// Close marks every service NOT_SERVING and stops the server.
func (g *GRPCHealth) Close() {
	select {
	case <-g.stopCh:
		return
	default:
	}
	close(g.stopCh)
	g.service.Shutdown()

	g.mu.Lock()
	started := g.boundAddr != ""
	g.mu.Unlock()
	if started {
		<-g.doneCh
	}
	g.server.GracefulStop()
}
