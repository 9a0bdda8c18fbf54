package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestGRPCHealthMirrorsReadiness(t *testing.T) {
	var ready atomic.Bool
	h := NewHealthServer(":0", nil)
	h.RegisterReadinessCheck(NewFuncChecker("flag", func(context.Context) error {
		if !ready.Load() {
			return errors.New("not yet")
		}
		return nil
	}))

	g := NewGRPCHealth(h, 20*time.Millisecond, nil)
	require.NoError(t, g.Start("127.0.0.1:0"))
	defer g.Close()

	conn, err := grpc.NewClient(g.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	ready.Store(true)
	assert.Eventually(t, func() bool {
		return check() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	h.SetShuttingDown()
	assert.Eventually(t, func() bool {
		return check() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGRPCHealthRefresh(t *testing.T) {
	h := NewHealthServer(":0", nil)
	g := NewGRPCHealth(h, 0, nil)
	defer g.Close()

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, g.Refresh(context.Background()))
	h.SetShuttingDown()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, g.Refresh(context.Background()))
}
