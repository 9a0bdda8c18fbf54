package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockd-io/flockd/internal/coordinator"
	"github.com/flockd-io/flockd/internal/objectstore"
	"github.com/flockd-io/flockd/internal/partition"
	"github.com/flockd-io/flockd/internal/registry"
)

func TestObjectStoreChecker(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMockStore()
	c := NewObjectStoreChecker(store)
	assert.Equal(t, "object_store", c.Name())
	assert.NoError(t, c.CheckReady(ctx))

	require.NoError(t, store.Close())
	assert.ErrorIs(t, c.CheckReady(ctx), objectstore.ErrClosed)

	assert.Error(t, NewObjectStoreChecker(nil).CheckReady(ctx))
}

type failingPublisher struct {
	registry.Publisher
	err error
}

func (p failingPublisher) Latest(context.Context, string) (registry.Snapshot, error) {
	return registry.Snapshot{}, p.err
}

func TestRegistryChecker(t *testing.T) {
	ctx := context.Background()
	mem := registry.NewMemory()
	c := NewRegistryChecker(mem, "run-1")

	// No snapshot yet is still ready.
	assert.NoError(t, c.CheckReady(ctx))

	dir := partition.NewDirectory(100, 100, 1, 1, []partition.Partition{{ID: 3, Router: 40}})
	require.NoError(t, mem.Publish(ctx, registry.FromDirectory("run-1", 0, "Setup", dir)))
	assert.NoError(t, c.CheckReady(ctx))

	down := errors.New("connection refused")
	assert.ErrorIs(t, NewRegistryChecker(failingPublisher{err: down}, "run-1").CheckReady(ctx), down)
	assert.Error(t, NewRegistryChecker(nil, "run-1").CheckReady(ctx))
}

type phaseFunc func() coordinator.Phase

func (f phaseFunc) Phase() coordinator.Phase { return f() }

func TestCoordinatorChecker(t *testing.T) {
	phase := coordinator.Discovery
	c := NewCoordinatorChecker(phaseFunc(func() coordinator.Phase { return phase }))
	assert.NoError(t, c.CheckReady(context.Background()))

	phase = coordinator.Stopped
	assert.ErrorContains(t, c.CheckReady(context.Background()), "Stopped")

	assert.Error(t, NewCoordinatorChecker(nil).CheckReady(context.Background()))
}
