package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/flockd-io/flockd/internal/coordinator"
	"github.com/flockd-io/flockd/internal/objectstore"
	"github.com/flockd-io/flockd/internal/registry"
)

// healthKey is a key that is never written. Reading it proves the bucket
// answers.
const healthKey = "flockd-health-check-nonexistent-key"

// ObjectStoreChecker is ready while the bucket answers a Head.
type ObjectStoreChecker struct {
	store objectstore.Store
}

func NewObjectStoreChecker(store objectstore.Store) *ObjectStoreChecker {
	return &ObjectStoreChecker{store: store}
}

func (c *ObjectStoreChecker) Name() string { return "object_store" }

// CheckReady treats ErrNotFound as success. A missing bucket, denied access
// or transport failure is not.
func (c *ObjectStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("object store not configured")
	}
	_, err := c.store.Head(ctx, healthKey)
	if err == nil || errors.Is(err, objectstore.ErrNotFound) {
		return nil
	}
	return err
}

// RegistryChecker is ready while the directory registry answers a lookup
// for the current run.
type RegistryChecker struct {
	publisher registry.Publisher
	runID     string
}

func NewRegistryChecker(p registry.Publisher, runID string) *RegistryChecker {
	return &RegistryChecker{publisher: p, runID: runID}
}

func (c *RegistryChecker) Name() string { return "registry" }

// CheckReady accepts a run with no snapshot yet.
func (c *RegistryChecker) CheckReady(ctx context.Context) error {
	if c.publisher == nil {
		return errors.New("registry not configured")
	}
	_, err := c.publisher.Latest(ctx, c.runID)
	if err == nil || errors.Is(err, registry.ErrNotFound) {
		return nil
	}
	return err
}

// PhaseSource is satisfied by *coordinator.Coordinator.
type PhaseSource interface {
	Phase() coordinator.Phase
}

// CoordinatorChecker is ready until the coordinator stops.
type CoordinatorChecker struct {
	source PhaseSource
}

func NewCoordinatorChecker(source PhaseSource) *CoordinatorChecker {
	return &CoordinatorChecker{source: source}
}

func (c *CoordinatorChecker) Name() string { return "coordinator" }

func (c *CoordinatorChecker) CheckReady(context.Context) error {
	if c.source == nil {
		return errors.New("coordinator not configured")
	}
	if p := c.source.Phase(); p == coordinator.Stopped {
		return fmt.Errorf("coordinator is %s", p)
	}
	return nil
}

// FuncChecker wraps a function as a ReadinessChecker.
type FuncChecker struct {
	name  string
	check func(context.Context) error
}

func NewFuncChecker(name string, check func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) CheckReady(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx)
}
