// Package registry publishes snapshots of the partition directory so that
// operators and tools can see the current layout of a running flock.
//
// The coordinator publishes after setup and after every rebalance. Three
// backends exist: Memory for tests and the local runner, ObjectStore for
// durable history next to capture segments, and the oxia subpackage for a
// shared key space with a liveness key per run.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flockd-io/flockd/internal/partition"
)

var (
	// ErrNotFound is returned by Latest when nothing was published for a run.
	ErrNotFound = errors.New("registry: snapshot not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("registry: closed")
)

// Backend names used in configuration and metrics labels.
const (
	BackendMemory      = "memory"
	BackendObjectStore = "objectstore"
	BackendOxia        = "oxia"
)

// Snapshot is one published view of the directory.
type Snapshot struct {
	RunID       string                `json:"runId"`
	Tick        uint64                `json:"tick"`
	Phase       string                `json:"phase"`
	Width       int                   `json:"width"`
	Height      int                   `json:"height"`
	GridWidth   int                   `json:"gridWidth"`
	GridHeight  int                   `json:"gridHeight"`
	Partitions  []partition.Partition `json:"partitions"`
	PublishedAt time.Time             `json:"publishedAt"`
}

// FromDirectory copies dir into a snapshot.
func FromDirectory(runID string, tick uint64, phase string, dir *partition.Directory) Snapshot {
	gw, gh := dir.Grid()
	return Snapshot{
		RunID:       runID,
		Tick:        tick,
		Phase:       phase,
		Width:       dir.Width(),
		Height:      dir.Height(),
		GridWidth:   gw,
		GridHeight:  gh,
		Partitions:  dir.All(),
		PublishedAt: time.Now().UTC(),
	}
}

// Directory rebuilds a directory from the snapshot.
func (s Snapshot) Directory() *partition.Directory {
	return partition.NewDirectory(s.Width, s.Height, s.GridWidth, s.GridHeight, s.Partitions)
}

// Validate checks that the snapshot describes a complete tiling.
func (s Snapshot) Validate() error {
	if s.RunID == "" {
		return errors.New("registry: snapshot has no run id")
	}
	if len(s.Partitions) == 0 {
		return errors.New("registry: snapshot has no partitions")
	}
	if err := s.Directory().Tiles(); err != nil {
		return fmt.Errorf("registry: run %s tick %d: %w", s.RunID, s.Tick, err)
	}
	return nil
}

// Publisher stores snapshots. Implementations must be safe for concurrent use.
type Publisher interface {
	// Publish stores s as the latest snapshot of its run.
	Publish(ctx context.Context, s Snapshot) error

	// Latest returns the most recent snapshot of runID.
	Latest(ctx context.Context, runID string) (Snapshot, error)

	// Close releases the publisher.
	Close() error
}
