package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flockd-io/flockd/internal/objectstore"
)

const snapshotContentType = "application/json"

// ObjectStore writes every snapshot as JSON under
// <prefix>/runs/<runId>/directory/<tick>.json and mirrors the newest one to
// latest.json.
type ObjectStore struct {
	store  objectstore.Store
	prefix string
}

// NewObjectStore publishes into store under prefix.
func NewObjectStore(store objectstore.Store, prefix string) *ObjectStore {
	return &ObjectStore{store: store, prefix: prefix}
}

func (o *ObjectStore) dir(runID string) string {
	return objectstore.Join(o.prefix, "runs", runID, "directory")
}

// SnapshotKey returns the history key for one tick.
func (o *ObjectStore) SnapshotKey(runID string, tick uint64) string {
	return objectstore.Join(o.dir(runID), fmt.Sprintf("%020d.json", tick))
}

// LatestKey returns the key mirrored on every publish.
func (o *ObjectStore) LatestKey(runID string) string {
	return objectstore.Join(o.dir(runID), "latest.json")
}

func (o *ObjectStore) Publish(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("registry: encode snapshot: %w", err)
	}
	if err := objectstore.PutBytes(ctx, o.store, o.SnapshotKey(s.RunID, s.Tick), data, snapshotContentType); err != nil {
		return err
	}
	return objectstore.PutBytes(ctx, o.store, o.LatestKey(s.RunID), data, snapshotContentType)
}

func (o *ObjectStore) Latest(ctx context.Context, runID string) (Snapshot, error) {
	data, err := objectstore.ReadAll(ctx, o.store, o.LatestKey(runID))
	if errors.Is(err, objectstore.ErrNotFound) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("registry: decode snapshot: %w", err)
	}
	return s, nil
}

// History lists the ticks with a stored snapshot, oldest first.
func (o *ObjectStore) History(ctx context.Context, runID string) ([]string, error) {
	objs, err := o.store.List(ctx, o.dir(runID)+"/")
	if err != nil {
		return nil, err
	}
	latest := o.LatestKey(runID)
	var keys []string
	for _, obj := range objs {
		if obj.Key != latest {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// Close does not close the underlying store; capture shares it.
func (o *ObjectStore) Close() error {
	return nil
}

var _ Publisher = (*ObjectStore)(nil)
