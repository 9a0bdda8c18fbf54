// Package oxia publishes directory snapshots to Oxia.
//
// Each run owns two keys in the configured namespace:
//
//	/flockd/v1/runs/<runId>/directory   latest snapshot, persistent
//	/flockd/v1/live/<runId>             liveness record, ephemeral
//
// The liveness key is bound to the client session, so it disappears when the
// coordinator exits or loses its session. LiveRuns lists the runs whose
// coordinator is still connected.
package oxia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/flockd-io/flockd/internal/registry"
)

// Key prefixes.
const (
	Prefix     = "/flockd/v1"
	RunsPrefix = Prefix + "/runs"
	LivePrefix = Prefix + "/live"
)

// DirectoryKey returns the snapshot key of a run.
func DirectoryKey(runID string) string {
	return RunsPrefix + "/" + runID + "/directory"
}

// LiveKey returns the ephemeral liveness key of a run.
func LiveKey(runID string) string {
	return LivePrefix + "/" + runID
}

// Config configures the publisher.
type Config struct {
	// ServiceAddress is the Oxia service endpoint, e.g. "localhost:6648".
	ServiceAddress string

	// Namespace scopes every key, e.g. "flockd".
	Namespace string

	// RequestTimeout bounds individual requests. Zero keeps the client default.
	RequestTimeout time.Duration

	// SessionTimeout controls how long the liveness key outlives a lost
	// client. Oxia requires at least 5 seconds.
	SessionTimeout time.Duration
}

// LiveRun is the value stored under a liveness key.
type LiveRun struct {
	RunID       string    `json:"runId"`
	Tick        uint64    `json:"tick"`
	Phase       string    `json:"phase"`
	Partitions  int       `json:"partitions"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Publisher implements registry.Publisher on Oxia.
type Publisher struct {
	client oxiaclient.SyncClient
	config Config

	mu     sync.RWMutex
	closed bool
}

// New connects to Oxia.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ServiceAddress == "" {
		return nil, errors.New("oxia: service address is required")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("oxia: namespace is required")
	}

	opts := []oxiaclient.ClientOption{
		oxiaclient.WithNamespace(cfg.Namespace),
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, oxiaclient.WithRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.SessionTimeout > 0 {
		opts = append(opts, oxiaclient.WithSessionTimeout(cfg.SessionTimeout))
	}

	client, err := oxiaclient.NewSyncClient(cfg.ServiceAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("oxia: failed to create client: %w", err)
	}
	return &Publisher{client: client, config: cfg}, nil
}

func (p *Publisher) checkClosed() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return registry.ErrClosed
	}
	return nil
}

// Publish writes the snapshot and refreshes the run's liveness key.
func (p *Publisher) Publish(ctx context.Context, s registry.Snapshot) error {
	if err := p.checkClosed(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("oxia: encode snapshot: %w", err)
	}
	if _, _, err := p.client.Put(ctx, DirectoryKey(s.RunID), data); err != nil {
		return fmt.Errorf("oxia: put snapshot failed: %w", err)
	}

	live, err := json.Marshal(LiveRun{
		RunID:       s.RunID,
		Tick:        s.Tick,
		Phase:       s.Phase,
		Partitions:  len(s.Partitions),
		PublishedAt: s.PublishedAt,
	})
	if err != nil {
		return fmt.Errorf("oxia: encode live record: %w", err)
	}
	if _, _, err := p.client.Put(ctx, LiveKey(s.RunID), live, oxiaclient.Ephemeral()); err != nil {
		return fmt.Errorf("oxia: put ephemeral failed: %w", err)
	}
	return nil
}

// Latest reads the run's snapshot.
func (p *Publisher) Latest(ctx context.Context, runID string) (registry.Snapshot, error) {
	if err := p.checkClosed(); err != nil {
		return registry.Snapshot{}, err
	}
	_, value, _, err := p.client.Get(ctx, DirectoryKey(runID))
	if err != nil {
		if errors.Is(err, oxiaclient.ErrKeyNotFound) {
			return registry.Snapshot{}, registry.ErrNotFound
		}
		return registry.Snapshot{}, fmt.Errorf("oxia: get failed: %w", err)
	}
	var s registry.Snapshot
	if err := json.Unmarshal(value, &s); err != nil {
		return registry.Snapshot{}, fmt.Errorf("oxia: decode snapshot: %w", err)
	}
	return s, nil
}

// LiveRuns lists runs whose coordinator session is still open.
func (p *Publisher) LiveRuns(ctx context.Context) ([]LiveRun, error) {
	if err := p.checkClosed(); err != nil {
		return nil, err
	}
	// Oxia sorts '/' specially; a double slash bounds the direct children.
	start := LivePrefix + "/"
	results := p.client.RangeScan(ctx, start, start+"/")

	var runs []LiveRun
	for result := range results {
		if result.Err != nil {
			go drainRangeScan(results)
			return nil, fmt.Errorf("oxia: list failed: %w", result.Err)
		}
		var r LiveRun
		if err := json.Unmarshal(result.Value, &r); err != nil {
			go drainRangeScan(results)
			return nil, fmt.Errorf("oxia: decode live record %s: %w", result.Key, err)
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// Retire deletes the run's liveness key without waiting for the session to
// expire. The snapshot stays.
func (p *Publisher) Retire(ctx context.Context, runID string) error {
	if err := p.checkClosed(); err != nil {
		return err
	}
	err := p.client.Delete(ctx, LiveKey(runID))
	if err != nil && !errors.Is(err, oxiaclient.ErrKeyNotFound) {
		return fmt.Errorf("oxia: delete failed: %w", err)
	}
	return nil
}

// Close ends the client session, which removes every liveness key it wrote.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.client.Close()
}

func drainRangeScan(results <-chan oxiaclient.GetResult) {
	for range results {
	}
}

var _ registry.Publisher = (*Publisher)(nil)
