package registry

import (
	"context"
	"sync"
	"time"

	"github.com/flockd-io/flockd/internal/logging"
)

// MetricsRecorder receives publish observations. It is satisfied by
// *metrics.RegistryMetrics.
type MetricsRecorder interface {
	RecordPublish(backend string, seconds float64, ok bool)
	IncSuperseded()
}

// AsyncConfig configures an Async publisher.
type AsyncConfig struct {
	// Backend labels metrics, e.g. BackendOxia.
	Backend string

	// Timeout bounds one publish call. Zero means 10 seconds.
	Timeout time.Duration

	Metrics MetricsRecorder
	Logger  *logging.Logger
}

// Async publishes in the background so the coordinator's event loop never
// waits on storage. Only the newest pending snapshot is kept; one that is
// replaced before it was written counts as superseded.
type Async struct {
	next Publisher
	cfg  AsyncConfig

	mu      sync.Mutex
	pending *Snapshot
	closed  bool

	// publishMu orders writes so an older snapshot never lands after a newer one.
	publishMu sync.Mutex

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewAsync starts a background publisher in front of next.
func NewAsync(next Publisher, cfg AsyncConfig) *Async {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	a := &Async{
		next:   next,
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish queues s and returns immediately.
func (a *Async) Publish(ctx context.Context, s Snapshot) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.pending != nil && a.cfg.Metrics != nil {
		a.cfg.Metrics.IncSuperseded()
	}
	a.pending = &s
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

func (a *Async) Latest(ctx context.Context, runID string) (Snapshot, error) {
	return a.next.Latest(ctx, runID)
}

// Flush writes the pending snapshot, if any, before returning.
func (a *Async) Flush(ctx context.Context) error {
	return a.publishPending(ctx)
}

// Close flushes the pending snapshot, stops the background goroutine, and
// closes the wrapped publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.stopCh)
	<-a.doneCh

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()
	flushErr := a.publishPending(ctx)
	if err := a.next.Close(); err != nil {
		return err
	}
	return flushErr
}

func (a *Async) run() {
	defer close(a.doneCh)
	for {
		select {
		case <-a.stopCh:
			return
		case <-a.wake:
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
			if err := a.publishPending(ctx); err != nil {
				a.cfg.Logger.Warnf("snapshot publish failed", map[string]any{
					"backend": a.cfg.Backend,
					"error":   err.Error(),
				})
			}
			cancel()
		}
	}
}

func (a *Async) publishPending(ctx context.Context) error {
	a.publishMu.Lock()
	defer a.publishMu.Unlock()

	a.mu.Lock()
	s := a.pending
	a.pending = nil
	a.mu.Unlock()
	if s == nil {
		return nil
	}

	start := time.Now()
	err := a.next.Publish(ctx, *s)
	if a.cfg.Metrics != nil {
		a.cfg.Metrics.RecordPublish(a.cfg.Backend, time.Since(start).Seconds(), err == nil)
	}
	if err == nil {
		a.cfg.Logger.Debugf("snapshot published", map[string]any{
			"backend": a.cfg.Backend,
			"runId":   s.RunID,
			"tick":    s.Tick,
			"phase":   s.Phase,
		})
	}
	return err
}

var _ Publisher = (*Async)(nil)
