package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/flockd-io/flockd/internal/link"
	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/metrics"
	"github.com/flockd-io/flockd/internal/wire"
)

// ErrLinkClosed is returned by Run when the renderer link goes away.
var ErrLinkClosed = errors.New("capture: link closed")

// closeTimeout bounds how long sinks may take to drain on shutdown.
const closeTimeout = 30 * time.Second

// Sink receives finished frames in tick order.
type Sink interface {
	Name() string
	WriteFrame(ctx context.Context, f Frame) error
	Close(ctx context.Context) error
}

// Config configures a Recorder.
type Config struct {
	// AwaitRenderer makes the recorder ACK the render phase once a tick's
	// frame holds every entity.
	AwaitRenderer bool

	// Expected is the entity count per frame. UserInfo from the coordinator
	// overrides it. Zero means frames only finish when the next tick starts.
	Expected int

	Sinks   []Sink
	Logger  *logging.Logger
	Metrics *metrics.CaptureMetrics
}

// Stats is a point-in-time view of the recorder.
type Stats struct {
	Frames   int    `json:"frames"`
	Records  int    `json:"records"`
	Partial  int    `json:"partial"`
	LastTick uint64 `json:"lastTick"`
	Expected int    `json:"expected"`
}

// Recorder is the renderer endpoint. It runs a single event loop; only
// Stats is safe to call from other goroutines.
type Recorder struct {
	cfg    Config
	conn   link.Conn
	logger *logging.Logger

	tick     uint64
	frame    *Frame
	expected int
	stats    Stats
	snapshot atomic.Pointer[Stats]
}

// New creates a recorder reading from conn.
func New(cfg Config, conn link.Conn) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	r := &Recorder{
		cfg:      cfg,
		conn:     conn,
		logger:   cfg.Logger.With(map[string]any{"component": "capture"}),
		expected: cfg.Expected,
	}
	r.publish()
	return r
}

// Stats returns the latest published stats.
func (r *Recorder) Stats() Stats {
	return *r.snapshot.Load()
}

// Run processes messages until a Kill arrives, the link closes or ctx is
// done. Sinks are closed on every path.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		case m, ok := <-r.conn.Recv():
			if !ok {
				r.shutdown()
				return ErrLinkClosed
			}
			if stop := r.handle(ctx, m); stop {
				r.shutdown()
				return nil
			}
		}
	}
}

func (r *Recorder) handle(ctx context.Context, m wire.Message) bool {
	if m.To != wire.Renderer && m.To != wire.Broadcast {
		return false
	}
	m, fixed := m.Clamp()
	if fixed {
		r.logger.Warnf("clamped malformed message", map[string]any{"type": m.Type.String(), "from": uint32(m.From)})
	}

	switch m.Type {
	case wire.UserInfo:
		n, err := m.Arg(0)
		if err != nil {
			r.logger.Warnf("short user info", map[string]any{"msg": m.String()})
			return false
		}
		r.expected = int(n)
		r.stats.Expected = r.expected
		r.publish()
		r.logger.Infof("entity count received", map[string]any{"entities": n})

	case wire.Render:
		if m.From != wire.Coordinator {
			return false
		}
		if r.frame != nil {
			r.finish(ctx, true)
		}
		r.tick++
		r.frame = &Frame{Tick: r.tick}
		r.maybeComplete(ctx)

	case wire.RenderData:
		if r.frame == nil {
			r.logger.Debugf("render data outside a render phase", map[string]any{"from": m.From.String()})
			return false
		}
		_, entities, err := wire.UnpackEntities(m.Body)
		if err != nil {
			r.logger.Warnf("bad render data", map[string]any{"from": m.From.String(), "error": err.Error()})
			return false
		}
		r.frame.add(m.From, entities)
		r.maybeComplete(ctx)

	case wire.Kill:
		if r.frame != nil {
			r.finish(ctx, true)
		}
		r.logger.Info("kill received, capture stopping")
		return true
	}
	return false
}

func (r *Recorder) maybeComplete(ctx context.Context) {
	if r.expected <= 0 || len(r.frame.Records) < r.expected {
		return
	}
	r.finish(ctx, false)
	if r.cfg.AwaitRenderer {
		if err := r.conn.Send(wire.NewAck(wire.Renderer, wire.Render)); err != nil {
			r.logger.Warnf("render ack failed", map[string]any{"error": err.Error()})
		}
	}
}

// finish hands the open frame to every sink. partial marks a frame cut
// short by the next tick or a kill.
func (r *Recorder) finish(ctx context.Context, partial bool) {
	f := *r.frame
	r.frame = nil

	if partial && r.expected > 0 {
		r.stats.Partial++
		r.logger.Warnf("frame incomplete", map[string]any{
			"tick":     f.Tick,
			"records":  len(f.Records),
			"expected": r.expected,
		})
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordFrame(len(f.Records))
	}
	for _, s := range r.cfg.Sinks {
		if err := s.WriteFrame(ctx, f); err != nil {
			r.logger.Errorf("sink write failed", map[string]any{
				"sink":  s.Name(),
				"tick":  f.Tick,
				"error": err.Error(),
			})
		}
	}
	r.stats.Frames++
	r.stats.Records += len(f.Records)
	r.stats.LastTick = f.Tick
	r.publish()
}

func (r *Recorder) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	for _, s := range r.cfg.Sinks {
		if err := s.Close(ctx); err != nil {
			r.logger.Errorf("sink close failed", map[string]any{"sink": s.Name(), "error": err.Error()})
		}
	}
}

func (r *Recorder) publish() {
	s := r.stats
	r.snapshot.Store(&s)
}
