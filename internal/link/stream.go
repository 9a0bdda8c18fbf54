package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/metrics"
	"github.com/flockd-io/flockd/internal/wire"
)

// Options configures a StreamConn.
type Options struct {
	SendBuffer int
	Logger     *logging.Logger
	Metrics    *metrics.LinkMetrics
}

// StreamConn carries messages over a byte stream as big-endian words. One
// goroutine reads frames into the inbound channel and another drains the
// outbound buffer onto the stream.
type StreamConn struct {
	rwc     io.ReadWriteCloser
	enc     *wire.Encoder
	dec     *wire.Decoder
	logger  *logging.Logger
	metrics *metrics.LinkMetrics

	in   chan wire.Message
	out  chan wire.Message
	done chan struct{}

	// mu orders Send against Close so a send never races the shutdown.
	mu        sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to a switch at addr.
func Dial(ctx context.Context, addr string, opts Options) (*StreamConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("link: dial %s: %w", addr, err)
	}
	return Wrap(conn, opts), nil
}

// DialRetry dials addr until it succeeds or ctx is done, waiting backoff
// between attempts. Hosts use it to wait for the switch to come up.
func DialRetry(ctx context.Context, addr string, backoff time.Duration, opts Options) (*StreamConn, error) {
	for {
		c, err := Dial(ctx, addr, opts)
		if err == nil {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), err)
		case <-time.After(backoff):
		}
	}
}

// Wrap starts a StreamConn over rwc. The StreamConn owns rwc from here on.
func Wrap(rwc io.ReadWriteCloser, opts Options) *StreamConn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}
	if nc, ok := rwc.(net.Conn); ok {
		logger = logger.With(map[string]any{"remote": nc.RemoteAddr().String()})
	}
	c := &StreamConn{
		rwc:     rwc,
		enc:     wire.NewEncoder(rwc),
		dec:     wire.NewDecoder(rwc),
		logger:  logger,
		metrics: opts.Metrics,
		in:      make(chan wire.Message, opts.SendBuffer),
		out:     make(chan wire.Message, opts.SendBuffer),
		done:    make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Send queues m for the writer goroutine.
func (c *StreamConn) Send(m wire.Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed.Load() {
		return ErrClosed
	}
	select {
	case c.out <- m:
		return nil
	default:
		if c.metrics != nil {
			c.metrics.RecordDropped(metrics.DropBufferFull)
		}
		return ErrBufferFull
	}
}

// Recv returns the inbound channel.
func (c *StreamConn) Recv() <-chan wire.Message { return c.in }

// Close stops accepting sends, flushes what is already queued and closes
// the stream. It waits for both goroutines to exit.
func (c *StreamConn) Close() error {
	c.shutdown()
	if nc, ok := c.rwc.(net.Conn); ok {
		_ = nc.SetWriteDeadline(time.Now().Add(flushTimeout))
	}
	c.wg.Wait()
	return nil
}

// flushTimeout bounds how long Close waits on a stalled peer.
const flushTimeout = 5 * time.Second

func (c *StreamConn) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed.Store(true)
		close(c.out)
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *StreamConn) readLoop() {
	defer c.wg.Done()
	defer close(c.in)
	defer c.shutdown()

	for {
		m, clamped, err := c.dec.Decode()
		if err != nil {
			if !c.closed.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warnf("link read failed", map[string]any{"error": err.Error()})
			}
			return
		}
		if c.metrics != nil {
			c.metrics.RecordRead(clamped)
		}
		if clamped {
			c.logger.Warnf("clamped malformed frame length", map[string]any{
				"type": m.Type.String(),
				"from": uint32(m.From),
				"len":  m.Len,
			})
		}
		select {
		case c.in <- m:
		case <-c.done:
			return
		}
	}
}

func (c *StreamConn) writeLoop() {
	defer c.wg.Done()
	defer c.rwc.Close()

	failed := false
	for m := range c.out {
		if failed {
			continue
		}
		if err := c.enc.Encode(m); err != nil {
			if !c.closed.Load() {
				c.logger.Warnf("link write failed", map[string]any{"error": err.Error()})
			}
			failed = true
			c.shutdown()
			continue
		}
		if c.metrics != nil {
			c.metrics.RecordWrite()
		}
	}
}
