package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/metrics"
	"github.com/flockd-io/flockd/internal/wire"
)

// ErrSwitchClosed is returned when operations are attempted on a closed switch.
var ErrSwitchClosed = errors.New("link: switch closed")

// SwitchConfig configures a Switch.
type SwitchConfig struct {
	ListenAddr string
	SendBuffer int
}

// Switch is the shared segment between hosts. Every frame a peer sends is
// copied to every other peer; filtering is left to the routers.
type Switch struct {
	cfg      SwitchConfig
	logger   *logging.Logger
	metrics  *metrics.LinkMetrics
	listener net.Listener

	mu       sync.Mutex
	peers    map[uint64]Conn
	nextID   uint64
	stopping atomic.Bool
	closed   atomic.Bool
	done     chan struct{}
	peerWg   sync.WaitGroup
}

// NewSwitch creates a switch. m may be nil.
func NewSwitch(cfg SwitchConfig, logger *logging.Logger, m *metrics.LinkMetrics) *Switch {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	return &Switch{
		cfg:     cfg,
		logger:  logger.With(map[string]any{"component": "switch"}),
		metrics: m,
		peers:   make(map[uint64]Conn),
		done:    make(chan struct{}),
	}
}

// ListenAndServe listens on the configured address and serves peers.
func (s *Switch) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Serve accepts stream peers on ln until the switch is closed.
func (s *Switch) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrSwitchClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Infof("switch listening", map[string]any{"addr": ln.Addr().String()})

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() || s.closed.Load() {
				return ErrSwitchClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warnf("temporary accept error", map[string]any{"error": err.Error()})
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept error: %w", err)
		}
		s.Attach(Wrap(conn, Options{
			SendBuffer: s.cfg.SendBuffer,
			Logger:     s.logger,
			Metrics:    s.metrics,
		}))
	}
}

// Addr returns the listener's address, or nil if not listening.
func (s *Switch) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Attach adds c as a peer and starts forwarding its frames. In-process
// deployments attach one end of a Pipe per host.
func (s *Switch) Attach(c Conn) {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		c.Close()
		return
	}
	id := s.nextID
	s.nextID++
	s.peers[id] = c
	s.peerWg.Add(1)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PeerAttached()
	}
	s.logger.Debugf("peer attached", map[string]any{"peer": id})
	go s.forward(id, c)
}

// Peers returns the number of attached peers.
func (s *Switch) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Switch) forward(id uint64, c Conn) {
	defer s.peerWg.Done()
	defer s.detach(id)

	for {
		select {
		case m, ok := <-c.Recv():
			if !ok {
				return
			}
			s.fanOut(id, m)
		case <-s.done:
			return
		}
	}
}

func (s *Switch) fanOut(from uint64, m wire.Message) {
	s.mu.Lock()
	targets := make([]Conn, 0, len(s.peers))
	for id, p := range s.peers {
		if id != from {
			targets = append(targets, p)
		}
	}
	s.mu.Unlock()

	for _, p := range targets {
		if err := p.Send(m); err != nil {
			if errors.Is(err, ErrBufferFull) {
				s.logger.Warnf("dropped frame", map[string]any{
					"type":   m.Type.String(),
					"to":     uint32(m.To),
					"reason": metrics.DropBufferFull,
				})
			}
		}
	}
}

func (s *Switch) detach(id uint64) {
	s.mu.Lock()
	c, ok := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	c.Close()
	if s.metrics != nil {
		s.metrics.PeerDetached()
	}
	s.logger.Debugf("peer detached", map[string]any{"peer": id})
}

// Close stops accepting and disconnects every peer.
func (s *Switch) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrSwitchClosed
	}
	s.stopping.Store(true)
	close(s.done)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	peers := make([]Conn, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	s.peerWg.Wait()
	return nil
}

// Shutdown closes the listener, then waits up to ctx for peers to hang up
// before disconnecting the rest.
func (s *Switch) Shutdown(ctx context.Context) error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.peerWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.Close()
	return ctx.Err()
}
