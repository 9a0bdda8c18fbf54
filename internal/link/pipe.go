package link

import (
	"sync"
	"sync/atomic"

	"github.com/flockd-io/flockd/internal/wire"
)

// Pipe returns two connected in-process endpoints. Each direction buffers
// up to buffer messages.
func Pipe(buffer int) (Conn, Conn) {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	ab := make(chan wire.Message, buffer)
	ba := make(chan wire.Message, buffer)
	a := &pipeEnd{in: ba, out: ab}
	b := &pipeEnd{in: ab, out: ba}
	a.peer, b.peer = b, a
	return a, b
}

type pipeEnd struct {
	// mu orders sends against closing out.
	mu     sync.RWMutex
	closed atomic.Bool
	in     <-chan wire.Message
	out    chan wire.Message
	peer   *pipeEnd
}

func (p *pipeEnd) Send(m wire.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() || p.peer.closed.Load() {
		return ErrClosed
	}
	select {
	case p.out <- m:
		return nil
	default:
		return ErrBufferFull
	}
}

func (p *pipeEnd) Recv() <-chan wire.Message { return p.in }

// Close closes this end's outbound direction, which ends the peer's Recv.
func (p *pipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.CompareAndSwap(false, true) {
		close(p.out)
	}
	return nil
}
