// Package link carries protocol messages between nodes.
//
// A Conn is one bidirectional message channel with a bounded outbound
// buffer. Pipe connects two in-process endpoints, StreamConn carries
// messages over a TCP word stream, and Switch joins any number of Conns into
// one shared segment.
package link

import (
	"errors"

	"github.com/flockd-io/flockd/internal/wire"
)

var (
	// ErrBufferFull is returned by Send when the outbound buffer is full.
	// The message is dropped.
	ErrBufferFull = errors.New("link: send buffer full")
	// ErrClosed is returned by Send after either side closed the link.
	ErrClosed = errors.New("link: closed")
)

// DefaultSendBuffer is the outbound buffer used when none is configured.
const DefaultSendBuffer = 1024

// Conn is a message channel. Send never blocks.
type Conn interface {
	// Send queues m for delivery.
	Send(m wire.Message) error
	// Recv returns the inbound channel. It is closed when the link goes down.
	Recv() <-chan wire.Message
	// Close tears the link down. It is safe to call more than once.
	Close() error
}
