// Package wire defines the message format shared by every link in a flock:
// a four word header (length, to, from, type) followed by a bounded body.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ID addresses an endpoint: the coordinator, the renderer, a router or a
// worker partition. Broadcast and Multicast are sentinels, not endpoints.
type ID uint32

const (
	// Broadcast addresses every endpoint.
	Broadcast ID = 0
	// Coordinator is the fixed id of the phase coordinator.
	Coordinator ID = 1
	// Renderer is the fixed id of the render/capture endpoint.
	Renderer ID = 2
	// FirstWorkerID is the lowest id handed to a worker partition.
	FirstWorkerID ID = 3
	// Multicast addresses all interested endpoints except the sender.
	Multicast ID = 99
)

// MaxWorkers is the number of worker ids available below the multicast sentinel.
const MaxWorkers = int(Multicast - FirstWorkerID)

// FirstRouterID is the lowest id a router may take. Routers sit above the
// worker id space so the two never collide.
const FirstRouterID ID = Multicast + 1

func (id ID) String() string {
	switch id {
	case Broadcast:
		return "broadcast"
	case Coordinator:
		return "coordinator"
	case Renderer:
		return "renderer"
	case Multicast:
		return "multicast"
	}
	return strconv.FormatUint(uint64(id), 10)
}

// Reserved reports whether id is a sentinel or one of the fixed endpoint ids.
func (id ID) Reserved() bool {
	return id < FirstWorkerID || id == Multicast
}

const (
	// HeaderLen is the number of header words.
	HeaderLen = 4
	// MaxBodyLen is the largest body a message may carry.
	MaxBodyLen = 30
	// MaxLen is the largest valid value of the length word.
	MaxLen = HeaderLen + MaxBodyLen
)

var (
	// ErrShortBody is returned when a body is shorter than its type requires.
	ErrShortBody = errors.New("wire: body too short")
	// ErrBodyTooLong is returned when a body exceeds MaxBodyLen.
	ErrBodyTooLong = errors.New("wire: body too long")
)

// Message is one protocol frame.
type Message struct {
	Len  uint32
	To   ID
	From ID
	Type Type
	Body []uint32
}

// New builds a message with a consistent length word. Bodies longer than
// MaxBodyLen are truncated; callers that may exceed it must chunk first.
func New(to, from ID, typ Type, body ...uint32) Message {
	if len(body) > MaxBodyLen {
		body = body[:MaxBodyLen]
	}
	b := make([]uint32, len(body))
	copy(b, body)
	return Message{
		Len:  uint32(HeaderLen + len(b)),
		To:   to,
		From: from,
		Type: typ,
		Body: b,
	}
}

// NewAck builds the acknowledgement a router or worker sends for the phase
// identified by tag.
func NewAck(from ID, tag Type) Message {
	return New(Coordinator, from, Ack, uint32(tag))
}

// Clamp forces the length word into [HeaderLen, MaxLen] and makes the body
// agree with it. It reports whether anything had to be corrected.
func (m Message) Clamp() (Message, bool) {
	fixed := false
	n := m.Len
	if n < HeaderLen {
		n = HeaderLen
		fixed = true
	}
	if n > MaxLen {
		n = MaxLen
		fixed = true
	}
	want := int(n) - HeaderLen
	switch {
	case len(m.Body) > want:
		m.Body = m.Body[:want]
		fixed = true
	case len(m.Body) < want:
		n = uint32(HeaderLen + len(m.Body))
		fixed = true
	}
	m.Len = n
	return m, fixed
}

// Valid reports whether the length word agrees with the body and is in range.
func (m Message) Valid() bool {
	return m.Len >= HeaderLen && m.Len <= MaxLen && int(m.Len) == HeaderLen+len(m.Body)
}

// Arg returns body word i.
func (m Message) Arg(i int) (uint32, error) {
	if i < 0 || i >= len(m.Body) {
		return 0, fmt.Errorf("%w: %s needs word %d, has %d", ErrShortBody, m.Type, i, len(m.Body))
	}
	return m.Body[i], nil
}

// Tag returns the phase type an Ack answers. Untagged acks return Init.
func (m Message) Tag() Type {
	if len(m.Body) == 0 {
		return Init
	}
	return Type(m.Body[0])
}

// Words flattens the message into header and body words.
func (m Message) Words() []uint32 {
	w := make([]uint32, 0, HeaderLen+len(m.Body))
	w = append(w, m.Len, uint32(m.To), uint32(m.From), uint32(m.Type))
	return append(w, m.Body...)
}

func (m Message) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s->%s len=%d", m.Type, m.From, m.To, m.Len)
	if len(m.Body) > 0 {
		sb.WriteString(" body=[")
		for i, w := range m.Body {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.FormatUint(uint64(w), 10))
		}
		sb.WriteByte(']')
	}
	return sb.String()
}
