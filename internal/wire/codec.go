package wire

import (
	"bufio"
	"encoding/binary"
	"io"
)

// WordSize is the encoded size of one protocol word.
const WordSize = 4

// Encoder writes messages to a stream as big-endian words.
type Encoder struct {
	w   io.Writer
	buf [MaxLen * WordSize]byte
}

// NewEncoder creates a new message encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes m. The length word is recomputed from the body so a
// malformed in-memory message cannot desynchronise the stream.
func (e *Encoder) Encode(m Message) error {
	m, _ = m.Clamp()
	if len(m.Body) > MaxBodyLen {
		return ErrBodyTooLong
	}
	n := 0
	for _, w := range m.Words() {
		binary.BigEndian.PutUint32(e.buf[n:], w)
		n += WordSize
	}
	_, err := e.w.Write(e.buf[:n])
	return err
}

// Decoder reads messages from a stream of big-endian words.
type Decoder struct {
	r   *bufio.Reader
	buf [WordSize]byte
}

// NewDecoder creates a new message decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads the next message. A length word outside [HeaderLen, MaxLen]
// is clamped: short frames are read as header-only and words past MaxLen are
// consumed and discarded. The second result reports whether that happened.
func (d *Decoder) Decode() (Message, bool, error) {
	length, err := d.word()
	if err != nil {
		return Message{}, false, err
	}
	var hdr [HeaderLen - 1]uint32
	for i := range hdr {
		if hdr[i], err = d.word(); err != nil {
			return Message{}, false, noEOF(err)
		}
	}

	clamped := false
	n := length
	if n < HeaderLen {
		n = HeaderLen
		clamped = true
	}
	excess := uint32(0)
	if n > MaxLen {
		excess = n - MaxLen
		n = MaxLen
		clamped = true
	}

	m := Message{
		Len:  n,
		To:   ID(hdr[0]),
		From: ID(hdr[1]),
		Type: Type(hdr[2]),
	}
	if body := int(n) - HeaderLen; body > 0 {
		m.Body = make([]uint32, body)
		for i := range m.Body {
			if m.Body[i], err = d.word(); err != nil {
				return Message{}, false, noEOF(err)
			}
		}
	}
	for ; excess > 0; excess-- {
		if _, err := d.word(); err != nil {
			return Message{}, false, noEOF(err)
		}
	}
	return m, clamped, nil
}

func (d *Decoder) word() (uint32, error) {
	if _, err := io.ReadFull(d.r, d.buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(d.buf[:]), nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
