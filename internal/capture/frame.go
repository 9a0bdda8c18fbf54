// Package capture is the renderer endpoint. It assembles the render data
// workers send each tick into frames and hands every frame to its sinks:
// compressed segments in object storage, a Kafka topic, or both. Stored
// segments can be exported to Parquet afterwards.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/flockd-io/flockd/internal/wire"
)

// ErrCorrupt is returned when frame or segment bytes cannot be decoded.
var ErrCorrupt = errors.New("capture: corrupt data")

// Record is one entity as rendered in one tick.
type Record struct {
	Tick   uint64  `parquet:"tick" json:"tick"`
	Worker uint32  `parquet:"worker" json:"worker"`
	Entity uint32  `parquet:"entity" json:"entity"`
	X      float32 `parquet:"x" json:"x"`
	Y      float32 `parquet:"y" json:"y"`
	VX     float32 `parquet:"vx" json:"vx"`
	VY     float32 `parquet:"vy" json:"vy"`
}

// Frame is every record captured for one tick.
type Frame struct {
	Tick    uint64
	Records []Record
}

func (f *Frame) add(worker wire.ID, entities []wire.Entity) {
	for _, e := range entities {
		f.Records = append(f.Records, Record{
			Tick:   f.Tick,
			Worker: uint32(worker),
			Entity: e.ID,
			X:      float32(e.X),
			Y:      float32(e.Y),
			VX:     float32(e.VX),
			VY:     float32(e.VY),
		})
	}
}

const (
	frameHeaderSize = 12
	recordSize      = 24
)

// appendFrame encodes f as tick, record count, then fixed-size records.
func appendFrame(dst []byte, f Frame) []byte {
	dst = binary.BigEndian.AppendUint64(dst, f.Tick)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Records)))
	for _, r := range f.Records {
		dst = binary.BigEndian.AppendUint32(dst, r.Worker)
		dst = binary.BigEndian.AppendUint32(dst, r.Entity)
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(r.X))
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(r.Y))
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(r.VX))
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(r.VY))
	}
	return dst
}

// EncodeFrame returns the binary form of f.
func EncodeFrame(f Frame) []byte {
	return appendFrame(make([]byte, 0, frameHeaderSize+recordSize*len(f.Records)), f)
}

// DecodeFrame parses one frame from the front of data and returns the rest.
func DecodeFrame(data []byte) (Frame, []byte, error) {
	if len(data) < frameHeaderSize {
		return Frame{}, nil, fmt.Errorf("%w: frame header truncated", ErrCorrupt)
	}
	f := Frame{Tick: binary.BigEndian.Uint64(data)}
	n := int(binary.BigEndian.Uint32(data[8:]))
	data = data[frameHeaderSize:]
	if len(data) < n*recordSize {
		return Frame{}, nil, fmt.Errorf("%w: frame %d wants %d records, has %d bytes", ErrCorrupt, f.Tick, n, len(data))
	}
	f.Records = make([]Record, n)
	for i := range f.Records {
		b := data[i*recordSize:]
		f.Records[i] = Record{
			Tick:   f.Tick,
			Worker: binary.BigEndian.Uint32(b),
			Entity: binary.BigEndian.Uint32(b[4:]),
			X:      math.Float32frombits(binary.BigEndian.Uint32(b[8:])),
			Y:      math.Float32frombits(binary.BigEndian.Uint32(b[12:])),
			VX:     math.Float32frombits(binary.BigEndian.Uint32(b[16:])),
			VY:     math.Float32frombits(binary.BigEndian.Uint32(b[20:])),
		}
	}
	return f, data[n*recordSize:], nil
}
