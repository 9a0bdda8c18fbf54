package balance

import (
	"fmt"

	"github.com/flockd-io/flockd/internal/partition"
)

// EdgeDelta is a per-edge boundary move measured in vision-radius steps.
// Positive values move the edge outward (the region grows), negative values
// move it inward (the region shrinks).
type EdgeDelta struct {
	N, E, S, W int8
}

// Zero reports whether the delta moves no edge.
func (d EdgeDelta) Zero() bool {
	return d == EdgeDelta{}
}

func (d EdgeDelta) String() string {
	return fmt.Sprintf("N%+d E%+d S%+d W%+d", d.N, d.E, d.S, d.W)
}

// Bit offsets of each edge's nibble in the packed form.
const (
	northShift = 12
	eastShift  = 8
	southShift = 4
	westShift  = 0
)

// Pack encodes the delta as four signed nibbles, N in the top nibble and W
// in the bottom one. Values outside [-8, 7] are saturated.
func Pack(d EdgeDelta) uint16 {
	return nibble(d.N)<<northShift | nibble(d.E)<<eastShift | nibble(d.S)<<southShift | nibble(d.W)<<westShift
}

// Unpack decodes a value produced by Pack.
func Unpack(v uint16) EdgeDelta {
	return EdgeDelta{
		N: signed(v >> northShift),
		E: signed(v >> eastShift),
		S: signed(v >> southShift),
		W: signed(v >> westShift),
	}
}

func nibble(v int8) uint16 {
	v = max(-8, min(7, v))
	return uint16(uint8(v) & 0xF)
}

func signed(v uint16) int8 {
	return int8(uint8(v&0xF)<<4) >> 4
}

// Apply moves r's edges by d, one step being radius pixels.
func Apply(r partition.Region, d EdgeDelta, radius int) partition.Region {
	r.YMin -= int(d.N) * radius
	r.XMax += int(d.E) * radius
	r.YMax += int(d.S) * radius
	r.XMin -= int(d.W) * radius
	return r
}
