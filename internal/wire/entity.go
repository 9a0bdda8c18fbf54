package wire

import (
	"fmt"
	"math"
)

// Entity is the state of one simulated boid as carried on the wire.
type Entity struct {
	ID     uint32
	X, Y   float64
	VX, VY float64
}

const (
	// fixedScale converts to 12.4 fixed point.
	fixedScale = 16
	// EntityWords is the number of body words per packed entity.
	EntityWords = 3
	// EntitiesPerMessage is how many packed entities fit after the
	// remaining-count word.
	EntitiesPerMessage = (MaxBodyLen - 1) / EntityWords
	// TransferLen is the body length of an EntityTransfer message.
	TransferLen = 5
	// MaxExtent is the largest simulation width or height whose positions
	// survive signed 12.4 packing.
	MaxExtent = math.MaxInt16 / fixedScale
)

func toFixed(v float64) int16 {
	f := math.Round(v * fixedScale)
	if f > math.MaxInt16 {
		return math.MaxInt16
	}
	if f < math.MinInt16 {
		return math.MinInt16
	}
	return int16(f)
}

func fromFixed(v int16) float64 {
	return float64(v) / fixedScale
}

// PackPair packs two values as signed 12.4 fixed point, a in the high half.
// Values outside +/-MaxExtent saturate.
func PackPair(a, b float64) uint32 {
	return uint32(uint16(toFixed(a)))<<16 | uint32(uint16(toFixed(b)))
}

// UnpackPair reverses PackPair.
func UnpackPair(w uint32) (float64, float64) {
	return fromFixed(int16(uint16(w >> 16))), fromFixed(int16(uint16(w)))
}

// PackEntities splits entities into message bodies of the form
// [remaining, pos, vel, id, pos, vel, id, ...] where remaining counts the
// bodies still to follow. An empty slice yields a single [0] body so the
// receiver still observes the end of the sequence.
func PackEntities(entities []Entity) [][]uint32 {
	chunks := (len(entities) + EntitiesPerMessage - 1) / EntitiesPerMessage
	if chunks == 0 {
		return [][]uint32{{0}}
	}
	bodies := make([][]uint32, 0, chunks)
	for c := 0; c < chunks; c++ {
		lo := c * EntitiesPerMessage
		hi := min(lo+EntitiesPerMessage, len(entities))
		body := make([]uint32, 0, 1+(hi-lo)*EntityWords)
		body = append(body, uint32(chunks-c-1))
		for _, e := range entities[lo:hi] {
			body = append(body, PackPair(e.X, e.Y), PackPair(e.VX, e.VY), e.ID)
		}
		bodies = append(bodies, body)
	}
	return bodies
}

// UnpackEntities decodes one body produced by PackEntities.
func UnpackEntities(body []uint32) (remaining uint32, entities []Entity, err error) {
	if len(body) < 1 {
		return 0, nil, fmt.Errorf("%w: entity chunk is empty", ErrShortBody)
	}
	rest := body[1:]
	if len(rest)%EntityWords != 0 {
		return 0, nil, fmt.Errorf("%w: entity chunk has %d trailing words", ErrShortBody, len(rest)%EntityWords)
	}
	entities = make([]Entity, 0, len(rest)/EntityWords)
	for i := 0; i < len(rest); i += EntityWords {
		x, y := UnpackPair(rest[i])
		vx, vy := UnpackPair(rest[i+1])
		entities = append(entities, Entity{ID: rest[i+2], X: x, Y: y, VX: vx, VY: vy})
	}
	return body[0], entities, nil
}

// TransferBody encodes a single entity handed over to a neighbour.
func TransferBody(e Entity) []uint32 {
	return []uint32{
		e.ID,
		uint32(int32(math.Round(e.X * fixedScale))),
		uint32(int32(math.Round(e.Y * fixedScale))),
		uint32(int32(math.Round(e.VX * fixedScale))),
		uint32(int32(math.Round(e.VY * fixedScale))),
	}
}

// DecodeTransfer parses an EntityTransfer body.
func DecodeTransfer(body []uint32) (Entity, error) {
	if len(body) < TransferLen {
		return Entity{}, fmt.Errorf("%w: transfer has %d words, want %d", ErrShortBody, len(body), TransferLen)
	}
	f := func(w uint32) float64 { return float64(int32(w)) / fixedScale }
	return Entity{ID: body[0], X: f(body[1]), Y: f(body[2]), VX: f(body[3]), VY: f(body[4])}, nil
}
