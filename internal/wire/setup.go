package wire

import "fmt"

// Neighbour slot order carried in setup records. The order is part of the
// protocol: workers and routers index neighbour lists by these constants.
const (
	North = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
	NeighborSlots
)

// SetupLen is the body length of a setup record.
const SetupLen = 7 + NeighborSlots + 2

// SetupRecord is the body of a Setup message.
type SetupRecord struct {
	ID                ID
	Population        uint32
	XMin, YMin        uint32
	XMax, YMax        uint32
	DistinctNeighbors uint32
	Neighbors         [NeighborSlots]ID
	Width, Height     uint32
}

// Body encodes the record as message body words.
func (r SetupRecord) Body() []uint32 {
	b := make([]uint32, 0, SetupLen)
	b = append(b, uint32(r.ID), r.Population, r.XMin, r.YMin, r.XMax, r.YMax, r.DistinctNeighbors)
	for _, n := range r.Neighbors {
		b = append(b, uint32(n))
	}
	return append(b, r.Width, r.Height)
}

// DecodeSetup parses a setup body.
func DecodeSetup(body []uint32) (SetupRecord, error) {
	if len(body) < SetupLen {
		return SetupRecord{}, fmt.Errorf("%w: setup has %d words, want %d", ErrShortBody, len(body), SetupLen)
	}
	r := SetupRecord{
		ID:                ID(body[0]),
		Population:        body[1],
		XMin:              body[2],
		YMin:              body[3],
		XMax:              body[4],
		YMax:              body[5],
		DistinctNeighbors: body[6],
		Width:             body[7+NeighborSlots],
		Height:            body[8+NeighborSlots],
	}
	for i := range r.Neighbors {
		r.Neighbors[i] = ID(body[7+i])
	}
	return r, nil
}
