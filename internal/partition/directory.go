// Package partition holds the authoritative record of every worker
// partition: its region, grid position, neighbours and population.
//
// A Directory is owned by a single goroutine (the coordinator's event
// loop). Snapshots handed to other goroutines are deep copies.
package partition

import (
	"errors"
	"fmt"
	"sort"

	"github.com/flockd-io/flockd/internal/wire"
)

var (
	// ErrUnknownPartition is returned for ids not present in the directory.
	ErrUnknownPartition = errors.New("partition: unknown partition")
	// ErrNotTiled is returned when regions leave gaps or overlap.
	ErrNotTiled = errors.New("partition: regions do not tile the simulation area")
)

// Region is a half-open pixel rectangle [XMin,XMax) x [YMin,YMax).
type Region struct {
	XMin int `json:"xMin"`
	YMin int `json:"yMin"`
	XMax int `json:"xMax"`
	YMax int `json:"yMax"`
}

// Width returns the horizontal extent.
func (r Region) Width() int { return r.XMax - r.XMin }

// Height returns the vertical extent.
func (r Region) Height() int { return r.YMax - r.YMin }

// Area returns the region's pixel count.
func (r Region) Area() int { return r.Width() * r.Height() }

// Contains reports whether the point lies inside the region.
func (r Region) Contains(x, y float64) bool {
	return x >= float64(r.XMin) && x < float64(r.XMax) && y >= float64(r.YMin) && y < float64(r.YMax)
}

// Overlaps reports whether two regions share any pixel.
func (r Region) Overlaps(o Region) bool {
	return r.XMin < o.XMax && o.XMin < r.XMax && r.YMin < o.YMax && o.YMin < r.YMax
}

func (r Region) String() string {
	return fmt.Sprintf("[%d,%d %d,%d]", r.XMin, r.YMin, r.XMax, r.YMax)
}

// Partition is the directory entry for one worker.
type Partition struct {
	ID                wire.ID                     `json:"id"`
	Region            Region                      `json:"region"`
	GridX             int                         `json:"gridX"`
	GridY             int                         `json:"gridY"`
	Neighbors         [wire.NeighborSlots]wire.ID `json:"neighbors"`
	DistinctNeighbors int                         `json:"distinctNeighbors"`
	Population        int                         `json:"population"`
	Router            wire.ID                     `json:"router"`
	MinimalWidth      bool                        `json:"minimalWidth"`
	MinimalHeight     bool                        `json:"minimalHeight"`
}

// SetupRecord renders the partition as the record a worker receives.
func (p Partition) SetupRecord(width, height int) wire.SetupRecord {
	return wire.SetupRecord{
		ID:                p.ID,
		Population:        uint32(p.Population),
		XMin:              uint32(p.Region.XMin),
		YMin:              uint32(p.Region.YMin),
		XMax:              uint32(p.Region.XMax),
		YMax:              uint32(p.Region.YMax),
		DistinctNeighbors: uint32(p.DistinctNeighbors),
		Neighbors:         p.Neighbors,
		Width:             uint32(width),
		Height:            uint32(height),
	}
}

// Directory is the set of partitions laid over one simulation rectangle.
type Directory struct {
	width, height int
	gridW, gridH  int
	parts         []Partition
	index         map[wire.ID]int
}

// NewDirectory creates a directory over a width x height area arranged as a
// gridW x gridH grid. Partitions are stored in the given order.
func NewDirectory(width, height, gridW, gridH int, parts []Partition) *Directory {
	d := &Directory{
		width:  width,
		height: height,
		gridW:  gridW,
		gridH:  gridH,
		parts:  make([]Partition, len(parts)),
		index:  make(map[wire.ID]int, len(parts)),
	}
	copy(d.parts, parts)
	for i, p := range d.parts {
		d.index[p.ID] = i
	}
	return d
}

// Width returns the simulation width in pixels.
func (d *Directory) Width() int { return d.width }

// Height returns the simulation height in pixels.
func (d *Directory) Height() int { return d.height }

// Grid returns the grid dimensions as (columns, rows).
func (d *Directory) Grid() (int, int) { return d.gridW, d.gridH }

// Len returns the number of partitions.
func (d *Directory) Len() int { return len(d.parts) }

// Get returns the partition with the given id.
func (d *Directory) Get(id wire.ID) (Partition, bool) {
	i, ok := d.index[id]
	if !ok {
		return Partition{}, false
	}
	return d.parts[i], true
}

// At returns the partition at grid position (x, y).
func (d *Directory) At(x, y int) (Partition, bool) {
	for _, p := range d.parts {
		if p.GridX == x && p.GridY == y {
			return p, true
		}
	}
	return Partition{}, false
}

// All returns a copy of every partition in directory order.
func (d *Directory) All() []Partition {
	out := make([]Partition, len(d.parts))
	copy(out, d.parts)
	return out
}

// Routers returns the distinct owning router ids in ascending order.
func (d *Directory) Routers() []wire.ID {
	seen := make(map[wire.ID]struct{})
	var out []wire.ID
	for _, p := range d.parts {
		if _, ok := seen[p.Router]; ok {
			continue
		}
		seen[p.Router] = struct{}{}
		out = append(out, p.Router)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetRegion replaces a partition's region.
func (d *Directory) SetRegion(id wire.ID, r Region) error {
	i, ok := d.index[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPartition, id)
	}
	d.parts[i].Region = r
	return nil
}

// SetPopulation records a partition's advisory entity count.
func (d *Directory) SetPopulation(id wire.ID, n int) error {
	i, ok := d.index[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPartition, id)
	}
	d.parts[i].Population = n
	return nil
}

// AssignShares sets every partition's population from shares, in directory
// order.
func (d *Directory) AssignShares(shares []int) error {
	if len(shares) != len(d.parts) {
		return fmt.Errorf("partition: %d shares for %d partitions", len(shares), len(d.parts))
	}
	for i := range d.parts {
		d.parts[i].Population = shares[i]
	}
	return nil
}

// MinimalKind is the body of a MinimalBoundsReport.
type MinimalKind uint32

const (
	MinimalWidthOnly  MinimalKind = 0
	MinimalHeightOnly MinimalKind = 1
	MinimalBoth       MinimalKind = 2
)

// MarkMinimal records that a partition reported being at minimum size.
func (d *Directory) MarkMinimal(id wire.ID, kind MinimalKind) error {
	i, ok := d.index[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPartition, id)
	}
	switch kind {
	case MinimalWidthOnly:
		d.parts[i].MinimalWidth = true
	case MinimalHeightOnly:
		d.parts[i].MinimalHeight = true
	case MinimalBoth:
		d.parts[i].MinimalWidth = true
		d.parts[i].MinimalHeight = true
	default:
		return fmt.Errorf("partition: unknown minimal kind %d", kind)
	}
	return nil
}

// RefreshMinimal recomputes both minimal flags from the region size.
func (d *Directory) RefreshMinimal(id wire.ID, radius int) {
	i, ok := d.index[id]
	if !ok {
		return
	}
	r := d.parts[i].Region
	d.parts[i].MinimalWidth = r.Width() <= radius
	d.parts[i].MinimalHeight = r.Height() <= radius
}

// Tiles verifies that the regions cover the simulation rectangle exactly:
// every region is non-empty and in bounds, no two overlap, and the areas
// sum to the whole.
func (d *Directory) Tiles() error {
	total := 0
	for i, p := range d.parts {
		r := p.Region
		if r.Width() <= 0 || r.Height() <= 0 {
			return fmt.Errorf("%w: partition %d has empty region %s", ErrNotTiled, p.ID, r)
		}
		if r.XMin < 0 || r.YMin < 0 || r.XMax > d.width || r.YMax > d.height {
			return fmt.Errorf("%w: partition %d region %s out of bounds", ErrNotTiled, p.ID, r)
		}
		for _, q := range d.parts[i+1:] {
			if r.Overlaps(q.Region) {
				return fmt.Errorf("%w: partitions %d and %d overlap", ErrNotTiled, p.ID, q.ID)
			}
		}
		total += r.Area()
	}
	if total != d.width*d.height {
		return fmt.Errorf("%w: covered %d of %d pixels", ErrNotTiled, total, d.width*d.height)
	}
	return nil
}

// Clone returns an independent copy of the directory.
func (d *Directory) Clone() *Directory {
	return NewDirectory(d.width, d.height, d.gridW, d.gridH, d.parts)
}
