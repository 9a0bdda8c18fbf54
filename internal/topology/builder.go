// Package topology lays discovered workers out on a grid over the
// simulation area and computes each partition's neighbours.
package topology

import (
	"errors"
	"fmt"

	"github.com/flockd-io/flockd/internal/partition"
	"github.com/flockd-io/flockd/internal/wire"
)

var (
	// ErrNoPartitions is returned when asked to lay out zero workers.
	ErrNoPartitions = errors.New("topology: no partitions")
	// ErrAreaTooSmall is returned when the grid has more cells than pixels.
	ErrAreaTooSmall = errors.New("topology: simulation area too small for grid")
)

// Slot is one discovered worker: the id the coordinator assigned to it and
// the router that hosts it.
type Slot struct {
	ID     wire.ID
	Router wire.ID
}

// Options configures Build.
type Options struct {
	Width, Height int
	// VisionRadius seeds the minimal width/height flags.
	VisionRadius int
}

// ClosestFactors returns (h, w) with h*w == n and h <= w, minimising w-h.
// Among equally close pairs the one with the smallest h wins.
func ClosestFactors(n int) (h, w int, err error) {
	if n <= 0 {
		return 0, 0, fmt.Errorf("%w: n=%d", ErrNoPartitions, n)
	}
	best := -1
	for i := 1; i*i <= n; i++ {
		if n%i != 0 {
			continue
		}
		j := n / i
		if best < 0 || j-i < best {
			h, w, best = i, j, j-i
		}
	}
	return h, w, nil
}

// Build lays slots out row-major over the grid chosen by ClosestFactors.
// Cells share the area evenly; remainder pixels go to the last column and
// the last row. Neighbours wrap toroidally.
func Build(slots []Slot, opts Options) (*partition.Directory, error) {
	h, w, err := ClosestFactors(len(slots))
	if err != nil {
		return nil, err
	}
	if opts.Width < w || opts.Height < h {
		return nil, fmt.Errorf("%w: %dx%d grid over %dx%d pixels", ErrAreaTooSmall, w, h, opts.Width, opts.Height)
	}

	cellW, cellH := opts.Width/w, opts.Height/h
	remW, remH := opts.Width-cellW*w, opts.Height-cellH*h

	grid := make([][]wire.ID, h)
	parts := make([]partition.Partition, 0, len(slots))
	n := 0
	for y := 0; y < h; y++ {
		grid[y] = make([]wire.ID, w)
		for x := 0; x < w; x++ {
			r := partition.Region{
				XMin: x * cellW,
				YMin: y * cellH,
				XMax: (x + 1) * cellW,
				YMax: (y + 1) * cellH,
			}
			if x == w-1 {
				r.XMax += remW
			}
			if y == h-1 {
				r.YMax += remH
			}
			s := slots[n]
			parts = append(parts, partition.Partition{
				ID:            s.ID,
				Router:        s.Router,
				Region:        r,
				GridX:         x,
				GridY:         y,
				MinimalWidth:  r.Width() <= opts.VisionRadius,
				MinimalHeight: r.Height() <= opts.VisionRadius,
			})
			grid[y][x] = s.ID
			n++
		}
	}

	for i := range parts {
		parts[i].Neighbors = Neighbors(grid, parts[i].GridX, parts[i].GridY)
		parts[i].DistinctNeighbors = DistinctNeighbors(parts[i].ID, parts[i].Neighbors)
	}
	return partition.NewDirectory(opts.Width, opts.Height, w, h, parts), nil
}

// Neighbors returns the eight ids around (x, y) in N, NE, E, SE, S, SW, W,
// NW order, wrapping at the grid edges.
func Neighbors(grid [][]wire.ID, x, y int) [wire.NeighborSlots]wire.ID {
	h := len(grid)
	w := len(grid[0])
	west, east := (x+w-1)%w, (x+1)%w
	north, south := (y+h-1)%h, (y+1)%h

	var n [wire.NeighborSlots]wire.ID
	n[wire.North] = grid[north][x]
	n[wire.NorthEast] = grid[north][east]
	n[wire.East] = grid[y][east]
	n[wire.SouthEast] = grid[south][east]
	n[wire.South] = grid[south][x]
	n[wire.SouthWest] = grid[south][west]
	n[wire.West] = grid[y][west]
	n[wire.NorthWest] = grid[north][west]
	return n
}

// DistinctNeighbors counts the different partitions among the neighbour
// slots, not counting self. It is the number of neighbour replies a worker
// waits for during neighbour exchange.
func DistinctNeighbors(self wire.ID, nbrs [wire.NeighborSlots]wire.ID) int {
	seen := make(map[wire.ID]struct{}, len(nbrs))
	for _, n := range nbrs {
		if n == self {
			continue
		}
		seen[n] = struct{}{}
	}
	return len(seen)
}

// Shares splits total entities across n partitions evenly; the last
// partition takes the remainder.
func Shares(total, n int) []int {
	if n <= 0 {
		return nil
	}
	each := total / n
	out := make([]int, n)
	for i := range out {
		out[i] = each
	}
	out[n-1] += total - each*n
	return out
}
