package topology

import (
	"errors"
	"fmt"
	"testing"

	"github.com/flockd-io/flockd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slots(n int) []Slot {
	s := make([]Slot, n)
	for i := range s {
		s[i] = Slot{ID: wire.FirstWorkerID + wire.ID(i), Router: 40 + wire.ID(i/2)}
	}
	return s
}

func TestClosestFactors(t *testing.T) {
	tests := []struct {
		n, h, w int
	}{
		{1, 1, 1},
		{2, 1, 2},
		{4, 2, 2},
		{6, 2, 3},
		{7, 1, 7},
		{12, 3, 4},
		{16, 4, 4},
		{18, 3, 6},
		{36, 6, 6},
		{97, 1, 97},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.n), func(t *testing.T) {
			h, w, err := ClosestFactors(tc.n)
			require.NoError(t, err)
			assert.Equal(t, tc.h, h)
			assert.Equal(t, tc.w, w)
		})
	}
}

func TestClosestFactorsOptimal(t *testing.T) {
	for n := 1; n <= 200; n++ {
		h, w, err := ClosestFactors(n)
		require.NoError(t, err)
		if h*w != n || h > w {
			t.Fatalf("n=%d: bad factors %d x %d", n, h, w)
		}
		for i := 1; i <= n; i++ {
			if n%i == 0 && i <= n/i && n/i-i < w-h {
				t.Fatalf("n=%d: %d x %d is closer than %d x %d", n, i, n/i, h, w)
			}
		}
	}
}

func TestClosestFactorsRejectsZero(t *testing.T) {
	_, _, err := ClosestFactors(0)
	if !errors.Is(err, ErrNoPartitions) {
		t.Fatalf("expected ErrNoPartitions, got %v", err)
	}
}

func TestBuildTiles(t *testing.T) {
	areas := [][2]int{{1280, 720}, {1000, 1000}, {97, 53}, {640, 480}}
	for _, a := range areas {
		for n := 1; n <= 64; n++ {
			d, err := Build(slots(n), Options{Width: a[0], Height: a[1], VisionRadius: 20})
			require.NoError(t, err)
			require.Equal(t, n, d.Len())
			if err := d.Tiles(); err != nil {
				t.Fatalf("n=%d area=%v: %v", n, a, err)
			}
		}
	}
}

func TestBuildRemainderGoesToLastRowAndColumn(t *testing.T) {
	d, err := Build(slots(6), Options{Width: 1001, Height: 721})
	require.NoError(t, err)
	w, h := d.Grid()
	assert.Equal(t, 3, w)
	assert.Equal(t, 2, h)

	first, _ := d.At(0, 0)
	assert.Equal(t, 333, first.Region.Width())
	assert.Equal(t, 360, first.Region.Height())

	last, _ := d.At(2, 1)
	assert.Equal(t, 335, last.Region.Width())
	assert.Equal(t, 361, last.Region.Height())
	assert.Equal(t, 1001, last.Region.XMax)
	assert.Equal(t, 721, last.Region.YMax)
}

func TestBuildRowMajorIDs(t *testing.T) {
	d, err := Build(slots(4), Options{Width: 1280, Height: 720})
	require.NoError(t, err)
	for i, p := range d.All() {
		assert.Equal(t, wire.FirstWorkerID+wire.ID(i), p.ID)
		assert.Equal(t, i%2, p.GridX)
		assert.Equal(t, i/2, p.GridY)
	}
}

func TestNeighborsWrap(t *testing.T) {
	d, err := Build(slots(12), Options{Width: 1200, Height: 900})
	require.NoError(t, err)
	w, h := d.Grid()
	origin, _ := d.At(0, 0)
	west, _ := d.At(w-1, 0)
	north, _ := d.At(0, h-1)
	northWest, _ := d.At(w-1, h-1)
	east, _ := d.At(1, 0)

	assert.Equal(t, west.ID, origin.Neighbors[wire.West])
	assert.Equal(t, north.ID, origin.Neighbors[wire.North])
	assert.Equal(t, northWest.ID, origin.Neighbors[wire.NorthWest])
	assert.Equal(t, east.ID, origin.Neighbors[wire.East])
	assert.Equal(t, 8, origin.DistinctNeighbors)
}

func TestNeighborSymmetry(t *testing.T) {
	opposite := map[int]int{
		wire.North: wire.South, wire.NorthEast: wire.SouthWest,
		wire.East: wire.West, wire.SouthEast: wire.NorthWest,
	}
	d, err := Build(slots(20), Options{Width: 1280, Height: 720})
	require.NoError(t, err)
	for _, p := range d.All() {
		for a, b := range opposite {
			q, ok := d.Get(p.Neighbors[a])
			require.True(t, ok)
			assert.Equal(t, p.ID, q.Neighbors[b], "partition %d slot %d", p.ID, a)
		}
	}
}

func TestDistinctNeighborCounts(t *testing.T) {
	single, err := Build(slots(1), Options{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.Equal(t, 0, single.All()[0].DistinctNeighbors)

	for _, n := range []int{3, 5, 7, 11} {
		d, err := Build(slots(n), Options{Width: 1280, Height: 720})
		require.NoError(t, err)
		for _, p := range d.All() {
			assert.Equal(t, 2, p.DistinctNeighbors, "1x%d grid partition %d", n, p.ID)
		}
	}

	pair, err := Build(slots(2), Options{Width: 100, Height: 100})
	require.NoError(t, err)
	for _, p := range pair.All() {
		assert.Equal(t, 1, p.DistinctNeighbors)
	}

	four, err := Build(slots(4), Options{Width: 100, Height: 100})
	require.NoError(t, err)
	for _, p := range four.All() {
		assert.Equal(t, 3, p.DistinctNeighbors)
	}
}

func TestBuildMinimalFlags(t *testing.T) {
	d, err := Build(slots(3), Options{Width: 60, Height: 100, VisionRadius: 20})
	require.NoError(t, err)
	for _, p := range d.All() {
		assert.True(t, p.MinimalWidth)
		assert.False(t, p.MinimalHeight)
	}
}

func TestBuildAreaTooSmall(t *testing.T) {
	_, err := Build(slots(5), Options{Width: 4, Height: 4})
	assert.ErrorIs(t, err, ErrAreaTooSmall)
}

func TestShares(t *testing.T) {
	assert.Equal(t, []int{25, 25, 25, 25}, Shares(100, 4))
	assert.Equal(t, []int{33, 33, 34}, Shares(100, 3))
	assert.Equal(t, []int{0, 0, 2}, Shares(2, 3))
	assert.Nil(t, Shares(10, 0))
}
