package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/flockd-io/flockd/internal/metrics"
	"github.com/flockd-io/flockd/internal/objectstore"
	"github.com/flockd-io/flockd/internal/partition"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pair() *partition.Directory {
	return partition.NewDirectory(100, 50, 2, 1, []partition.Partition{
		{ID: 3, Region: partition.Region{XMin: 0, YMin: 0, XMax: 50, YMax: 50}, Router: 40},
		{ID: 4, Region: partition.Region{XMin: 50, YMin: 0, XMax: 100, YMax: 50}, GridX: 1, Router: 40},
	})
}

func TestFromDirectory(t *testing.T) {
	s := FromDirectory("run", 9, "LoadBalance", pair())
	assert.Equal(t, 100, s.Width)
	assert.Equal(t, 2, s.GridWidth)
	assert.Len(t, s.Partitions, 2)
	require.NoError(t, s.Validate())

	s.Partitions[0].Region.XMax = 40
	assert.ErrorIs(t, s.Validate(), partition.ErrNotTiled)

	assert.Error(t, Snapshot{}.Validate())
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Latest(ctx, "run")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Publish(ctx, FromDirectory("run", 0, "Setup", pair())))
	require.NoError(t, m.Publish(ctx, FromDirectory("run", 4, "LoadBalance", pair())))
	got, err := m.Latest(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.Tick)
	assert.Equal(t, 2, m.Published("run"))

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Publish(ctx, got), ErrClosed)
}

func TestObjectStore(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMockStore()
	o := NewObjectStore(store, "flocks")

	_, err := o.Latest(ctx, "run")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, o.Publish(ctx, FromDirectory("run", 0, "Setup", pair())))
	require.NoError(t, o.Publish(ctx, FromDirectory("run", 12, "LoadBalance", pair())))

	got, err := o.Latest(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), got.Tick)
	assert.Equal(t, "LoadBalance", got.Phase)
	require.NoError(t, got.Validate())

	history, err := o.History(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"flocks/runs/run/directory/00000000000000000000.json",
		"flocks/runs/run/directory/00000000000000000012.json",
	}, history)
}

// gatedPublisher blocks its first Publish until release is closed.
type gatedPublisher struct {
	*Memory
	once    sync.Once
	started chan struct{}
	release chan struct{}
	fail    error
}

func (g *gatedPublisher) Publish(ctx context.Context, s Snapshot) error {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	if g.fail != nil {
		return g.fail
	}
	return g.Memory.Publish(ctx, s)
}

func TestAsyncLatestWins(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewRegistryMetrics(prometheus.NewRegistry())
	inner := &gatedPublisher{
		Memory:  NewMemory(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	a := NewAsync(inner, AsyncConfig{Backend: BackendMemory, Metrics: m})

	require.NoError(t, a.Publish(ctx, FromDirectory("run", 1, "Setup", pair())))
	<-inner.started
	require.NoError(t, a.Publish(ctx, FromDirectory("run", 2, "LoadBalance", pair())))
	require.NoError(t, a.Publish(ctx, FromDirectory("run", 3, "LoadBalance", pair())))
	close(inner.release)

	require.NoError(t, a.Close())

	got, err := inner.Latest(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Tick)
	assert.Equal(t, 2, inner.Published("run"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SupersededTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PublishLatency))

	assert.ErrorIs(t, a.Publish(ctx, got), ErrClosed)
}

func TestAsyncFlushReportsError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	inner := &gatedPublisher{
		Memory:  NewMemory(),
		started: make(chan struct{}),
		release: make(chan struct{}),
		fail:    boom,
	}
	close(inner.release)
	a := NewAsync(inner, AsyncConfig{Backend: BackendMemory})
	defer a.Close()

	// Flush races the background goroutine; whichever runs first reports.
	require.NoError(t, a.Publish(ctx, FromDirectory("run", 1, "Setup", pair())))
	err := a.Flush(ctx)
	if err != nil {
		assert.ErrorIs(t, err, boom)
	}
	assert.NoError(t, a.Flush(ctx))
	_, err = a.Latest(ctx, "run")
	assert.ErrorIs(t, err, ErrNotFound)
}
