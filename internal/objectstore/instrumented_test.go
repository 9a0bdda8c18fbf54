package objectstore

import (
	"context"
	"io"
	"testing"

	"github.com/flockd-io/flockd/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instrumented(t *testing.T) (*InstrumentedStore, *metrics.ObjectStoreMetrics) {
	t.Helper()
	m := metrics.NewObjectStoreMetrics(prometheus.NewRegistry())
	return NewInstrumentedStore(NewMockStore(), m), m
}

func TestInstrumentedPutAndGet(t *testing.T) {
	ctx := context.Background()
	s, m := instrumented(t)

	require.NoError(t, PutBytes(ctx, s, "seg", []byte("0123456789"), "application/octet-stream"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues(metrics.OpObjPut, metrics.StatusSuccess)))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.BytesTotal.WithLabelValues(metrics.DirectionWrite)))

	rc, err := s.Get(ctx, "seg")
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.Zero(t, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(metrics.OpObjGet, metrics.StatusSuccess)), "recorded on close")
	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues(metrics.OpObjGet, metrics.StatusSuccess)))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.BytesTotal.WithLabelValues(metrics.DirectionRead)))
}

func TestInstrumentedFailures(t *testing.T) {
	ctx := context.Background()
	s, m := instrumented(t)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Head(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues(metrics.OpObjGet, metrics.StatusFailure)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues(metrics.OpObjHead, metrics.StatusFailure)))
}

func TestInstrumentedListDelete(t *testing.T) {
	ctx := context.Background()
	s, m := instrumented(t)
	require.NoError(t, PutBytes(ctx, s, "a/1", []byte("x"), "text/plain"))

	got, err := s.List(ctx, "a/")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	require.NoError(t, s.Delete(ctx, "a/1"))
	require.NoError(t, s.Close())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues(metrics.OpObjList, metrics.StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues(metrics.OpObjDelete, metrics.StatusSuccess)))
}

func TestInstrumentedNilRecorder(t *testing.T) {
	ctx := context.Background()
	s := NewInstrumentedStore(NewMockStore(), nil)
	require.NoError(t, PutBytes(ctx, s, "k", []byte("v"), "text/plain"))
	data, err := ReadAll(ctx, s, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))
}
