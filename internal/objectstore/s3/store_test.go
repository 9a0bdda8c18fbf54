package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/flockd-io/flockd/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves the path-style subset of the S3 API the store uses.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	denied  bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.denied {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != "flocks" {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<Error><Code>NoSuchBucket</Code><Message>no bucket</Message></Error>`)
		return
	}

	switch {
	case r.Method == http.MethodGet && key == "":
		f.list(w, r.URL.Query().Get("prefix"))
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		if r.Header.Get("If-None-Match") == "*" {
			if _, ok := f.objects[key]; ok {
				w.WriteHeader(http.StatusPreconditionFailed)
				fmt.Fprint(w, `<Error><Code>PreconditionFailed</Code><Message>exists</Message></Error>`)
				return
			}
		}
		f.objects[key] = data
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
	case r.Method == http.MethodGet, r.Method == http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				fmt.Fprint(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Type", f.types[key])
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.Header().Set("ETag", `"etag"`)
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, prefix string) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sb.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&sb, `<Name>flocks</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>`, prefix, len(keys))
	for _, k := range keys {
		fmt.Fprintf(&sb, `<Contents><Key>%s</Key><Size>%d</Size><ETag>"etag"</ETag></Contents>`, k, len(f.objects[k]))
	}
	sb.WriteString(`</ListBucketResult>`)
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, sb.String())
}

func newTestStore(t *testing.T, bucket string) (*Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := New(context.Background(), Config{
		Bucket:          bucket,
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, fake
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestPutGetHead(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, "flocks")

	key := "runs/r1/segments/000001.seg"
	require.NoError(t, objectstore.PutBytes(ctx, s, key, []byte("segment"), "application/octet-stream"))

	data, err := objectstore.ReadAll(ctx, s, key)
	require.NoError(t, err)
	assert.Equal(t, "segment", string(data))

	meta, err := s.Head(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), meta.Size)
	assert.Equal(t, "application/octet-stream", meta.ContentType)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, "flocks")

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	_, err = s.Head(ctx, "missing")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "missing"))
}

func TestConditionalPut(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, "flocks")
	opts := objectstore.PutOptions{IfNoneMatch: "*"}

	require.NoError(t, s.PutWithOptions(ctx, "k", strings.NewReader("a"), 1, "text/plain", opts))
	err := s.PutWithOptions(ctx, "k", strings.NewReader("b"), 1, "text/plain", opts)
	assert.ErrorIs(t, err, objectstore.ErrPreconditionFailed)
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t, "flocks")
	for _, k := range []string{"runs/r1/b", "runs/r1/a", "runs/r2/a"} {
		require.NoError(t, objectstore.PutBytes(ctx, s, k, []byte(k), "text/plain"))
	}

	got, err := s.List(ctx, "runs/r1/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "runs/r1/a", got[0].Key)
	assert.Equal(t, int64(len("runs/r1/a")), got[0].Size)

	require.NoError(t, s.Delete(ctx, "runs/r1/a"))
	assert.Len(t, fake.objects, 2)
}

func TestErrorMapping(t *testing.T) {
	ctx := context.Background()

	s, _ := newTestStore(t, "elsewhere")
	err := objectstore.PutBytes(ctx, s, "k", []byte("x"), "text/plain")
	assert.Error(t, err)
	var oe *objectstore.ObjectError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "Put", oe.Op)

	s, fake := newTestStore(t, "flocks")
	fake.denied = true
	_, err = s.Head(ctx, "k")
	assert.ErrorIs(t, err, objectstore.ErrAccessDenied)
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, "flocks")
	require.NoError(t, s.Close())

	assert.ErrorIs(t, objectstore.PutBytes(ctx, s, "k", []byte("x"), "text/plain"), objectstore.ErrClosed)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, objectstore.ErrClosed)
	_, err = s.List(ctx, "")
	assert.ErrorIs(t, err, objectstore.ErrClosed)
}
