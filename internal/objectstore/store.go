// Package objectstore defines the blob storage used for capture segments
// and topology snapshots.
//
// A flock writes small, immutable objects: one compressed segment every few
// ticks and one directory snapshot per topology change. The interface
// therefore covers whole-object reads and writes plus prefix listing, which
// every S3-compatible store supports.
//
//	store, err := s3.New(ctx, s3.Config{Bucket: "flocks"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = objectstore.PutBytes(ctx, store, "runs/abc/segments/000001.seg", data, "application/octet-stream")
//	if errors.Is(err, objectstore.ErrAccessDenied) {
//	    // credentials lack write access
//	}
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrPreconditionFailed is returned when a conditional write finds an
	// existing object.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credentials lack permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("objectstore: store is closed")
)

// ObjectError wraps an error with the operation and object key.
type ObjectError struct {
	Op  string
	Key string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ObjectMeta describes a stored object.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
	// LastModified is in unix milliseconds.
	LastModified int64
	Metadata     map[string]string
}

// PutOptions configures PutWithOptions.
type PutOptions struct {
	// Metadata is stored alongside the object.
	Metadata map[string]string

	// IfNoneMatch set to "*" makes the write fail with ErrPreconditionFailed
	// when the key already exists.
	IfNoneMatch string
}

// Store is a bucket of immutable objects. Implementations must be safe for
// concurrent use and wrap failures in ObjectError.
type Store interface {
	// Put writes size bytes from reader to key.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// PutWithOptions is Put with metadata and conditional create.
	PutWithOptions(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts PutOptions) error

	// Get opens an object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head returns an object's metadata.
	Head(ctx context.Context, key string) (ObjectMeta, error)

	// Delete removes an object. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// List returns every object under prefix in key order.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)

	// Close releases the store. Later calls fail with ErrClosed.
	Close() error
}

// PutBytes writes data to key.
func PutBytes(ctx context.Context, s Store, key string, data []byte, contentType string) error {
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// ReadAll reads a whole object.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &ObjectError{Op: "Get", Key: key, Err: err}
	}
	return data, nil
}
