// Package storage provides the object storage abstraction behind the
// analytics log. Objects are write-once; the local backend additionally
// supports atomic appends for day-partitioned files.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound    = errors.New("object not found")
	ErrObjectExists      = errors.New("object already exists")
	ErrAppendUnsupported = errors.New("append not supported by this backend")
	ErrUploadFailed      = errors.New("upload failed")
	ErrDownloadFailed    = errors.New("download failed")
	ErrInvalidObjectPath = errors.New("invalid object path")
)

// ObjectStorage abstracts object storage operations.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Put creates objectPath with data. It fails with ErrObjectExists when
	// the object is already present, so a stored object is never rewritten.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get returns the full contents of an object.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix,
	// slash-separated and relative to the storage root.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Appender is implemented by backends that can extend an object in place.
// Each call must land as one contiguous write, never interleaved with
// another caller's data.
type Appender interface {
	Append(ctx context.Context, objectPath string, data []byte) error
}
