// Package objstore provides the object-store gateway for media blobs.
//
// Two backends exist: an S3-compatible store for production and a local
// filesystem store for development and tests. Both speak the same
// content-addressed path scheme.
package objstore

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/mediaforge-io/mediaforge/internal/fault"
)

// ErrNotFound is returned by Get and Head when no object exists at the path.
var ErrNotFound = errors.New("objstore: object not found")

// ErrPresignUnsupported is returned by backends without presign support.
var ErrPresignUnsupported = errors.New("objstore: presigned URLs not supported by this backend")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path          string
	SizeBytes     int64
	ContentType   string
	ETag          string
	LastModified  time.Time
	UserMetadata  map[string]string
}

// PutResult reports the outcome of a Put.
type PutResult struct {
	ETag string
}

// Store is the object-store contract consumed by the pipeline.
//
// Put is an atomic replace; Delete is idempotent. Paths are write-once
// in practice (a fresh UUID per derived object), so concurrent writers
// racing on the same path are harmless.
type Store interface {
	Put(ctx context.Context, path string, body io.Reader, contentType string, metadata map[string]string) (PutResult, error)
	Get(ctx context.Context, path string) ([]byte, string, error)
	Delete(ctx context.Context, path string) error
	Head(ctx context.Context, path string) (ObjectInfo, error)
	PresignGet(ctx context.Context, path string, ttl time.Duration) (string, error)
	PresignPut(ctx context.Context, path string, ttl time.Duration, contentType string) (string, error)
}

// storageErr wraps backend failures into the single retriable
// STORAGE_ERROR kind the worker layer understands.
func storageErr(op string, cause error) error {
	return fault.Transient(fault.CodeStorage, cause, "object store %s failed", op)
}
