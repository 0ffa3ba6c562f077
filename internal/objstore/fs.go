package objstore

import (
	"context"
	"crypto/md5" // #nosec G501 -- etag compatibility, not security
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// FSStore is a local-filesystem object store used for development and
// tests. Writes are atomic via rename; a JSON sidecar carries the
// content type and user metadata next to each blob.
type FSStore struct {
	root   string
	logger zerolog.Logger
}

type fsSidecar struct {
	ContentType  string            `json:"contentType"`
	ETag         string            `json:"etag"`
	UserMetadata map[string]string `json:"userMetadata,omitempty"`
}

// NewFSStore creates a filesystem store rooted at root.
func NewFSStore(root string, logger zerolog.Logger) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, storageErr("init", err)
	}
	return &FSStore{root: root, logger: logger}, nil
}

func (s *FSStore) blobPath(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(p))
}

func (s *FSStore) sidecarPath(p string) string {
	return s.blobPath(p) + ".meta.json"
}

// Put writes the object and its sidecar atomically.
func (s *FSStore) Put(ctx context.Context, path string, body io.Reader, contentType string, metadata map[string]string) (PutResult, error) {
	if err := ctx.Err(); err != nil {
		return PutResult{}, storageErr("put", err)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return PutResult{}, storageErr("put", err)
	}

	target := s.blobPath(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return PutResult{}, storageErr("put", err)
	}

	sum := md5.Sum(data) // #nosec G401 -- etag compatibility
	etag := hex.EncodeToString(sum[:])

	if err := renameio.WriteFile(target, data, 0o640); err != nil {
		return PutResult{}, storageErr("put", err)
	}

	side, err := json.Marshal(fsSidecar{ContentType: contentType, ETag: etag, UserMetadata: metadata})
	if err != nil {
		return PutResult{}, storageErr("put", err)
	}
	if err := renameio.WriteFile(s.sidecarPath(path), side, 0o640); err != nil {
		return PutResult{}, storageErr("put", err)
	}

	s.logger.Debug().Str("path", path).Int("size", len(data)).Msg("object stored")
	return PutResult{ETag: etag}, nil
}

// Get returns the object bytes and content type.
func (s *FSStore) Get(ctx context.Context, path string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", storageErr("get", err)
	}

	data, err := os.ReadFile(s.blobPath(path)) // #nosec G304 -- path derived from our own scheme
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", storageErr("get", err)
	}

	side, err := s.readSidecar(path)
	if err != nil {
		return nil, "", err
	}
	return data, side.ContentType, nil
}

// Delete removes the object; deleting a missing object is a no-op.
func (s *FSStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("delete", err)
	}

	if err := os.Remove(s.blobPath(path)); err != nil && !os.IsNotExist(err) {
		return storageErr("delete", err)
	}
	if err := os.Remove(s.sidecarPath(path)); err != nil && !os.IsNotExist(err) {
		return storageErr("delete", err)
	}
	return nil
}

// Head returns object metadata without the body.
func (s *FSStore) Head(ctx context.Context, path string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, storageErr("head", err)
	}

	fi, err := os.Stat(s.blobPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, storageErr("head", err)
	}

	side, err := s.readSidecar(path)
	if err != nil {
		return ObjectInfo{}, err
	}

	return ObjectInfo{
		Path:         path,
		SizeBytes:    fi.Size(),
		ContentType:  side.ContentType,
		ETag:         side.ETag,
		LastModified: fi.ModTime(),
		UserMetadata: side.UserMetadata,
	}, nil
}

// PresignGet is not supported for the filesystem backend.
func (s *FSStore) PresignGet(ctx context.Context, path string, ttl time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}

// PresignPut is not supported for the filesystem backend.
func (s *FSStore) PresignPut(ctx context.Context, path string, ttl time.Duration, contentType string) (string, error) {
	return "", ErrPresignUnsupported
}

func (s *FSStore) readSidecar(path string) (fsSidecar, error) {
	var side fsSidecar
	data, err := os.ReadFile(s.sidecarPath(path)) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			// Blob without sidecar still serves; default content type.
			return fsSidecar{ContentType: "application/octet-stream"}, nil
		}
		return side, storageErr("get", err)
	}
	if err := json.Unmarshal(data, &side); err != nil {
		return side, storageErr("get", err)
	}
	return side, nil
}
