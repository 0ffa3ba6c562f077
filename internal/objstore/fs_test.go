package objstore

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFSStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestFSStore_PutGetHead(t *testing.T) {
	s := newFSStore(t)
	ctx := context.Background()

	body := []byte("hello blob")
	res, err := s.Put(ctx, "org/image/2026/01/01/a.png", bytes.NewReader(body), "image/png", map[string]string{"job": "j-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ETag)

	data, ct, err := s.Get(ctx, "org/image/2026/01/01/a.png")
	require.NoError(t, err)
	assert.Equal(t, body, data)
	assert.Equal(t, "image/png", ct)

	info, err := s.Head(ctx, "org/image/2026/01/01/a.png")
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), info.SizeBytes)
	assert.Equal(t, res.ETag, info.ETag)
	assert.Equal(t, "j-1", info.UserMetadata["job"])
}

func TestFSStore_PutIsAtomicReplace(t *testing.T) {
	s := newFSStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "p", bytes.NewReader([]byte("v1")), "text/plain", nil)
	require.NoError(t, err)
	_, err = s.Put(ctx, "p", bytes.NewReader([]byte("v2")), "text/plain", nil)
	require.NoError(t, err)

	data, _, err := s.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestFSStore_GetMissing(t *testing.T) {
	s := newFSStore(t)

	_, _, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Head(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_DeleteIdempotent(t *testing.T) {
	s := newFSStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "d", bytes.NewReader([]byte("x")), "text/plain", nil)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "d"))
	require.NoError(t, s.Delete(ctx, "d"), "second delete is a no-op")

	_, _, err = s.Get(ctx, "d")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_PresignUnsupported(t *testing.T) {
	s := newFSStore(t)

	_, err := s.PresignGet(context.Background(), "p", time.Minute)
	assert.ErrorIs(t, err, ErrPresignUnsupported)

	_, err = s.PresignPut(context.Background(), "p", time.Minute, "image/png")
	assert.ErrorIs(t, err, ErrPresignUnsupported)
}
