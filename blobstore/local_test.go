package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBlobStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	blobName := "my-looms/abc/data.ssidx"
	data := []byte("hello world, this is a test blob")

	require.NoError(t, store.Put(ctx, blobName, data))

	_, err := os.Stat(filepath.Join(tmpDir, "my-looms", "abc", "data.ssidx"))
	require.NoError(t, err)

	blob, err := store.Open(ctx, blobName)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))
	require.NoError(t, blob.Close())

	got, err := ReadAll(ctx, store, blobName)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, store.Put(ctx, "other.ssidx", []byte("x")))
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{blobName, "other.ssidx"}, names)

	names, err = store.List(ctx, "my-looms/")
	require.NoError(t, err)
	assert.Equal(t, []string{blobName}, names)

	require.NoError(t, store.Delete(ctx, blobName))
	require.NoError(t, store.Delete(ctx, blobName))

	_, err = store.Open(ctx, blobName)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalBlobStore_PutReplaces(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a", []byte("first version")))
	require.NoError(t, store.Put(ctx, "a", []byte("second")))

	got, err := ReadAll(ctx, store, "a")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestLocalBlobStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	src := []byte("payload")
	require.NoError(t, store.Put(ctx, "b", src))
	src[0] = 'X'

	got, err := ReadAll(ctx, store, "b")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	_, err = store.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "a", nil))
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, 2, store.Len())
}

type failingStore struct{ *MemoryStore }

func (failingStore) Put(context.Context, string, []byte) error { return errors.New("offline") }

func TestMirrorStore(t *testing.T) {
	ctx := context.Background()
	primary, secondary := NewMemoryStore(), NewMemoryStore()
	mirror := NewMirrorStore(primary, secondary, nil)

	require.NoError(t, mirror.Put(ctx, "idx", []byte("v1")))
	got, err := ReadAll(ctx, secondary, "idx")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	// A primary miss is served from the secondary and backfilled.
	require.NoError(t, primary.Delete(ctx, "idx"))
	got, err = ReadAll(ctx, mirror, "idx")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
	got, err = ReadAll(ctx, primary, "idx")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	require.NoError(t, mirror.Delete(ctx, "idx"))
	_, err = mirror.Open(ctx, "idx")
	assert.ErrorIs(t, err, ErrNotFound)

	// Secondary failures never surface.
	degraded := NewMirrorStore(NewMemoryStore(), failingStore{NewMemoryStore()}, nil)
	require.NoError(t, degraded.Put(ctx, "idx", []byte("v2")))
}
