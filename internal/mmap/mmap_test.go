package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestMmap_OpenReadClose(t *testing.T) {
	content := []byte("Hello, Mmap!")
	m, err := Open(writeTemp(t, content), AccessRandom)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, len(content), m.Size())
	assert.Equal(t, content, m.Bytes())

	buf := make([]byte, 5)
	n, err := m.ReadAt(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "Mmap!", string(buf))

	n, err = m.ReadAt(make([]byte, 10), 100)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)

	partial := make([]byte, 10)
	n, err = m.ReadAt(partial, 7)
	assert.Equal(t, 5, n)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "Mmap!", string(partial[:n]))

	_, err = m.ReadAt(buf, -1)
	assert.Equal(t, ErrInvalidOffset, err)
}

func TestMmap_EmptyFile(t *testing.T) {
	m, err := Open(writeTemp(t, nil), AccessDefault)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 0, m.Size())
	assert.Nil(t, m.Bytes())
}

func TestMmap_CloseIsIdempotent(t *testing.T) {
	m, err := Open(writeTemp(t, []byte("abc")), AccessSequential)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())

	_, err = m.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 3, m.Size())
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.loom"), AccessRandom)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpen_SurvivesRewrite(t *testing.T) {
	path := writeTemp(t, []byte("old contents"))
	m, err := Open(path, AccessRandom)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, path, m.Path())

	// Writers replace the file by rename; the old mapping keeps its bytes.
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("new"), 0o644))
	require.NoError(t, os.Rename(tmp, path))
	assert.Equal(t, "old contents", string(m.Bytes()))
}

func TestLockFile(t *testing.T) {
	path := writeTemp(t, []byte("lock me"))

	lk, err := LockFile(path)
	require.NoError(t, err)
	data, err := io.ReadAll(lk.File())
	require.NoError(t, err)
	assert.Equal(t, "lock me", string(data))

	_, err = LockFile(path)
	assert.ErrorIs(t, err, ErrLocked)

	// Readers are not blocked by the writer's lock.
	m, err := Open(path, AccessRandom)
	require.NoError(t, err)
	assert.Equal(t, data, m.Bytes())
	require.NoError(t, m.Close())

	require.NoError(t, lk.Release())
	require.NoError(t, lk.Release())

	// Re-lockable once released.
	lk, err = LockFile(path)
	require.NoError(t, err)
	require.NoError(t, lk.Release())
}

func TestLockFile_Missing(t *testing.T) {
	_, err := LockFile(filepath.Join(t.TempDir(), "missing.loom"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
