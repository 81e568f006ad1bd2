package mmap

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// Mapping is a read-only view of a whole file. Dataset readers parse their
// sections straight out of Bytes, so every slice they hand out aliases the
// mapping and dies with it.
type Mapping struct {
	path   string
	data   []byte
	unmap  func([]byte) error
	closed atomic.Bool
}

// Open maps the file at path read-only and passes pattern to the kernel.
// An empty file yields a Mapping with no bytes.
func Open(path string, pattern AccessPattern) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	m := &Mapping{path: path}
	switch size := fi.Size(); {
	case size == 0:
		return m, nil
	case size < 0 || int64(int(size)) != size:
		return nil, fmt.Errorf("%w: %s: %d bytes", ErrInvalidSize, path, size)
	default:
		if m.data, m.unmap, err = osMap(f, int(size)); err != nil {
			return nil, fmt.Errorf("mmap %s: %w", path, err)
		}
	}
	// The hint is best effort; a refused madvise leaves the mapping usable.
	_ = osAdvise(m.data, pattern)
	return m, nil
}

// Path returns the path the mapping was opened from.
func (m *Mapping) Path() string { return m.path }

// Size returns the mapped length in bytes. It stays valid after Close.
func (m *Mapping) Size() int { return len(m.data) }

// Bytes returns the mapped file, or nil once the mapping is closed.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// ReadAt copies from the mapping at off. It implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	data := m.Bytes()
	switch {
	case data == nil && m.closed.Load():
		return 0, ErrClosed
	case off < 0:
		return 0, ErrInvalidOffset
	case off >= int64(len(data)):
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the file. Calls after the first return nil.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) || m.unmap == nil {
		return nil
	}
	return m.unmap(m.data)
}
