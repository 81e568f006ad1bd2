package dataset

import (
	"fmt"
	"io"
	"sync"

	"github.com/hupe1980/scopeserve/codec"
	"github.com/hupe1980/scopeserve/internal/mmap"
	"github.com/hupe1980/scopeserve/persistence"
)

// Mode is the access mode of an open dataset file.
type Mode uint8

const (
	// ModeRead maps the file read-only. Any number of readers may share it.
	ModeRead Mode = iota
	// ModeReadWrite holds an exclusive lock and buffers mutations in memory.
	ModeReadWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "r"
	case ModeReadWrite:
		return "r+"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// File is an open dataset file.
//
// Accessors are safe for concurrent use. Slices returned by accessors alias
// the file's storage and must not be modified or retained after Close.
type File struct {
	path string
	mode Mode
	size int64

	mapping *mmap.Mapping
	lock    *mmap.Lock

	genes  int
	cells  int
	matrix []byte
	codec  codec.Codec

	mu     sync.RWMutex
	attrs  attrBlock
	md     *Metadata
	dirty  bool
	closed bool
}

// Open opens the dataset at path. Files failing validation yield a
// *CorruptError.
func Open(path string, mode Mode) (*File, error) {
	switch mode {
	case ModeRead:
		return openRead(path)
	case ModeReadWrite:
		return openReadWrite(path)
	default:
		return nil, fmt.Errorf("dataset: unknown mode %d", mode)
	}
}

func openRead(path string) (*File, error) {
	m, err := mmap.Open(path, mmap.AccessRandom)
	if err != nil {
		return nil, err
	}

	l, err := parse(path, m.Bytes())
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	f := newFile(path, ModeRead, l)
	f.mapping = m
	f.size = int64(m.Size())
	return f, nil
}

func openReadWrite(path string) (*File, error) {
	lk, err := mmap.LockFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}

	data, err := io.ReadAll(lk.File())
	if err == nil {
		var l *layout
		if l, err = parse(path, data); err == nil {
			f := newFile(path, ModeReadWrite, l)
			f.lock = lk
			f.size = int64(len(data))
			return f, nil
		}
	}
	_ = lk.Release()
	return nil, err
}

func newFile(path string, mode Mode, l *layout) *File {
	return &File{
		path:   path,
		mode:   mode,
		genes:  int(l.hdr.Genes),
		cells:  int(l.hdr.Cells),
		matrix: l.matrix,
		codec:  l.codec,
		attrs:  l.attrs,
	}
}

// Path returns the path the file was opened from.
func (f *File) Path() string { return f.path }

// Mode returns the access mode.
func (f *File) Mode() Mode { return f.mode }

// Size returns the on-disk size at open time.
func (f *File) Size() int64 { return f.size }

// NumGenes returns the number of matrix rows.
func (f *File) NumGenes() int { return f.genes }

// NumCells returns the number of matrix columns.
func (f *File) NumCells() int { return f.cells }

// Genes returns the gene symbols in row order.
func (f *File) Genes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.attrs.Row[AttrGene].Strings
}

// Row decodes the expression values of gene row i.
func (f *File) Row(i int) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	if i < 0 || i >= f.genes {
		return nil, fmt.Errorf("dataset: row %d out of range [0,%d)", i, f.genes)
	}
	out := make([]float32, f.cells)
	decodeRow(f.matrix[i*f.cells*4:(i+1)*f.cells*4], out)
	return out, nil
}

// ColumnSums returns the per-cell sum over all genes.
func (f *File) ColumnSums() ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	sums := make([]float64, f.cells)
	row := make([]float32, f.cells)
	stride := f.cells * 4
	for g := 0; g < f.genes; g++ {
		decodeRow(f.matrix[g*stride:(g+1)*stride], row)
		for c, v := range row {
			sums[c] += float64(v)
		}
	}
	return sums, nil
}

// RowAttr returns a row attribute.
func (f *File) RowAttr(name string) (*Attr, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.attrs.Row[name]
	return a, ok
}

// ColAttr returns a column attribute.
func (f *File) ColAttr(name string) (*Attr, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.attrs.Col[name]
	return a, ok
}

// GlobalAttr returns a global attribute.
func (f *File) GlobalAttr(name string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.attrs.Global[name]
	return v, ok
}

// Metadata returns the parsed metadata blob. The result is shared; use Clone
// before editing and SetMetadata to store the edit.
func (f *File) Metadata() (*Metadata, error) {
	f.mu.RLock()
	md := f.md
	f.mu.RUnlock()
	if md != nil {
		return md, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.md != nil {
		return f.md, nil
	}
	md, err := ParseMetadata(f.codec, f.attrs.Global[MetadataAttr])
	if err != nil {
		return nil, &CorruptError{Path: f.path, Reason: "metadata", cause: err}
	}
	f.md = md
	return md, nil
}

// SetMetadata replaces the metadata blob.
func (f *File) SetMetadata(md *Metadata) error {
	blob, err := md.Encode(f.codec)
	if err != nil {
		return err
	}
	return f.mutate(func() error {
		f.attrs.Global[MetadataAttr] = blob
		f.md = md.Clone()
		return nil
	})
}

// SetGlobalAttr sets a global attribute.
func (f *File) SetGlobalAttr(name, value string) error {
	return f.mutate(func() error {
		f.attrs.Global[name] = value
		if name == MetadataAttr {
			f.md = nil
		}
		return nil
	})
}

// SetColAttr sets a column attribute.
func (f *File) SetColAttr(name string, a *Attr) error {
	if err := a.validate(f.cells); err != nil {
		return fmt.Errorf("dataset: column attribute %q: %w", name, err)
	}
	return f.mutate(func() error {
		f.attrs.Col[name] = a
		return nil
	})
}

func (f *File) mutate(fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.mode != ModeReadWrite {
		return ErrReadOnly
	}
	if f.attrs.Global == nil {
		f.attrs.Global = make(map[string]string)
	}
	if f.attrs.Col == nil {
		f.attrs.Col = make(map[string]*Attr)
	}
	if err := fn(); err != nil {
		return err
	}
	f.dirty = true
	return nil
}

// Flush atomically rewrites the file if it has pending mutations.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked()
}

func (f *File) flushLocked() error {
	if f.closed {
		return ErrClosed
	}
	if f.mode != ModeReadWrite {
		return ErrReadOnly
	}
	if !f.dirty {
		return nil
	}
	err := persistence.SaveToFile(f.path, 0o644, func(w io.Writer) error {
		return write(w, f.genes, f.cells, &f.attrs, f.matrix, f.codec, persistence.CompressionZSTD)
	})
	if err != nil {
		return fmt.Errorf("dataset: flush %s: %w", f.path, err)
	}
	f.dirty = false
	return nil
}

// Discard drops pending mutations so that Close does not write them.
func (f *File) Discard() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty = false
}

// Close flushes pending mutations and releases the mapping or lock.
// It is idempotent.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}

	var err error
	switch f.mode {
	case ModeReadWrite:
		err = f.flushLocked()
		if cerr := f.lock.Release(); err == nil {
			err = cerr
		}
	default:
		err = f.mapping.Close()
	}
	f.closed = true
	f.matrix = nil
	return err
}
