package connection

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/hupe1980/scopeserve/blobstore"
	"github.com/hupe1980/scopeserve/dataset"
	"github.com/hupe1980/scopeserve/internal/cache"
	"github.com/hupe1980/scopeserve/search"
	"github.com/hupe1980/scopeserve/species"
)

// DefaultEmbedding is the id of the embedding stored in the Embedding column
// attribute.
const DefaultEmbedding = -1

// Handle is an open dataset and the state derived from it.
//
// All accessors are safe for concurrent use. Close waits for in-flight
// accessors; afterwards they return ErrClosed, or zero values where no error
// is returned. Values derived from the file are memoised only while it is
// open, so a read racing Close never caches an empty result.
type Handle struct {
	c     *Cache
	rel   string
	abs   string
	state State
	gen   uint64

	mu     sync.RWMutex
	file   *dataset.File
	closed bool

	species  lazy[string]
	rows     lazy[map[string]int]
	synonyms lazy[map[string][]string]
	totals   lazy[[]float64]

	indexMu sync.Mutex
	index   *search.Index
}

// lazy memoises a value derived from the open file. Errors are not kept.
type lazy[T any] struct {
	mu   sync.Mutex
	done bool
	v    T
}

func (l *lazy[T]) get(fn func() (T, error)) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return l.v, nil
	}
	v, err := fn()
	if err != nil {
		var zero T
		return zero, err
	}
	l.v, l.done = v, true
	return v, nil
}

func newHandle(c *Cache, f *dataset.File, rel, abs string, state State, gen uint64) *Handle {
	return &Handle{c: c, file: f, rel: rel, abs: abs, state: state, gen: gen}
}

func (h *Handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.file.Close()
}

// read runs fn with the handle held open.
func (h *Handle) read(fn func(f *dataset.File) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	return fn(h.file)
}

// Path returns the dataset path relative to the datasets root.
func (h *Handle) Path() string { return h.rel }

// State returns the mode the handle was opened in.
func (h *Handle) State() State { return h.state }

// Generation is unique per opened handle.
func (h *Handle) Generation() uint64 { return h.gen }

// Closed reports whether the handle has been closed.
func (h *Handle) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// NumGenes returns the number of genes.
func (h *Handle) NumGenes() int { return h.file.NumGenes() }

// NumCells returns the number of cells.
func (h *Handle) NumCells() int { return h.file.NumCells() }

// Size returns the dataset file size in bytes.
func (h *Handle) Size() int64 { return h.file.Size() }

// Genes returns the gene symbols in row order.
func (h *Handle) Genes() []string {
	genes, _ := h.genes()
	return genes
}

func (h *Handle) genes() ([]string, error) {
	var genes []string
	err := h.read(func(f *dataset.File) error {
		genes = f.Genes()
		return nil
	})
	return genes, err
}

// RowAttr returns a row attribute.
func (h *Handle) RowAttr(name string) (*dataset.Attr, bool) {
	var (
		a  *dataset.Attr
		ok bool
	)
	_ = h.read(func(f *dataset.File) error {
		a, ok = f.RowAttr(name)
		return nil
	})
	return a, ok
}

// GlobalAttr returns a global attribute.
func (h *Handle) GlobalAttr(name string) (string, bool) {
	var (
		v  string
		ok bool
	)
	_ = h.read(func(f *dataset.File) error {
		v, ok = f.GlobalAttr(name)
		return nil
	})
	return v, ok
}

// Metadata returns the dataset metadata. The result is shared.
func (h *Handle) Metadata() (*dataset.Metadata, error) {
	var md *dataset.Metadata
	err := h.read(func(f *dataset.File) (err error) {
		md, err = f.Metadata()
		return err
	})
	return md, err
}

// SetMetadata stores edited metadata. The handle must be read-write.
func (h *Handle) SetMetadata(md *dataset.Metadata) error {
	if h.state != StateReadWrite {
		return ErrNotWritable
	}
	return h.read(func(f *dataset.File) error { return f.SetMetadata(md) })
}

// Species returns the inferred species of the dataset, or species.Unknown
// once the handle is closed.
func (h *Handle) Species() string {
	sp, err := h.species.get(func() (string, error) {
		genes, err := h.genes()
		if err != nil {
			return "", err
		}
		sp, _ := h.c.opts.Registry.Infer(genes)
		return sp, nil
	})
	if err != nil {
		return species.Unknown
	}
	return sp
}

// Synonyms returns the known synonyms of a dataset gene.
func (h *Handle) Synonyms(gene string) []string {
	syns, _ := h.synonyms.get(func() (map[string][]string, error) {
		genes, err := h.genes()
		if err != nil {
			return nil, err
		}
		out := make(map[string][]string)
		tbl, ok := h.c.opts.Registry.Table(h.Species())
		if !ok {
			return out, nil
		}
		for _, g := range genes {
			if s := tbl.Synonyms[g]; len(s) > 0 {
				out[g] = s
			}
		}
		return out, nil
	})
	return syns[gene]
}

func (h *Handle) row(gene string) (int, bool, error) {
	rows, err := h.rows.get(func() (map[string]int, error) {
		genes, err := h.genes()
		if err != nil {
			return nil, err
		}
		rows := make(map[string]int, len(genes))
		for i, g := range genes {
			if _, dup := rows[g]; !dup {
				rows[g] = i
			}
		}
		return rows, nil
	})
	if err != nil {
		return 0, false, err
	}
	i, ok := rows[gene]
	return i, ok, nil
}

// Expression returns the expression row of gene, through the row cache.
func (h *Handle) Expression(ctx context.Context, gene string) ([]float32, error) {
	i, ok, err := h.row(gene)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: gene %q", ErrNoAttribute, gene)
	}

	rc := h.c.opts.RowCache
	key := cache.CacheKey{Kind: cache.CacheKindExpression, Path: h.abs, Generation: h.gen, Row: uint64(i)}
	if rc != nil {
		if b, ok := rc.Get(ctx, key); ok {
			h.c.obs.OnRowCache(true)
			return decodeFloats(b), nil
		}
		h.c.obs.OnRowCache(false)
	}

	var row []float32
	err = h.read(func(f *dataset.File) (err error) {
		row, err = f.Row(i)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rc != nil {
		rc.Set(ctx, key, encodeFloats(row))
	}
	return row, nil
}

// CellTotals returns the per-cell sum of all expression values.
func (h *Handle) CellTotals() ([]float64, error) {
	return h.totals.get(func() (totals []float64, err error) {
		err = h.read(func(f *dataset.File) (err error) {
			totals, err = f.ColumnSums()
			return err
		})
		return totals, err
	})
}

func (h *Handle) colTable(attr, column string) ([]float32, error) {
	var out []float32
	err := h.read(func(f *dataset.File) error {
		a, ok := f.ColAttr(attr)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoAttribute, attr)
		}
		col, ok := a.Column(column)
		if !ok {
			return fmt.Errorf("%w: %s[%s]", ErrNoAttribute, attr, column)
		}
		out = col
		return nil
	})
	return out, err
}

// RegulonAUC returns the per-cell AUC values of a regulon.
func (h *Handle) RegulonAUC(regulon string) ([]float32, error) {
	return h.colTable(dataset.AttrRegulonsAUC, regulon)
}

// Metric returns a numeric per-cell attribute.
func (h *Handle) Metric(name string) ([]float32, error) {
	var out []float32
	err := h.read(func(f *dataset.File) error {
		a, ok := f.ColAttr(name)
		if !ok || a.Kind != dataset.AttrFloats {
			return fmt.Errorf("%w: metric %s", ErrNoAttribute, name)
		}
		out = a.Floats
		return nil
	})
	return out, err
}

// Annotation returns a categorical per-cell attribute.
func (h *Handle) Annotation(name string) ([]string, error) {
	var out []string
	err := h.read(func(f *dataset.File) error {
		a, ok := f.ColAttr(name)
		if !ok || a.Kind != dataset.AttrStrings {
			return fmt.Errorf("%w: annotation %s", ErrNoAttribute, name)
		}
		out = a.Strings
		return nil
	})
	return out, err
}

// Clustering returns the cluster id of every cell in a clustering.
func (h *Handle) Clustering(id int) ([]int, error) {
	col, err := h.colTable(dataset.AttrClusterings, strconv.Itoa(id))
	if err != nil {
		return nil, err
	}
	out := make([]int, len(col))
	for i, v := range col {
		out[i] = int(v)
	}
	return out, nil
}

// CellIDs returns the cell barcodes.
func (h *Handle) CellIDs() ([]string, error) {
	return h.Annotation(dataset.AttrCellID)
}

// Coordinates returns the 2-D layout of an embedding. The vertical axis is
// negated to match screen coordinates.
func (h *Handle) Coordinates(embeddingID int) ([]float32, []float32, error) {
	var x, y []float32
	var err error
	if embeddingID == DefaultEmbedding {
		if x, err = h.colTable(dataset.AttrEmbedding, "_X"); err != nil {
			return nil, nil, err
		}
		y, err = h.colTable(dataset.AttrEmbedding, "_Y")
	} else {
		col := strconv.Itoa(embeddingID)
		if x, err = h.colTable(dataset.AttrEmbeddingsX, col); err != nil {
			return nil, nil, err
		}
		y, err = h.colTable(dataset.AttrEmbeddingsY, col)
	}
	if err != nil {
		return nil, nil, err
	}

	negY := make([]float32, len(y))
	for i, v := range y {
		negY[i] = -v
	}
	return x, negY, nil
}

func (h *Handle) buildOptions() search.BuildOptions {
	return search.BuildOptions{
		Registry:  h.c.opts.Registry,
		Logger:    h.c.log,
		Resources: h.c.opts.Resources,
	}
}

// Index returns the search index, loading the persisted one or building and
// persisting a new one on first use.
func (h *Handle) Index(ctx context.Context) (*search.Index, error) {
	h.indexMu.Lock()
	defer h.indexMu.Unlock()
	if h.index != nil {
		return h.index, nil
	}
	if h.Closed() {
		return nil, ErrClosed
	}

	store := h.c.opts.IndexStore
	name := search.Name(h.rel)
	start := time.Now()

	if store != nil {
		idx, err := store.Load(ctx, name)
		switch {
		case err == nil && idx.NumGenes() == h.NumGenes() && idx.Species() == h.Species():
			h.c.obs.OnIndex("loaded", time.Since(start), nil)
			h.index = idx
			return idx, nil
		case err == nil:
			h.c.log.Info("persisted index is stale, rebuilding", "path", h.rel)
		case errors.Is(err, search.ErrCorruptIndex):
			h.c.log.Warn("persisted index is corrupt, rebuilding", "path", h.rel, "error", err)
		case !errors.Is(err, blobstore.ErrNotFound):
			h.c.log.Warn("loading index failed, rebuilding", "path", h.rel, "error", err)
		}
	}

	idx, err := search.Build(ctx, h, h.buildOptions())
	if err == nil && h.Closed() {
		// Built from a file closed mid-pass; the terms are incomplete.
		err = ErrClosed
	}
	h.c.obs.OnIndex("built", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	h.index = idx
	h.c.log.Info("index built", "path", h.rel, "terms", idx.Len(), "species", idx.Species(), "elapsed", time.Since(start))

	if store != nil {
		if err := store.Save(ctx, name, idx); err != nil {
			h.c.log.Warn("persisting index failed", "path", h.rel, "error", err)
		}
	}
	return idx, nil
}

// UpdateIndex reruns one index category after a metadata edit and persists
// the result.
func (h *Handle) UpdateIndex(ctx context.Context, c search.Category) error {
	idx, err := h.Index(ctx)
	if err != nil {
		return err
	}
	if err := search.Update(ctx, idx, h, c, h.buildOptions()); err != nil {
		return err
	}
	if store := h.c.opts.IndexStore; store != nil {
		return store.Save(ctx, search.Name(h.rel), idx)
	}
	return nil
}

// Resolver returns a resolver over the current metadata.
func (h *Handle) Resolver() (search.Resolver, error) {
	md, err := h.Metadata()
	if err != nil {
		return nil, err
	}
	return search.MetadataResolver{Metadata: md}, nil
}

var _ search.Source = (*Handle)(nil)

func encodeFloats(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(x))
	}
	return b
}

func decodeFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
