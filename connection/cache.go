package connection

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/scopeserve/dataset"
	"github.com/hupe1980/scopeserve/internal/cache"
	"github.com/hupe1980/scopeserve/internal/mmap"
	"github.com/hupe1980/scopeserve/internal/resource"
	"github.com/hupe1980/scopeserve/search"
	"github.com/hupe1980/scopeserve/species"
)

// State is the connection state of one dataset path.
type State uint8

const (
	StateClosed State = iota
	StateReadOnly
	StateReadWrite
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateReadOnly:
		return "read-only"
	case StateReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func stateOf(m dataset.Mode) State {
	if m == dataset.ModeReadWrite {
		return StateReadWrite
	}
	return StateReadOnly
}

// Options configures a Cache.
type Options struct {
	// Root is the datasets directory all paths are relative to.
	Root   string
	Logger *slog.Logger
	// Registry supplies synonym tables for species inference and indexing.
	Registry *species.Registry
	// RowCache caches decoded expression rows. Nil disables caching.
	RowCache cache.BlockCache
	// IndexStore persists search indexes. Nil rebuilds on every open.
	IndexStore *search.Store
	// Resources bounds concurrent index builds.
	Resources *resource.Controller
	Observer  Observer
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Live    int
	Opens   int64
	Hits    int64
	Reopens int64
	Drops   int64
}

// Cache is the dataset connection cache.
type Cache struct {
	opts Options
	log  *slog.Logger
	obs  Observer

	mu      sync.Mutex
	entries map[string]*entry

	generation atomic.Uint64
	opens      atomic.Int64
	hits       atomic.Int64
	reopens    atomic.Int64
	drops      atomic.Int64
}

// entry is the per-path slot. Entries are never removed from the map, so a
// goroutine waiting on entry.mu always observes the live slot.
type entry struct {
	mu     sync.Mutex
	handle *Handle
}

// New returns an empty cache.
func New(opts Options) *Cache {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	obs := opts.Observer
	if obs == nil {
		obs = NoopObserver{}
	}
	return &Cache{
		opts:    opts,
		log:     log.With("component", "connection"),
		obs:     obs,
		entries: make(map[string]*entry),
	}
}

// Root returns the datasets directory.
func (c *Cache) Root() string { return c.opts.Root }

// resolve validates a dataset path relative to the root and returns its
// cleaned slash form and absolute path.
func (c *Cache) resolve(path string) (string, string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: invalid path %q", ErrNotFound, path)
	}
	if !dataset.IsDatasetFile(clean) {
		return "", "", fmt.Errorf("%w: %q is not a dataset file", ErrNotFound, path)
	}
	return filepath.ToSlash(clean), filepath.Join(c.opts.Root, clean), nil
}

func (c *Cache) slot(abs string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[abs]
	if !ok {
		e = &entry{}
		c.entries[abs] = e
	}
	return e
}

// Get returns the live handle of path in mode, opening it if absent and
// reopening it if it is open in another mode.
func (c *Cache) Get(ctx context.Context, path string, mode dataset.Mode) (*Handle, error) {
	rel, abs, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	e := c.slot(abs)
	e.mu.Lock()
	defer e.mu.Unlock()

	if h := e.handle; h != nil && h.state == stateOf(mode) {
		c.hits.Add(1)
		return h, nil
	}
	return c.reopenLocked(ctx, e, rel, abs, mode)
}

// ChangeMode closes the live handle of path, if any, and reopens it in mode.
func (c *Cache) ChangeMode(ctx context.Context, path string, mode dataset.Mode) (*Handle, error) {
	rel, abs, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	e := c.slot(abs)
	e.mu.Lock()
	defer e.mu.Unlock()
	return c.reopenLocked(ctx, e, rel, abs, mode)
}

// WithWrite runs fn with a read-write handle of path and returns the path to
// read-only afterwards. The per-path lock is held for the whole window, so
// concurrent writes and opens of the same path wait for it to finish.
// Mutations are flushed before the read-only handle is opened.
func (c *Cache) WithWrite(ctx context.Context, path string, fn func(*Handle) error) error {
	rel, abs, err := c.resolve(path)
	if err != nil {
		return err
	}
	e := c.slot(abs)
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := c.reopenLocked(ctx, e, rel, abs, dataset.ModeReadWrite)
	if err != nil {
		return err
	}
	fnErr := fn(h)
	if fnErr != nil {
		h.file.Discard()
	}

	closeErr := h.close()
	e.handle = nil
	_, openErr := c.reopenLocked(context.WithoutCancel(ctx), e, rel, abs, dataset.ModeRead)

	switch {
	case fnErr != nil:
		return fnErr
	case closeErr != nil:
		return fmt.Errorf("connection: flush %s: %w", rel, closeErr)
	default:
		return openErr
	}
}

// Drop closes the live handle of path, if any.
func (c *Cache) Drop(path string) error {
	_, abs, err := c.resolve(path)
	if err != nil {
		return err
	}
	e := c.slot(abs)
	e.mu.Lock()
	defer e.mu.Unlock()
	return c.dropLocked(e, abs)
}

func (c *Cache) dropLocked(e *entry, abs string) error {
	if e.handle == nil {
		return nil
	}
	err := e.handle.close()
	e.handle = nil
	c.drops.Add(1)
	cache.InvalidatePath(c.opts.RowCache, abs)
	return err
}

// Delete drops path and removes the dataset file and its persisted index.
func (c *Cache) Delete(ctx context.Context, path string) error {
	rel, abs, err := c.resolve(path)
	if err != nil {
		return err
	}
	e := c.slot(abs)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := c.dropLocked(e, abs); err != nil {
		c.log.Warn("close before delete failed", "path", rel, "error", err)
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return err
	}
	c.removeIndex(ctx, rel)
	c.log.Info("dataset deleted", "path", rel)
	return nil
}

// State reports the connection state of path.
func (c *Cache) State(path string) State {
	_, abs, err := c.resolve(path)
	if err != nil {
		return StateClosed
	}
	e := c.slot(abs)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle == nil {
		return StateClosed
	}
	return e.handle.state
}

// Paths returns the paths with a live handle, sorted.
func (c *Cache) Paths() []string {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	var out []string
	for _, e := range entries {
		e.mu.Lock()
		if e.handle != nil {
			out = append(out, e.handle.rel)
		}
		e.mu.Unlock()
	}
	slices.Sort(out)
	return out
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	live := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.handle != nil {
			live++
		}
		e.mu.Unlock()
	}
	return Stats{
		Live:    live,
		Opens:   c.opens.Load(),
		Hits:    c.hits.Load(),
		Reopens: c.reopens.Load(),
		Drops:   c.drops.Load(),
	}
}

// Close closes every live handle.
func (c *Cache) Close() error {
	c.mu.Lock()
	entries := make(map[string]*entry, len(c.entries))
	for k, e := range c.entries {
		entries[k] = e
	}
	c.mu.Unlock()

	var errs []error
	for abs, e := range entries {
		e.mu.Lock()
		if err := c.dropLocked(e, abs); err != nil {
			errs = append(errs, err)
		}
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

// reopenLocked replaces the handle of e with one opened in mode. e.mu is held.
func (c *Cache) reopenLocked(ctx context.Context, e *entry, rel, abs string, mode dataset.Mode) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.handle != nil {
		c.reopens.Add(1)
		if err := e.handle.close(); err != nil {
			c.log.Warn("close on reopen failed", "path", rel, "error", err)
		}
		e.handle = nil
		cache.InvalidatePath(c.opts.RowCache, abs)
	}

	start := time.Now()
	f, err := dataset.Open(abs, mode)
	c.obs.OnOpen(mode.String(), time.Since(start), err)
	if err != nil {
		return nil, c.openError(ctx, rel, abs, err)
	}
	c.opens.Add(1)

	h := newHandle(c, f, rel, abs, stateOf(mode), c.generation.Add(1))
	e.handle = h
	c.log.Debug("dataset opened",
		"path", rel,
		"mode", h.state.String(),
		"genes", f.NumGenes(),
		"cells", f.NumCells(),
		"size", humanize.Bytes(uint64(f.Size())),
		"elapsed", time.Since(start),
	)
	return h, nil
}

func (c *Cache) openError(ctx context.Context, rel, abs string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, rel)
	case errors.Is(err, dataset.ErrForeignFormat):
		// Another tool's file under a dataset name; leave it alone.
		c.log.Warn("skipping file in a foreign format", "path", rel)
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, rel, err)
	case errors.Is(err, dataset.ErrMalformed):
		c.log.Error("dataset failed validation, removing", "path", rel, "error", err)
		if rerr := os.Remove(abs); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			c.log.Error("remove malformed dataset failed", "path", rel, "error", rerr)
		}
		c.removeIndex(ctx, rel)
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, rel, err)
	case errors.Is(err, mmap.ErrLocked):
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, rel, err)
	default:
		return err
	}
}

func (c *Cache) removeIndex(ctx context.Context, rel string) {
	if c.opts.IndexStore == nil {
		return
	}
	if err := c.opts.IndexStore.Delete(ctx, search.Name(rel)); err != nil {
		c.log.Warn("remove index failed", "path", rel, "error", err)
	}
}
