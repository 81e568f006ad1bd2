package cache

import "context"

// CacheKind is used to separate key spaces.
type CacheKind uint8

const (
	CacheKindUnknown    CacheKind = iota
	CacheKindExpression           // gene expression row
)

// CacheKey identifies one cached block.
type CacheKey struct {
	Kind CacheKind
	// Path is the absolute dataset path.
	Path string
	// Generation changes every time the dataset is reopened.
	Generation uint64
	// Row is the gene row index.
	Row uint64
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key CacheKey) (b []byte, ok bool)
	// Set caches a block. The caller must treat b as immutable afterwards.
	Set(ctx context.Context, key CacheKey, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key CacheKey) bool)
	// Close releases any resources.
	Close() error
	// Stats returns cache statistics.
	Stats() (hits, misses int64)
}

// InvalidatePath drops every block cached for path.
func InvalidatePath(c BlockCache, path string) {
	if c == nil {
		return
	}
	c.Invalidate(func(key CacheKey) bool {
		return key.Path == path
	})
}
