package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/hupe1980/scopeserve/blobstore"
	"github.com/hupe1980/scopeserve/codec"
	"github.com/hupe1980/scopeserve/internal/resource"
	"github.com/hupe1980/scopeserve/persistence"
)

// Ext is the extension of persisted index files.
const Ext = ".ssidx"

const storeVersion = 1

var storeMagic = [4]byte{'S', 'S', 'I', 'X'}

// ErrCorruptIndex is returned by Load for a persisted index that fails
// validation. Callers rebuild.
var ErrCorruptIndex = errors.New("search: corrupt index file")

// Name returns the blob name of the index persisted for a dataset, the
// dataset's slash-separated relative path with the index extension.
func Name(datasetPath string) string {
	return strings.TrimSuffix(datasetPath, path.Ext(datasetPath)) + Ext
}

type snapshot struct {
	Species string   `json:"species"`
	Genes   []string `json:"genes"`
	Entries []Entry  `json:"entries"`
}

// Store persists indexes in a blob store.
type Store struct {
	blobs       blobstore.BlobStore
	codec       codec.Codec
	compression persistence.Compression
	io          *resource.Controller
}

// NewStore returns a Store writing with c (codec.Default when nil) and the
// given block compression.
func NewStore(blobs blobstore.BlobStore, c codec.Codec, compression persistence.Compression) *Store {
	if c == nil {
		c = codec.Default
	}
	return &Store{blobs: blobs, codec: c, compression: compression}
}

// WithIOLimit throttles Save through the IO budget of rc and returns s.
// A nil rc or one without an IO limit leaves writes unthrottled.
func (s *Store) WithIOLimit(rc *resource.Controller) *Store {
	s.io = rc
	return s
}

// Load reads a persisted index. A missing index yields an error matching
// blobstore.ErrNotFound; an invalid one matches ErrCorruptIndex.
func (s *Store) Load(ctx context.Context, name string) (*Index, error) {
	data, err := blobstore.ReadAll(ctx, s.blobs, name)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if _, err := persistence.ReadFrame(data, storeMagic, storeVersion, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptIndex, name, err)
	}
	return &Index{species: snap.Species, genes: snap.Genes, entries: snap.Entries}, nil
}

// Save persists idx under name.
func (s *Store) Save(ctx context.Context, name string, idx *Index) error {
	idx.mu.RLock()
	snap := snapshot{Species: idx.species, Genes: idx.genes, Entries: idx.entries}
	var buf bytes.Buffer
	err := persistence.WriteFrame(resource.NewRateLimitedWriter(ctx, &buf, s.io), persistence.FrameHeader{
		Magic:       storeMagic,
		Version:     storeVersion,
		Codec:       s.codec,
		Compression: s.compression,
	}, snap)
	idx.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("search: encode index: %w", err)
	}
	return s.blobs.Put(ctx, name, buf.Bytes())
}

// Delete removes a persisted index.
func (s *Store) Delete(ctx context.Context, name string) error {
	return s.blobs.Delete(ctx, name)
}
