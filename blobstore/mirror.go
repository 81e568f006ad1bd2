package blobstore

import (
	"context"
	"errors"
	"log/slog"
)

// MirrorStore writes every blob to a primary and a secondary store. Reads are
// served by the primary; a primary miss is filled from the secondary and
// written back. Secondary failures are logged, never returned.
type MirrorStore struct {
	primary   BlobStore
	secondary BlobStore
	logger    *slog.Logger
}

// NewMirrorStore wraps primary with a write-through secondary.
func NewMirrorStore(primary, secondary BlobStore, logger *slog.Logger) *MirrorStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MirrorStore{primary: primary, secondary: secondary, logger: logger}
}

// Open opens name from the primary, falling back to the secondary.
func (s *MirrorStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.primary.Open(ctx, name)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return b, err
	}

	data, serr := ReadAll(ctx, s.secondary, name)
	if serr != nil {
		if !errors.Is(serr, ErrNotFound) {
			s.logger.Warn("mirror read failed", "blob", name, "error", serr)
		}
		return nil, err
	}
	if perr := s.primary.Put(ctx, name, data); perr != nil {
		s.logger.Warn("mirror backfill failed", "blob", name, "error", perr)
	}
	return bytesBlob(data), nil
}

// Put writes name to both stores.
func (s *MirrorStore) Put(ctx context.Context, name string, data []byte) error {
	if err := s.primary.Put(ctx, name, data); err != nil {
		return err
	}
	if err := s.secondary.Put(ctx, name, data); err != nil {
		s.logger.Warn("mirror write failed", "blob", name, "error", err)
	}
	return nil
}

// Delete removes name from both stores.
func (s *MirrorStore) Delete(ctx context.Context, name string) error {
	if err := s.primary.Delete(ctx, name); err != nil {
		return err
	}
	if err := s.secondary.Delete(ctx, name); err != nil {
		s.logger.Warn("mirror delete failed", "blob", name, "error", err)
	}
	return nil
}

// List lists the primary.
func (s *MirrorStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.primary.List(ctx, prefix)
}
