package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/scopeserve/blobstore"
)

// contentType marks persisted indexes in the bucket.
const contentType = "application/x-scopeserve-index"

// Store is a blobstore.BlobStore over one bucket of an S3-compatible service.
// Index blobs are small and always read whole, so Open downloads the object in
// one request and serves reads from memory.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore returns a store keeping blobs under rootPrefix in bucket. Blob names
// keep their slashes, so private indexes land in per-session folders.
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(rootPrefix, "/"),
	}
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// name reverses key.
func (s *Store) name(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// Open downloads name.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap(name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrap(name, err)
	}
	return objectBlob(data), nil
}

func (s *Store) wrap(name string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s/%s", blobstore.ErrNotFound, s.bucket, s.key(name))
	}
	return fmt.Errorf("minio: %s/%s: %w", s.bucket, s.key(name), err)
}

// Put uploads name. S3 object writes are atomic.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return s.wrap(name, err)
	}
	return nil
}

// Delete removes name; a missing object is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return s.wrap(name, err)
	}
	return nil
}

// List returns the sorted names under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	keyPrefix := s.key(prefix)
	if (prefix == "" && s.prefix != "") || strings.HasSuffix(prefix, "/") {
		keyPrefix += "/"
	}

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    keyPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("minio: list %s/%s: %w", s.bucket, keyPrefix, obj.Err)
		}
		if name := s.name(obj.Key); name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// objectBlob is a downloaded object.
type objectBlob []byte

func (b objectBlob) Size() int64 { return int64(len(b)) }

func (b objectBlob) Bytes() ([]byte, error) { return b, nil }

func (b objectBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b objectBlob) Close() error { return nil }
