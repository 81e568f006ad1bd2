// Package blobstore provides storage abstraction for derived dataset
// artifacts, currently persisted search indexes.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem with mmap reads and atomic writes
//   - MemoryStore: In-memory, for tests
//   - MirrorStore: Writes through to a secondary store (e.g. minio.Store)
//     and falls back to it on read misses
//   - minio.Store: MinIO and other S3-compatible object storage
package blobstore
