// Package persistence holds the on-disk building blocks shared by dataset
// files, persisted search indexes and the session store: CRC32 checksums,
// block compression (zstd, lz4), self-describing frames and atomic file
// replacement.
//
// # Frames
//
// A frame is a small header followed by one compressed block:
//
//	magic [4] | version u16 | codec name (u8 len + bytes) | crc32 u32 | block
//
// The checksum covers the block as stored, so corruption is detected before
// any decompression or decoding is attempted.
//
// # Blocks
//
//	algorithm u8 | uncompressed size u32 | stored size u32 | data
//
// Blocks that do not shrink by at least 10% are stored uncompressed.
package persistence
