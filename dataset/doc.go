// Package dataset reads and writes single-cell dataset files.
//
// A dataset file holds a dense genes × cells float32 matrix together with
// row attributes (one value per gene), column attributes (one value per cell)
// and global string attributes, one of which is the JSON metadata blob
// describing embeddings, clusterings, annotations, metrics and regulon
// thresholds.
//
// # Layout
//
//	header (32 bytes)
//	  magic "SCDS" | version u16 | flags u16 | genes u32 | cells u32
//	  attribute frame length u64 | matrix crc32 u32 | reserved u32
//	attribute frame (persistence frame, zstd-compressed)
//	matrix (genes*cells float32, gene-major, little endian)
//
// # Modes
//
// ModeRead maps the file read-only and can be shared by any number of
// readers. ModeReadWrite loads the file into memory under an exclusive
// advisory lock; mutations are written back atomically by Flush or Close.
//
// Every open validates the header, section bounds and both checksums. A file
// that fails validation yields a *CorruptError matching ErrMalformed.
package dataset
