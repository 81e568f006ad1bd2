package dataset

import (
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/scopeserve/codec"
	"github.com/hupe1980/scopeserve/persistence"
)

// Builder describes a dataset file to be written by Create.
type Builder struct {
	Genes []string
	Cells []string
	// Matrix is gene-major: Matrix[g][c].
	Matrix [][]float32

	RowAttrs map[string]*Attr
	ColAttrs map[string]*Attr
	Globals  map[string]string
	Metadata *Metadata

	// Codec of the attribute block; codec.Default when nil.
	Codec codec.Codec
	// Compression of the attribute block. CompressionNone is promoted to zstd.
	Compression persistence.Compression
}

// Create writes a new dataset file at path, replacing any existing file.
func Create(path string, b *Builder) error {
	genes, cells := len(b.Genes), len(b.Cells)
	if len(b.Matrix) != genes {
		return fmt.Errorf("dataset: %d matrix rows for %d genes", len(b.Matrix), genes)
	}

	matrix := make([]byte, genes*cells*4)
	for g, row := range b.Matrix {
		if len(row) != cells {
			return fmt.Errorf("dataset: row %d has %d values, want %d", g, len(row), cells)
		}
		encodeRow(row, matrix[g*cells*4:])
	}

	c := b.Codec
	if c == nil {
		c = codec.Default
	}
	comp := b.Compression
	if comp == persistence.CompressionNone {
		comp = persistence.CompressionZSTD
	}

	attrs := attrBlock{
		Row:    map[string]*Attr{AttrGene: Strings(b.Genes)},
		Col:    map[string]*Attr{AttrCellID: Strings(b.Cells)},
		Global: map[string]string{AttrCreation: time.Now().UTC().Format(time.RFC3339)},
	}
	for k, v := range b.RowAttrs {
		attrs.Row[k] = v
	}
	for k, v := range b.ColAttrs {
		attrs.Col[k] = v
	}
	for k, v := range b.Globals {
		attrs.Global[k] = v
	}
	if b.Metadata != nil {
		blob, err := b.Metadata.Encode(c)
		if err != nil {
			return fmt.Errorf("dataset: encode metadata: %w", err)
		}
		attrs.Global[MetadataAttr] = blob
	}
	if err := attrs.validate(genes, cells); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}

	return persistence.SaveToFile(path, 0o644, func(w io.Writer) error {
		return write(w, genes, cells, &attrs, matrix, c, comp)
	})
}
