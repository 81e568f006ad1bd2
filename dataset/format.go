package dataset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/hupe1980/scopeserve/codec"
	"github.com/hupe1980/scopeserve/persistence"
)

// Ext is the file extension of dataset files.
const Ext = ".loom"

const (
	headerSize    = 32
	formatVersion = 1
	attrVersion   = 1
)

var (
	fileMagic = [4]byte{'S', 'C', 'D', 'S'}
	attrMagic = [4]byte{'S', 'C', 'A', 'T'}
)

// IsDatasetFile reports whether name has the dataset extension.
func IsDatasetFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), Ext) && !strings.HasPrefix(filepath.Base(name), ".")
}

type header struct {
	Version   uint16
	Flags     uint16
	Genes     uint32
	Cells     uint32
	AttrLen   uint64
	MatrixCRC uint32
	_         uint32
}

func (h *header) encode() []byte {
	b := make([]byte, headerSize)
	copy(b, fileMagic[:])
	binary.LittleEndian.PutUint16(b[4:], h.Version)
	binary.LittleEndian.PutUint16(b[6:], h.Flags)
	binary.LittleEndian.PutUint32(b[8:], h.Genes)
	binary.LittleEndian.PutUint32(b[12:], h.Cells)
	binary.LittleEndian.PutUint64(b[16:], h.AttrLen)
	binary.LittleEndian.PutUint32(b[24:], h.MatrixCRC)
	return b
}

type attrBlock struct {
	Row    map[string]*Attr  `json:"row"`
	Col    map[string]*Attr  `json:"col"`
	Global map[string]string `json:"global"`
}

func (a *attrBlock) validate(genes, cells int) error {
	for name, attr := range a.Row {
		if attr == nil {
			return fmt.Errorf("row attribute %q is empty", name)
		}
		if err := attr.validate(genes); err != nil {
			return fmt.Errorf("row attribute %q: %w", name, err)
		}
	}
	for name, attr := range a.Col {
		if attr == nil {
			return fmt.Errorf("column attribute %q is empty", name)
		}
		if err := attr.validate(cells); err != nil {
			return fmt.Errorf("column attribute %q: %w", name, err)
		}
	}
	gene, ok := a.Row[AttrGene]
	if !ok || gene.Kind != AttrStrings {
		return errors.New("missing Gene attribute")
	}
	return nil
}

type layout struct {
	hdr    header
	attrs  attrBlock
	codec  codec.Codec
	matrix []byte
}

// parse validates data as a complete dataset file.
func parse(path string, data []byte) (*layout, error) {
	if len(data) < len(fileMagic) || !bytes.Equal(data[:len(fileMagic)], fileMagic[:]) {
		return nil, fmt.Errorf("%w: %s", ErrForeignFormat, path)
	}
	if len(data) < headerSize {
		return nil, corrupt(path, "truncated header", nil)
	}

	l := &layout{}
	h := &l.hdr
	h.Version = binary.LittleEndian.Uint16(data[4:])
	h.Flags = binary.LittleEndian.Uint16(data[6:])
	h.Genes = binary.LittleEndian.Uint32(data[8:])
	h.Cells = binary.LittleEndian.Uint32(data[12:])
	h.AttrLen = binary.LittleEndian.Uint64(data[16:])
	h.MatrixCRC = binary.LittleEndian.Uint32(data[24:])

	if h.Version == 0 || h.Version > formatVersion {
		return nil, corrupt(path, fmt.Sprintf("version %d", h.Version), persistence.ErrInvalidVersion)
	}

	size := uint64(len(data))
	if h.AttrLen > size-headerSize {
		return nil, corrupt(path, "attribute block out of bounds", nil)
	}
	attrEnd := headerSize + h.AttrLen
	matrixLen := uint64(h.Genes) * uint64(h.Cells) * 4
	if size-attrEnd != matrixLen {
		return nil, corrupt(path, fmt.Sprintf("matrix is %d bytes, want %d", size-attrEnd, matrixLen), nil)
	}

	fh, err := persistence.ReadFrame(data[headerSize:attrEnd], attrMagic, attrVersion, &l.attrs)
	if err != nil {
		return nil, corrupt(path, "attribute block", err)
	}
	l.codec = fh.Codec

	l.matrix = data[attrEnd:]
	if err := persistence.VerifyChecksum(l.matrix, h.MatrixCRC); err != nil {
		return nil, corrupt(path, "matrix", err)
	}
	if err := l.attrs.validate(int(h.Genes), int(h.Cells)); err != nil {
		return nil, corrupt(path, "attributes", err)
	}
	return l, nil
}

// write serializes a complete dataset file to w.
func write(w io.Writer, genes, cells int, attrs *attrBlock, matrix []byte, c codec.Codec, comp persistence.Compression) error {
	var block bytes.Buffer
	fh := persistence.FrameHeader{Magic: attrMagic, Version: attrVersion, Codec: c, Compression: comp}
	if err := persistence.WriteFrame(&block, fh, attrs); err != nil {
		return fmt.Errorf("dataset: encode attributes: %w", err)
	}

	h := header{
		Version:   formatVersion,
		Genes:     uint32(genes),
		Cells:     uint32(cells),
		AttrLen:   uint64(block.Len()),
		MatrixCRC: persistence.CalculateChecksum(matrix),
	}
	if _, err := w.Write(h.encode()); err != nil {
		return err
	}
	if _, err := w.Write(block.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(matrix)
	return err
}

func decodeRow(b []byte, dst []float32) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
}

func encodeRow(src []float32, b []byte) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
}
