package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/scopeserve/codec"
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported version")
	ErrUnknownCodec   = errors.New("unknown codec")
)

// FrameHeader describes a frame.
type FrameHeader struct {
	Magic       [4]byte
	Version     uint16
	Codec       codec.Codec
	Compression Compression
}

// WriteFrame encodes v with h.Codec, compresses it and writes one frame to w.
func WriteFrame(w io.Writer, h FrameHeader, v any) error {
	c := h.Codec
	if c == nil {
		c = codec.Default
	}

	raw, err := c.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.Name(), err)
	}
	block, err := CompressBlock(raw, h.Compression)
	if err != nil {
		return err
	}

	name := c.Name()
	var hdr bytes.Buffer
	hdr.Write(h.Magic[:])
	_ = binary.Write(&hdr, binary.LittleEndian, h.Version)
	hdr.WriteByte(byte(len(name)))
	hdr.WriteString(name)
	_ = binary.Write(&hdr, binary.LittleEndian, CalculateChecksum(block))

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err = w.Write(block)
	return err
}

// ReadFrame validates a frame produced by WriteFrame and decodes it into v.
// Versions above maxVersion are rejected.
func ReadFrame(data []byte, magic [4]byte, maxVersion uint16, v any) (FrameHeader, error) {
	var h FrameHeader
	r := bytes.NewReader(data)

	if _, err := io.ReadFull(r, h.Magic[:]); err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidMagic, err)
	}
	if h.Magic != magic {
		return h, ErrInvalidMagic
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return h, fmt.Errorf("%w: %w", ErrCorruptBlock, err)
	}
	if h.Version == 0 || h.Version > maxVersion {
		return h, fmt.Errorf("%w: %d", ErrInvalidVersion, h.Version)
	}

	n, err := r.ReadByte()
	if err != nil {
		return h, fmt.Errorf("%w: %w", ErrCorruptBlock, err)
	}
	name := make([]byte, n)
	if _, err := io.ReadFull(r, name); err != nil {
		return h, fmt.Errorf("%w: %w", ErrCorruptBlock, err)
	}
	c, ok := codec.ByName(string(name))
	if !ok {
		return h, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	h.Codec = c

	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return h, fmt.Errorf("%w: %w", ErrCorruptBlock, err)
	}
	block := data[len(data)-r.Len():]
	if err := VerifyChecksum(block, sum); err != nil {
		return h, err
	}
	if len(block) > 0 {
		h.Compression = Compression(block[0])
	}

	raw, err := DecompressBlock(block)
	if err != nil {
		return h, err
	}
	if err := c.Unmarshal(raw, v); err != nil {
		return h, fmt.Errorf("%w: decode %s: %w", ErrCorruptBlock, c.Name(), err)
	}
	return h, nil
}
