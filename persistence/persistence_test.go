package persistence

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hupe1980/scopeserve/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMagic = [4]byte{'T', 'E', 'S', 'T'}

func TestCompressBlock(t *testing.T) {
	data := []byte(strings.Repeat("e1e1e1XXXXXX", 500))

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			block, err := CompressBlock(data, c)
			require.NoError(t, err)
			if c != CompressionNone {
				assert.Less(t, len(block), len(data))
			}
			assert.Equal(t, byte(c), block[0])

			out, err := DecompressBlock(block)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestCompressBlock_Incompressible(t *testing.T) {
	data := []byte{0x01, 0x7f, 0x33}
	block, err := CompressBlock(data, CompressionZSTD)
	require.NoError(t, err)
	assert.Equal(t, byte(CompressionNone), block[0])

	out, err := DecompressBlock(block)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompressBlock_Corrupt(t *testing.T) {
	_, err := DecompressBlock([]byte{1, 2})
	assert.ErrorIs(t, err, ErrCorruptBlock)

	block, err := CompressBlock([]byte(strings.Repeat("abc", 100)), CompressionZSTD)
	require.NoError(t, err)
	_, err = DecompressBlock(block[:len(block)-3])
	assert.ErrorIs(t, err, ErrCorruptBlock)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	got, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionZSTD, got)

	_, err = ParseCompression("zlib")
	assert.Error(t, err)
}

type payload struct {
	Terms []string `json:"terms"`
	Count int      `json:"count"`
}

func TestFrame(t *testing.T) {
	in := payload{Terms: []string{"Gene", "Clustering"}, Count: 2}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameHeader{
		Magic:       testMagic,
		Version:     1,
		Codec:       codec.JSON{},
		Compression: CompressionZSTD,
	}, in))

	var out payload
	h, err := ReadFrame(buf.Bytes(), testMagic, 1, &out)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "json", h.Codec.Name())
	assert.Equal(t, uint16(1), h.Version)
}

func TestFrame_Rejects(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameHeader{Magic: testMagic, Version: 2}, payload{Count: 1}))
	data := buf.Bytes()

	var out payload
	_, err := ReadFrame(data, [4]byte{'N', 'O', 'P', 'E'}, 2, &out)
	assert.ErrorIs(t, err, ErrInvalidMagic)

	_, err = ReadFrame(data, testMagic, 1, &out)
	assert.ErrorIs(t, err, ErrInvalidVersion)

	flipped := append([]byte(nil), data...)
	flipped[len(flipped)-1] ^= 0xff
	_, err = ReadFrame(flipped, testMagic, 2, &out)
	assert.True(t, IsChecksumMismatch(err))

	_, err = ReadFrame(data[:3], testMagic, 2, &out)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestSaveToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "UUID_Timeouts.tsv")

	require.NoError(t, SaveToFile(path, 0o644, func(w io.Writer) error {
		_, err := io.WriteString(w, "first\n")
		return err
	}))
	require.NoError(t, SaveToFile(path, 0o644, func(w io.Writer) error {
		_, err := io.WriteString(w, "second\n")
		return err
	}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestSaveToFile_WriteErrorKeepsOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	err := SaveToFile(path, 0o644, func(io.Writer) error { return io.ErrUnexpectedEOF })
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(b))
}
