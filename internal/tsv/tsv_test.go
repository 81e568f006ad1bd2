package tsv

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	in := "# header\r\na\tb\r\n\n  \nc\n"

	var got [][]string
	var lines []int
	err := Scan(strings.NewReader(in), func(line int, fields []string) error {
		lines = append(lines, line)
		got = append(got, fields)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, got)
	assert.Equal(t, []int{2, 5}, lines)
}

func TestScan_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Scan(strings.NewReader("a\nb\n"), func(int, []string) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Write("id", "1.5")
	w.Write("only")
	require.NoError(t, w.Flush())
	assert.Equal(t, "id\t1.5\nonly\n", buf.String())
}
