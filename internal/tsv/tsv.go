// Package tsv reads and writes the tab-separated side files of the server:
// synonym and ortholog tables, session timeouts and identity bindings.
package tsv

import (
	"bufio"
	"io"
	"strings"
)

// Scan calls fn with the 1-based line number and the tab-separated fields of
// every line of r. Blank lines and lines starting with '#' are skipped.
func Scan(r io.Reader, fn func(line int, fields []string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := fn(line, strings.Split(text, "\t")); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Writer writes tab-separated records.
type Writer struct {
	w   *bufio.Writer
	err error
}

// NewWriter returns a Writer buffering into w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write writes one record. Errors are sticky and reported by Flush.
func (w *Writer) Write(fields ...string) {
	if w.err != nil {
		return
	}
	for i, f := range fields {
		if i > 0 {
			if w.err = w.w.WriteByte('\t'); w.err != nil {
				return
			}
		}
		if _, w.err = w.w.WriteString(f); w.err != nil {
			return
		}
	}
	w.err = w.w.WriteByte('\n')
}

// Flush writes buffered data and returns the first error encountered.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}
