// Package codec centralizes encoding of dataset attribute blocks, the
// metadata blob and persisted search indexes.
//
// Persisted files record the codec name in their header, so changing the
// default never breaks files written by an older default.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

var builtin = []Codec{GoJSON{}, JSON{}}

// ByName returns a built-in codec by the name recorded in file headers.
func ByName(name string) (Codec, bool) {
	for _, c := range builtin {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Names lists the built-in codecs, default first.
func Names() []string {
	out := make([]string, len(builtin))
	for i, c := range builtin {
		out[i] = c.Name()
	}
	return out
}

// MustMarshal is a helper for tests and fixtures.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
