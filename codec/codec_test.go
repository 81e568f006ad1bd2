package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cluster struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "go-json"} {
		c, ok := ByName(name)
		require.True(t, ok, name)
		assert.Equal(t, name, c.Name())
	}

	_, ok := ByName("msgpack")
	assert.False(t, ok)
	assert.Equal(t, []string{Default.Name(), "json"}, Names())
}

func TestCodecsAgree(t *testing.T) {
	in := []cluster{{ID: 0, Description: "T cells"}, {ID: 1, Description: "B cells"}}

	// Bytes from one codec decode with the other.
	b := MustMarshal(JSON{}, in)
	var out []cluster
	require.NoError(t, GoJSON{}.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	b = MustMarshal(nil, in)
	out = nil
	require.NoError(t, JSON{}.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestMustMarshalPanics(t *testing.T) {
	assert.Panics(t, func() {
		MustMarshal(JSON{}, make(chan int))
	})
}
