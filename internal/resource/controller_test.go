package resource

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.TryAcquireMemory(50))
	require.NoError(t, c.TryAcquireMemory(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	assert.ErrorIs(t, c.TryAcquireMemory(20), ErrMemoryLimitExceeded)
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	assert.Equal(t, int64(40), c.MemoryUsage())

	require.NoError(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
	assert.Equal(t, int64(100), c.MemoryLimit())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.TryAcquireMemory(1000))
	assert.Equal(t, int64(1000), c.MemoryUsage())

	c.ReleaseMemory(500)
	assert.Equal(t, int64(500), c.MemoryUsage())
}

func TestController_Builds(t *testing.T) {
	c := NewController(Config{MaxConcurrentBuilds: 1})
	ctx := context.Background()

	require.NoError(t, c.AcquireBuild(ctx))
	assert.Equal(t, int64(1), c.ActiveBuilds())

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireBuild(timeout))

	c.ReleaseBuild()
	assert.Equal(t, int64(0), c.ActiveBuilds())
	require.NoError(t, c.AcquireBuild(ctx))
	c.ReleaseBuild()
}

func TestController_NilIsUnlimited(t *testing.T) {
	var c *Controller
	ctx := context.Background()

	require.NoError(t, c.TryAcquireMemory(1<<40))
	c.ReleaseMemory(1 << 40)
	require.NoError(t, c.AcquireBuild(ctx))
	c.ReleaseBuild()
	require.NoError(t, c.AcquireIO(ctx, 1<<20))
	assert.True(t, c.TryAcquireIO(1<<20))
	assert.Equal(t, int64(0), c.MemoryUsage())
}

func TestRateLimitedWriter(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	var buf bytes.Buffer

	w := NewRateLimitedWriter(context.Background(), &buf, c)
	n, err := w.Write([]byte("index bytes"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "index bytes", buf.String())
}
