package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/hupe1980/scopeserve/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowKey(path string, gen, row uint64) CacheKey {
	return CacheKey{Kind: CacheKindExpression, Path: path, Generation: gen, Row: row}
}

func TestLRU_EdgeCases(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	c := NewLRUBlockCache(50, rc)
	ctx := context.Background()
	k := rowKey("/data/a.loom", 1, 1)

	c.Set(ctx, k, make([]byte, 60))
	_, ok := c.Get(ctx, k)
	assert.False(t, ok, "blocks larger than capacity are not cached")

	c.Set(ctx, k, make([]byte, 10))
	assert.Equal(t, int64(10), c.Size())
	c.Set(ctx, k, make([]byte, 20))
	assert.Equal(t, int64(20), c.Size())
	c.Set(ctx, k, make([]byte, 5))
	assert.Equal(t, int64(5), c.Size())
	assert.Equal(t, int64(5), rc.MemoryUsage())

	rc2 := resource.NewController(resource.Config{MemoryLimitBytes: 10})
	c2 := NewLRUBlockCache(50, rc2)
	c2.Set(ctx, k, make([]byte, 8))
	c2.Set(ctx, k, make([]byte, 12))

	val, ok := c2.Get(ctx, k)
	require.True(t, ok)
	assert.Len(t, val, 8, "growth refused by the controller keeps the old block")
}

func TestLRU_Eviction(t *testing.T) {
	c := NewLRUBlockCache(30, nil)
	ctx := context.Background()

	c.Set(ctx, rowKey("p", 1, 1), make([]byte, 10))
	c.Set(ctx, rowKey("p", 1, 2), make([]byte, 10))
	c.Set(ctx, rowKey("p", 1, 3), make([]byte, 10))

	// Touch row 1 so row 2 becomes the eviction candidate.
	_, ok := c.Get(ctx, rowKey("p", 1, 1))
	require.True(t, ok)

	c.Set(ctx, rowKey("p", 1, 4), make([]byte, 10))

	_, ok = c.Get(ctx, rowKey("p", 1, 2))
	assert.False(t, ok)
	_, ok = c.Get(ctx, rowKey("p", 1, 1))
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRU_CloseReleasesMemory(t *testing.T) {
	rc := resource.NewController(resource.Config{})
	c := NewLRUBlockCache(100, rc)
	c.Set(context.Background(), rowKey("p", 1, 1), make([]byte, 40))
	require.Equal(t, int64(40), rc.MemoryUsage())

	require.NoError(t, c.Close())
	assert.Equal(t, int64(0), rc.MemoryUsage())
	assert.Equal(t, int64(0), c.Size())
}

func TestShardedLRU_BasicOperations(t *testing.T) {
	c := NewShardedLRUBlockCache(1<<20, nil)
	ctx := context.Background()
	key := rowKey("/data/a.loom", 3, 0)

	c.Set(ctx, key, []byte("row bytes"))
	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "row bytes", string(got))

	_, ok = c.Get(ctx, rowKey("/data/a.loom", 4, 0))
	assert.False(t, ok, "a new generation misses")
}

func TestShardedLRU_Concurrent(t *testing.T) {
	c := NewShardedLRUBlockCache(64<<20, nil)
	ctx := context.Background()
	data := make([]byte, 1024)

	const workers = 50
	const ops = 200

	var wg sync.WaitGroup
	wg.Add(workers)
	for g := range workers {
		go func(id int) {
			defer wg.Done()
			for i := range ops {
				key := rowKey("/data/a.loom", uint64(id), uint64(i))
				c.Set(ctx, key, data)
				c.Get(ctx, key)
			}
		}(g)
	}
	wg.Wait()

	hits, misses := c.Stats()
	assert.Equal(t, int64(workers*ops), hits+misses)
	assert.Equal(t, workers*ops, c.Len())
}

func TestInvalidatePath(t *testing.T) {
	c := NewShardedLRUBlockCache(64<<20, nil)
	ctx := context.Background()

	for i := range 100 {
		c.Set(ctx, rowKey("/data/a.loom", 1, uint64(i)), []byte("a"))
		c.Set(ctx, rowKey("/data/b.loom", 1, uint64(i)), []byte("b"))
	}

	InvalidatePath(c, "/data/a.loom")

	_, ok := c.Get(ctx, rowKey("/data/a.loom", 1, 0))
	assert.False(t, ok)
	_, ok = c.Get(ctx, rowKey("/data/b.loom", 1, 0))
	assert.True(t, ok)

	InvalidatePath(nil, "/data/b.loom")
}

func BenchmarkShardedLRUBlockCache_Get(b *testing.B) {
	c := NewShardedLRUBlockCache(64<<20, nil)
	ctx := context.Background()
	key := rowKey("/data/a.loom", 1, 0)
	c.Set(ctx, key, make([]byte, 4096))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c.Get(ctx, key)
		}
	})
}
