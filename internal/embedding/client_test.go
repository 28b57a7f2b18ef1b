package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRUEvictsOldest(t *testing.T) {
	cache := newLRU(2)
	cache.put("a", []float32{1})
	cache.put("b", []float32{2})
	cache.put("c", []float32{3}) // evicts "a"

	_, ok := cache.get("a")
	assert.False(t, ok)
	v, ok := cache.get("b")
	assert.True(t, ok)
	assert.Equal(t, []float32{2}, v)
}

func TestLRUGetRefreshesRecency(t *testing.T) {
	cache := newLRU(2)
	cache.put("a", []float32{1})
	cache.put("b", []float32{2})

	_, _ = cache.get("a")            // "a" becomes most recent
	cache.put("c", []float32{3})     // evicts "b", not "a"

	_, ok := cache.get("a")
	assert.True(t, ok)
	_, ok = cache.get("b")
	assert.False(t, ok)
}

func TestLRUClear(t *testing.T) {
	cache := newLRU(4)
	cache.put("a", []float32{1})
	cache.clear()
	_, ok := cache.get("a")
	assert.False(t, ok)
}

func TestCacheKeyIsModelScoped(t *testing.T) {
	assert.NotEqual(t, cacheKey("model-a", "text"), cacheKey("model-b", "text"),
		"identical text under different models must not collide")
}

func TestMismatchFlagBlocksGeneration(t *testing.T) {
	c := &Client{cache: newLRU(4), model: "m", dims: 4}
	c.SetMismatchFlag(true)
	assert.True(t, c.MismatchFlagged())

	_, err := c.Generate(t.Context(), "anything")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
