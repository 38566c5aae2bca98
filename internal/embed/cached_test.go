package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedEmbedder_RepeatedQueryHitsCache(t *testing.T) {
	// Given: a cached embedder over a counting backend
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	// When: embedding the same question twice
	a, err := c.Embed(ctx, "what color is the sky")
	require.NoError(t, err)
	b, err := c.Embed(ctx, "what color is the sky")
	require.NoError(t, err)

	// Then: the backend is called once
	assert.Equal(t, a, b)
	assert.EqualValues(t, 1, inner.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCachedEmbedder_BatchEmbedsOnlyMisses(t *testing.T) {
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()
	_, _ = c.Embed(ctx, "b")

	vecs, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})

	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.EqualValues(t, 3, inner.texts.Load()) // "b" once, then "a" and "c"
	for _, v := range vecs {
		assert.Len(t, v, StaticDimensions)
	}
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 0)

	assert.Equal(t, "counting", c.ModelName())
	assert.Equal(t, StaticDimensions, c.Dimensions())
	assert.True(t, c.Available(context.Background()))
	assert.Same(t, inner, c.Inner())
	assert.NoError(t, c.Close())
}
