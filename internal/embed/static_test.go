package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_UnitLengthAndDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "The sky is blue.")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "The sky is blue.")
	require.NoError(t, err)

	assert.Len(t, a, StaticDimensions)
	assert.InDelta(t, 1.0, norm(a), 1e-5)
	assert.Equal(t, a, b)
}

func TestStaticEmbedder_QueryPrefersSharedWords(t *testing.T) {
	// Given: two chunks and a question about one of them
	e := NewStaticEmbedder()
	ctx := context.Background()
	sky, _ := e.Embed(ctx, "The sky is blue. ")
	grass, _ := e.Embed(ctx, "lue. Grass is green.")

	// When: embedding the question
	q, err := e.Embed(ctx, "what color is the sky")
	require.NoError(t, err)

	// Then: the sky chunk is closer
	assert.Greater(t, cosine(q, sky), cosine(q, grass))
}

func TestStaticEmbedder_StopWordsIgnored(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	a, _ := e.Embed(ctx, "sky")
	b, _ := e.Embed(ctx, "the sky")

	// Trigram "the" still contributes, so the vectors are close but not equal.
	assert.Greater(t, cosine(a, b), 0.7)
}

func TestStaticEmbedder_BlankIsZeroVector(t *testing.T) {
	v, err := NewStaticEmbedder().Embed(context.Background(), "   \n")

	require.NoError(t, err)
	assert.Zero(t, norm(v))
}

func TestStaticEmbedder_Unicode(t *testing.T) {
	e := NewStaticEmbedder()
	v, err := e.Embed(context.Background(), "Größe über alles")

	require.NoError(t, err)
	assert.InDelta(t, 1.0, norm(v), 1e-5)
}

func TestStaticEmbedder_Closed(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestStaticEmbedder_BatchMatchesSingle(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()
	texts := []string{"alpha beta", "", "gamma"}

	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, _ := e.Embed(ctx, text)
		assert.Equal(t, single, batch[i])
	}
}
