package store

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docchat/internal/chunk"
	"github.com/Aman-CERP/docchat/internal/logging"
)

var vocabulary = []string{"sky", "blue", "grass", "green", "snow", "white", "sun", "yellow"}

// wordEmbedder maps each vocabulary word to one dimension, plus a small
// bias dimension so no vector is zero.
type wordEmbedder struct {
	failAfter  int32 // fail batch calls after this many; 0 never fails
	batchCalls atomic.Int32
	queryCalls atomic.Int32
}

var errEmbedBoom = errors.New("embedder exploded")

func (e *wordEmbedder) vector(text string) []float32 {
	vec := make([]float32, len(vocabulary)+1)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?")
		for i, v := range vocabulary {
			if w == v {
				vec[i]++
			}
		}
	}
	vec[len(vocabulary)] = 0.1
	return vec
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.queryCalls.Add(1)
	return e.vector(text), nil
}

func (e *wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := e.batchCalls.Add(1)
	if e.failAfter > 0 && n > e.failAfter {
		return nil, errEmbedBoom
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *wordEmbedder) ModelName() string { return "words" }

func newTestIndex(t *testing.T, dir string, emb Embedder, mutate ...func(*IndexConfig)) *VectorIndex {
	t.Helper()
	cfg := IndexConfig{
		Dir:       dir,
		Embedder:  emb,
		BatchSize: 2,
		Workers:   2,
		Logger:    logging.Discard(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	x, err := NewVectorIndex(cfg)
	require.NoError(t, err)
	return x
}

func chunksOf(texts ...string) []chunk.Chunk {
	out := make([]chunk.Chunk, len(texts))
	for i, text := range texts {
		out[i] = chunk.Chunk{Text: text, Order: i}
	}
	return out
}

func hitTexts(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk.Text
	}
	return out
}
