package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
)

// fakeOllama serves /api/tags and /api/embed with 3-dimensional vectors.
type fakeOllama struct {
	models     []string
	failFirst  int32
	status     int
	embedCalls atomic.Int32
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		var resp ollamaTagsResponse
		for _, m := range f.models {
			resp.Models = append(resp.Models, struct {
				Name string `json:"name"`
			}{Name: m})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /api/embed", func(w http.ResponseWriter, r *http.Request) {
		n := f.embedCalls.Add(1)
		if n <= f.failFirst {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte("busy"))
			return
		}

		var req ollamaEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, x := range v {
				inputs = append(inputs, x.(string))
			}
		}

		resp := ollamaEmbedResponse{Model: req.Model}
		for i := range inputs {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(i + 1), 0, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func TestOllamaEmbedder_ResolvesModelAndDimensions(t *testing.T) {
	// Given: an Ollama server with the model installed under a tag
	fake := &fakeOllama{models: []string{"mxbai-embed-large:latest"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	// When: creating the embedder
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// Then: the tagged name and detected dimension are used
	assert.Equal(t, "mxbai-embed-large:latest", e.ModelName())
	assert.Equal(t, 3, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_FallsBackToInstalledModel(t *testing.T) {
	fake := &fakeOllama{models: []string{"nomic-embed-text:v1.5"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})

	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text:v1.5", e.ModelName())
}

func TestOllamaEmbedder_NoModelInstalled(t *testing.T) {
	fake := &fakeOllama{models: []string{"llama3.2"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, FallbackModels: []string{}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, dcerrors.ErrEmbedding))
}

func TestOllamaEmbedder_BatchesAndNormalizes(t *testing.T) {
	fake := &fakeOllama{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 3, BatchSize: 2, SkipHealthCheck: true,
	})
	require.NoError(t, err)

	// When: embedding five texts, one blank
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", " ", "c", "d"})

	// Then: two requests of two texts each, blank is zero, all others unit length
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.EqualValues(t, 2, fake.embedCalls.Load())
	assert.Equal(t, []float32{0, 0, 0}, vecs[2])
	for _, i := range []int{0, 1, 3, 4} {
		assert.InDelta(t, 1.0, norm(vecs[i]), 1e-6)
	}
}

func TestOllamaEmbedder_RetriesServerErrors(t *testing.T) {
	fake := &fakeOllama{failFirst: 2, status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 3, SkipHealthCheck: true, MaxRetries: 3, RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "sky")

	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.EqualValues(t, 3, fake.embedCalls.Load())
}

func TestOllamaEmbedder_DoesNotRetryClientErrors(t *testing.T) {
	fake := &fakeOllama{failFirst: 10, status: http.StatusBadRequest}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 3, SkipHealthCheck: true, MaxRetries: 3, RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "sky")

	require.Error(t, err)
	assert.EqualValues(t, 1, fake.embedCalls.Load())
}

func TestOllamaEmbedder_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: url, Timeout: time.Second})

	require.Error(t, err)
	assert.True(t, dcerrors.IsRetryable(err))
}
