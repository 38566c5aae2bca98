package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
)

func newTestOpenAI(t *testing.T, h http.HandlerFunc) *OpenAIGenerator {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAIGenerator(OpenAIConfig{
		BaseURL: srv.URL + "/v1/",
		APIKey:  "sk-test",
		Model:   "gpt-test",
		Timeout: 5 * time.Second,
	})
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	// Given a chat completions endpoint
	g := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.False(t, req.Stream)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "user", req.Messages[1].Role)
			assert.Equal(t, "the prompt", req.Messages[1].Content)
		}

		_, _ = fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":" Blue. "}}]}`)
	})

	// When generating
	text, err := g.Generate(context.Background(), "the prompt")

	// Then the message content is returned
	require.NoError(t, err)
	assert.Equal(t, "Blue.", text)
}

func TestOpenAIGenerator_GenerateHTTPError(t *testing.T) {
	g := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	})

	_, err := g.Generate(context.Background(), "p")

	require.Error(t, err)
	assert.ErrorIs(t, err, dcerrors.ErrGeneration)
	assert.Contains(t, err.Error(), "401")
}

func TestOpenAIGenerator_GenerateStream(t *testing.T) {
	// Given an SSE stream with keep-alive comments and a terminator
	g := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, ": keep-alive\n\n")
		for _, frag := range []string{"The ", "sky ", "is blue."} {
			_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", frag)
		}
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{}}]}\n\n")
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	// When streaming
	var got []string
	for frag, err := range g.GenerateStream(context.Background(), "p") {
		require.NoError(t, err)
		got = append(got, frag)
	}

	// Then only content deltas are yielded
	assert.Equal(t, []string{"The ", "sky ", "is blue."}, got)
}

func TestOpenAIGenerator_GenerateStreamWithoutDone(t *testing.T) {
	g := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"cut\"}}]}\n\n")
	})

	var frags []string
	var errs []error
	for frag, err := range g.GenerateStream(context.Background(), "p") {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		frags = append(frags, frag)
	}

	assert.Equal(t, []string{"cut"}, frags)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], dcerrors.ErrGeneration)
}

func TestOpenAIGenerator_RateLimitHonoursContext(t *testing.T) {
	// Given a limiter allowing one request per minute with its token spent
	g := NewOpenAIGenerator(OpenAIConfig{BaseURL: "http://127.0.0.1:1", RequestsPerSecond: 1.0 / 60})
	require.True(t, g.limiter.Allow())

	// When generating with a short deadline
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Generate(ctx, "p")

	// Then the wait fails instead of blocking
	require.Error(t, err)
	assert.ErrorIs(t, err, dcerrors.ErrGeneration)
}
