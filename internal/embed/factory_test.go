package embed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docchat/internal/logging"
)

func deadHost(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestNewEmbedder_Static(t *testing.T) {
	e, err := NewEmbedder(context.Background(), Options{Provider: ProviderStatic})

	require.NoError(t, err)
	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	assert.IsType(t, &StaticEmbedder{}, cached.Inner())
}

func TestNewEmbedder_AutoFallsBackToStatic(t *testing.T) {
	// Given: no Ollama server
	e, err := NewEmbedder(context.Background(), Options{
		Host: deadHost(t), Timeout: time.Second, Logger: logging.Discard(),
	})

	// Then: auto-detection degrades to the static embedder
	require.NoError(t, err)
	assert.Equal(t, "static", e.ModelName())
}

func TestNewEmbedder_ExplicitOllamaFails(t *testing.T) {
	_, err := NewEmbedder(context.Background(), Options{
		Provider: ProviderOllama, Host: deadHost(t), Timeout: time.Second,
	})

	assert.Error(t, err)
}

func TestNewEmbedder_CacheDisabled(t *testing.T) {
	e, err := NewEmbedder(context.Background(), Options{Provider: ProviderStatic, CacheSize: -1})

	require.NoError(t, err)
	assert.IsType(t, &StaticEmbedder{}, e)
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(context.Background(), Options{Provider: "mlx"})
	assert.Error(t, err)
}
