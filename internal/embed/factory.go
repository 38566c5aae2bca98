package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderAuto tries Ollama and falls back to static hashing.
	ProviderAuto ProviderType = ""
	// ProviderOllama requires a reachable Ollama server.
	ProviderOllama ProviderType = "ollama"
	// ProviderStatic uses hash-based embeddings.
	ProviderStatic ProviderType = "static"
)

// Options selects and configures an embedder.
type Options struct {
	Provider  ProviderType
	Model     string
	Host      string
	BatchSize int
	Timeout   time.Duration
	// CacheSize is the LRU capacity; negative disables caching.
	CacheSize int
	Logger    *slog.Logger
}

// NewEmbedder creates the embedder named by opts.Provider, wrapped in a
// query cache. An explicit "ollama" provider fails when Ollama is not
// reachable; auto-detection falls back to the static embedder instead.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var embedder Embedder
	switch ProviderType(strings.ToLower(string(opts.Provider))) {
	case ProviderStatic:
		embedder = NewStaticEmbedder()

	case ProviderOllama:
		e, err := newOllama(ctx, opts, logger)
		if err != nil {
			return nil, fmt.Errorf("ollama embedder unavailable: %w", err)
		}
		embedder = e

	case ProviderAuto:
		e, err := newOllama(ctx, opts, logger)
		if err != nil {
			logger.Warn("embedder_fallback",
				slog.String("from", string(ProviderOllama)),
				slog.String("to", string(ProviderStatic)),
				slog.String("reason", err.Error()))
			embedder = NewStaticEmbedder()
		} else {
			embedder = e
		}

	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", opts.Provider)
	}

	if opts.CacheSize < 0 {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, opts.CacheSize), nil
}

func newOllama(ctx context.Context, opts Options, logger *slog.Logger) (*OllamaEmbedder, error) {
	cfg := DefaultOllamaConfig()
	if opts.Host != "" {
		cfg.Host = opts.Host
	}
	if opts.Model != "" {
		cfg.Model = opts.Model
	}
	if opts.BatchSize > 0 {
		cfg.BatchSize = opts.BatchSize
	}
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	cfg.Logger = logger
	return NewOllamaEmbedder(ctx, cfg)
}
