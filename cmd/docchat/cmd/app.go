package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/docchat/internal/chat"
	"github.com/Aman-CERP/docchat/internal/config"
	"github.com/Aman-CERP/docchat/internal/embed"
	"github.com/Aman-CERP/docchat/internal/history"
	"github.com/Aman-CERP/docchat/internal/index"
	"github.com/Aman-CERP/docchat/internal/llm"
	"github.com/Aman-CERP/docchat/internal/search"
	"github.com/Aman-CERP/docchat/internal/store"
	"github.com/Aman-CERP/docchat/internal/telemetry"
)

// errNoDocument is returned by commands that need an ingested document.
var errNoDocument = errors.New("no document ingested. Run 'docchat ingest <file>' first")

// app is the fully wired service graph shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	embedder  embed.Embedder
	index     *store.VectorIndex
	history   *history.Store
	generator llm.Generator
	retriever *search.Retriever
	chat      *chat.Service
	pipeline  *index.Pipeline
	metrics   *telemetry.Metrics
}

// newApp builds every component from cfg and loads the stored corpus.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{cfg: cfg, logger: logger, metrics: telemetry.New(telemetry.DefaultConfig())}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.embedder, err = embed.NewEmbedder(ctx, embed.Options{
		Provider:  embed.ProviderType(cfg.Embeddings.Provider),
		Model:     cfg.Embeddings.Model,
		Host:      cfg.Embeddings.OllamaHost,
		BatchSize: cfg.Embeddings.BatchSize,
		Timeout:   cfg.Embeddings.Timeout,
		CacheSize: cfg.Embeddings.CacheSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	a.index, err = openIndex(ctx, cfg, a.embedder, logger)
	if err != nil {
		return nil, err
	}

	a.history, err = history.Open(cfg.HistoryPath(), history.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	a.generator, err = llm.NewGenerator(llm.Options{
		Provider:          llm.Provider(cfg.LLM.Provider),
		Model:             cfg.LLM.Model,
		Host:              cfg.LLM.Host,
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Temperature:       cfg.LLM.Temperature,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	a.retriever = search.NewRetriever(a.index, cfg.Search.TopK)

	a.chat, err = chat.New(chat.Config{
		Retriever:         a.retriever,
		Generator:         a.generator,
		History:           a.history,
		TopK:              cfg.Search.TopK,
		HeartbeatInterval: cfg.Streaming.HeartbeatInterval,
		HeartbeatToken:    cfg.Streaming.HeartbeatToken,
		IdleTimeout:       cfg.Streaming.IdleTimeout,
		Metrics:           a.metrics,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	a.pipeline, err = index.NewPipeline(index.PipelineConfig{
		Index:        a.index,
		History:      a.history,
		ChunkSize:    cfg.Chunking.ChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
		ClearHistory: cfg.Ingest.ClearHistory,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("app_ready",
		slog.String("embedder", a.embedder.ModelName()),
		slog.Int("dimensions", a.embedder.Dimensions()),
		slog.String("generator", a.generator.Model()))
	return a, nil
}

// openIndex opens the index directory and loads the published corpus.
func openIndex(ctx context.Context, cfg *config.Config, embedder store.Embedder, logger *slog.Logger) (*store.VectorIndex, error) {
	vi, err := store.NewVectorIndex(store.IndexConfig{
		Dir:            cfg.IndexDir(),
		Embedder:       embedder,
		BatchSize:      cfg.Embeddings.BatchSize,
		Workers:        cfg.Embeddings.Workers,
		ExactThreshold: cfg.Search.ExactThreshold,
		M:              cfg.Search.M,
		EfSearch:       cfg.Search.EfSearch,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	if err := vi.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	return vi, nil
}

// requireCorpus fails when nothing has been ingested.
func (a *app) requireCorpus() (store.Corpus, error) {
	c, ok := a.index.Stats()
	if !ok {
		return store.Corpus{}, errNoDocument
	}
	return c, nil
}

// maxDocumentBytes is the ingest size cap shared by uploads and files.
func (a *app) maxDocumentBytes() int64 {
	return a.cfg.Ingest.MaxUploadMB << 20
}

// Close stops live streams and releases the history database and the embedder.
func (a *app) Close() {
	if a.chat != nil {
		a.chat.CancelAll()
	}
	if snap := a.metrics.Snapshot(); snap.TotalQuestions > 0 {
		a.logger.Info("question_summary",
			slog.Int64("total", snap.TotalQuestions),
			slog.Int64("completed", snap.Outcomes[telemetry.OutcomeCompleted]),
			slog.Int64("no_context", snap.NoContextCount),
			slog.Int64("repeats", snap.RepeatCount))
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("history_close_failed", slog.String("error", err.Error()))
		}
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
}
