// Package index runs document ingestion: it replaces the active corpus with
// one built from a new document.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/docchat/internal/async"
	"github.com/Aman-CERP/docchat/internal/chunk"
	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
	"github.com/Aman-CERP/docchat/internal/extract"
	"github.com/Aman-CERP/docchat/internal/store"
)

// VectorIndex is the corpus owner the pipeline rebuilds.
type VectorIndex interface {
	Cleanup(ctx context.Context) error
	Rebuild(ctx context.Context, chunks []chunk.Chunk, opts ...store.RebuildOption) (store.Corpus, error)
}

// HistoryClearer empties the chat history.
type HistoryClearer interface {
	Clear(ctx context.Context) error
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Index        VectorIndex
	History      HistoryClearer
	ChunkSize    int
	ChunkOverlap int
	// ClearHistory empties History at the start of every ingestion.
	ClearHistory bool
	Logger       *slog.Logger
}

// Pipeline ingests one document at a time.
//
// The previous corpus is removed before anything else happens, so a failed
// ingestion leaves no corpus behind rather than a stale one.
type Pipeline struct {
	index        VectorIndex
	history      HistoryClearer
	splitter     *chunk.Splitter
	clearHistory bool
	logger       *slog.Logger
}

// NewPipeline creates a pipeline. Invalid chunking settings fail with
// InvalidConfiguration.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Index == nil {
		return nil, dcerrors.ValidationError("pipeline needs a vector index", nil)
	}
	splitter, err := chunk.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		index:        cfg.Index,
		history:      cfg.History,
		splitter:     splitter,
		clearHistory: cfg.ClearHistory && cfg.History != nil,
		logger:       cfg.Logger,
	}, nil
}

// Ingest replaces the active corpus with one built from rawText.
// progress may be nil.
func (p *Pipeline) Ingest(ctx context.Context, rawText string, progress *async.IngestProgress) (store.Corpus, error) {
	return p.run(ctx, "text", func() (string, error) { return rawText, nil }, progress)
}

// IngestDocument extracts the text of an uploaded document and ingests it.
// Extraction happens after the previous corpus is removed.
func (p *Pipeline) IngestDocument(ctx context.Context, name string, data []byte, progress *async.IngestProgress) (store.Corpus, error) {
	return p.run(ctx, name, func() (string, error) { return extract.Document(name, data) }, progress)
}

// IngestFile reads, extracts and ingests the document at path. Files larger
// than maxBytes are rejected.
func (p *Pipeline) IngestFile(ctx context.Context, path string, maxBytes int64, progress *async.IngestProgress) (store.Corpus, error) {
	return p.run(ctx, filepath.Base(path), func() (string, error) { return extract.File(path, maxBytes) }, progress)
}

func (p *Pipeline) run(ctx context.Context, name string, text func() (string, error), progress *async.IngestProgress) (store.Corpus, error) {
	start := time.Now()
	report := tracker{progress}

	c, err := p.ingest(ctx, text, report)
	if err != nil {
		report.fail(err)
		p.logger.Warn("ingest_failed",
			append([]any{slog.String("document", name)}, dcerrors.FormatForLog(err)...)...)
		return store.Corpus{}, err
	}

	report.ready(c.Version)
	p.logger.Info("ingest_complete",
		slog.String("document", name),
		slog.Uint64("version", c.Version),
		slog.Int("chunks", c.ChunkCount),
		slog.Duration("duration", time.Since(start)))
	return c, nil
}

func (p *Pipeline) ingest(ctx context.Context, text func() (string, error), report tracker) (store.Corpus, error) {
	report.stage(async.StageCleanup)
	if err := p.index.Cleanup(ctx); err != nil {
		return store.Corpus{}, fmt.Errorf("cleanup: %w", err)
	}
	if p.clearHistory {
		if err := p.history.Clear(ctx); err != nil {
			return store.Corpus{}, fmt.Errorf("clear history: %w", err)
		}
	}

	raw, err := text()
	if err != nil {
		return store.Corpus{}, err
	}
	if strings.TrimSpace(raw) == "" {
		return store.Corpus{}, dcerrors.EmptyDocument("document contains no text")
	}

	report.stage(async.StageChunking)
	chunks := p.splitter.Split(raw)
	if len(chunks) == 0 {
		return store.Corpus{}, dcerrors.EmptyDocument("document produced no chunks")
	}
	report.total(len(chunks))

	report.stage(async.StageEmbedding)
	c, err := p.index.Rebuild(ctx, chunks, store.WithProgress(func(done, total int) {
		report.embedded(done)
		if done == total {
			report.stage(async.StageIndexing)
		}
	}))
	if err != nil {
		return store.Corpus{}, err
	}
	return c, nil
}

// tracker forwards to an optional progress tracker.
type tracker struct {
	p *async.IngestProgress
}

func (t tracker) stage(s async.IngestStage) {
	if t.p != nil {
		t.p.SetStage(s)
	}
}

func (t tracker) total(n int) {
	if t.p != nil {
		t.p.SetChunksTotal(n)
	}
}

func (t tracker) embedded(n int) {
	if t.p != nil {
		t.p.UpdateEmbedded(n)
	}
}

func (t tracker) ready(version uint64) {
	if t.p != nil {
		t.p.SetReady(version)
	}
}

func (t tracker) fail(err error) {
	if t.p != nil {
		t.p.SetError(err.Error())
	}
}
