package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docchat/internal/async"
	"github.com/Aman-CERP/docchat/internal/chunk"
	"github.com/Aman-CERP/docchat/internal/embed"
	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
	"github.com/Aman-CERP/docchat/internal/history"
	"github.com/Aman-CERP/docchat/internal/logging"
	"github.com/Aman-CERP/docchat/internal/store"
)

// recordingIndex logs calls and can fail Rebuild.
type recordingIndex struct {
	calls      []string
	chunks     []chunk.Chunk
	rebuildErr error
}

func (r *recordingIndex) Cleanup(context.Context) error {
	r.calls = append(r.calls, "cleanup")
	return nil
}

func (r *recordingIndex) Rebuild(_ context.Context, chunks []chunk.Chunk, _ ...store.RebuildOption) (store.Corpus, error) {
	r.calls = append(r.calls, "rebuild")
	r.chunks = chunks
	if r.rebuildErr != nil {
		return store.Corpus{}, r.rebuildErr
	}
	return store.Corpus{Version: 1, ChunkCount: len(chunks)}, nil
}

type recordingHistory struct {
	index *recordingIndex
}

func (h *recordingHistory) Clear(context.Context) error {
	h.index.calls = append(h.index.calls, "clear_history")
	return nil
}

func newRecordingPipeline(t *testing.T, clear bool) (*Pipeline, *recordingIndex) {
	t.Helper()
	idx := &recordingIndex{}
	p, err := NewPipeline(PipelineConfig{
		Index:        idx,
		History:      &recordingHistory{index: idx},
		ChunkSize:    40,
		ChunkOverlap: 5,
		ClearHistory: clear,
		Logger:       logging.Discard(),
	})
	require.NoError(t, err)
	return p, idx
}

func TestPipeline_StepOrder(t *testing.T) {
	p, idx := newRecordingPipeline(t, true)

	c, err := p.Ingest(context.Background(), strings.Repeat("The sky is blue. ", 10), nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"cleanup", "clear_history", "rebuild"}, idx.calls)
	assert.Equal(t, len(idx.chunks), c.ChunkCount)
	assert.Greater(t, c.ChunkCount, 1)
}

func TestPipeline_BlankTextFailsAfterCleanup(t *testing.T) {
	// Given any existing corpus and history
	p, idx := newRecordingPipeline(t, true)
	progress := async.NewIngestProgress()
	progress.Begin("blank.txt")

	// When blank text is ingested
	_, err := p.Ingest(context.Background(), " \n\t ", progress)

	// Then it fails as an empty document after everything was cleared
	assert.ErrorIs(t, err, dcerrors.ErrEmptyDocument)
	assert.Equal(t, []string{"cleanup", "clear_history"}, idx.calls)
	assert.Equal(t, "error", progress.Snapshot().Status)
}

func TestPipeline_HistoryKeptWhenConfigured(t *testing.T) {
	p, idx := newRecordingPipeline(t, false)

	_, err := p.Ingest(context.Background(), "Grass is green.", nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"cleanup", "rebuild"}, idx.calls)
}

func TestPipeline_RebuildErrorPropagates(t *testing.T) {
	p, idx := newRecordingPipeline(t, true)
	idx.rebuildErr = dcerrors.EmbeddingError("backend down", errors.New("connection refused"))

	_, err := p.Ingest(context.Background(), "Grass is green.", nil)

	assert.ErrorIs(t, err, dcerrors.ErrEmbedding)
}

func TestPipeline_UnsupportedDocument(t *testing.T) {
	p, idx := newRecordingPipeline(t, true)

	_, err := p.IngestDocument(context.Background(), "image.png", []byte("\x89PNG\r\n"), nil)

	assert.ErrorIs(t, err, dcerrors.ErrUnsupportedDocument)
	assert.Equal(t, []string{"cleanup", "clear_history"}, idx.calls, "extraction runs after cleanup")
}

func TestPipeline_IngestFile(t *testing.T) {
	// Given a markdown file on disk
	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("Grass is green in the spring."), 0o644))
	p, idx := newRecordingPipeline(t, false)

	// When it is ingested
	c, err := p.IngestFile(context.Background(), path, 1<<20, nil)

	// Then its text is chunked and indexed
	require.NoError(t, err)
	assert.Equal(t, 1, c.ChunkCount)
	require.Len(t, idx.chunks, 1)
	assert.Contains(t, idx.chunks[0].Text, "Grass is green")
}

func TestPipeline_IngestFileTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("word ", 100)), 0o644))
	p, _ := newRecordingPipeline(t, false)

	_, err := p.IngestFile(context.Background(), path, 10, nil)

	assert.Equal(t, dcerrors.ErrCodeFileTooLarge, dcerrors.GetCode(err))
}

func TestNewPipeline_InvalidChunking(t *testing.T) {
	_, err := NewPipeline(PipelineConfig{Index: &recordingIndex{}, ChunkSize: 10, ChunkOverlap: 10})

	assert.ErrorIs(t, err, dcerrors.ErrInvalidConfiguration)
}

func TestPipeline_EndToEnd(t *testing.T) {
	// Given a real index, an old corpus and some history
	ctx := context.Background()
	vi, err := store.NewVectorIndex(store.IndexConfig{
		Dir:      t.TempDir(),
		Embedder: embed.NewStaticEmbedder(),
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	h, err := history.Open("")
	require.NoError(t, err)
	defer func() { _ = h.Close() }()

	p, err := NewPipeline(PipelineConfig{
		Index:        vi,
		History:      h,
		ChunkSize:    60,
		ChunkOverlap: 10,
		ClearHistory: true,
		Logger:       logging.Discard(),
	})
	require.NoError(t, err)

	_, err = p.IngestDocument(ctx, "old.txt", []byte("Penguins live in Antarctica."), nil)
	require.NoError(t, err)
	_, err = h.Append(ctx, "q", "a", time.Now())
	require.NoError(t, err)

	// When a new document is ingested with progress tracking
	progress := async.NewIngestProgress()
	progress.Begin("colours.md")
	doc := "The sky is blue on a clear day.\n\nGrass is green in the spring.\n\nSnow is white in the winter."
	c, err := p.IngestDocument(ctx, "colours.md", []byte(doc), progress)
	require.NoError(t, err)

	// Then only the new document is searchable and history was cleared
	hits, err := vi.Search(ctx, "what colour is grass in spring", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Chunk.Text, "Grass is green")

	hits, err = vi.Search(ctx, "penguins antarctica", 10)
	require.NoError(t, err)
	for _, hit := range hits {
		assert.NotContains(t, hit.Chunk.Text, "Penguins")
	}

	n, err := h.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	snap := progress.Snapshot()
	assert.Equal(t, "ready", snap.Status)
	assert.Equal(t, c.Version, snap.Version)
	assert.Equal(t, c.ChunkCount, snap.ChunksTotal)
	assert.Equal(t, c.ChunkCount, snap.ChunksEmbedded)
}

func TestPipeline_SmallChunksRankSkyFirst(t *testing.T) {
	// Given a two-sentence document split into 20-rune chunks with overlap 5
	ctx := context.Background()
	vi, err := store.NewVectorIndex(store.IndexConfig{
		Dir:      t.TempDir(),
		Embedder: embed.NewStaticEmbedder(),
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	p, err := NewPipeline(PipelineConfig{
		Index:        vi,
		ChunkSize:    20,
		ChunkOverlap: 5,
		Logger:       logging.Discard(),
	})
	require.NoError(t, err)

	c, err := p.Ingest(ctx, "The sky is blue. Grass is green.", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, c.ChunkCount)

	// When asking about the sky
	hits, err := vi.Search(ctx, "what color is the sky", 2)

	// Then the sky sentence ranks first
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Contains(t, hits[0].Chunk.Text, "The sky is blue.")
	assert.Greater(t, hits[0].Score, hits[1].Score)
}
