package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Aman-CERP/docchat/internal/async"
)

// embedStep is the percentage step between embedding progress lines.
const embedStep = 25

// PlainRenderer outputs plain text progress (for CI/pipes).
type PlainRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	stage    string
	lastStep int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, lastStep: -1}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// Update implements Renderer. It prints a line per stage change and, while
// embedding, one every 25 percent.
func (r *PlainRenderer) Update(snap async.IngestSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Stage == "" || snap.Stage == string(async.StageError) {
		return
	}

	if snap.Stage != r.stage {
		r.stage = snap.Stage
		r.lastStep = -1
		switch async.IngestStage(snap.Stage) {
		case async.StageCleanup:
			_, _ = fmt.Fprintf(r.out, "[%s] %s\n", stageIcon(snap.Stage), snap.Document)
		case async.StageReady:
			_, _ = fmt.Fprintf(r.out, "[%s] corpus v%d\n", stageIcon(snap.Stage), snap.Version)
			return
		default:
			_, _ = fmt.Fprintf(r.out, "[%s] %s\n", stageIcon(snap.Stage), stageVerb(snap.Stage))
		}
	}

	if snap.Stage != string(async.StageEmbedding) || snap.ChunksTotal == 0 {
		return
	}
	step := int(snap.ProgressPct) / embedStep * embedStep
	if step <= r.lastStep {
		return
	}
	r.lastStep = step
	_, _ = fmt.Fprintf(r.out, "[%s] %d/%d chunks (%d%%)\n",
		stageIcon(snap.Stage), snap.ChunksEmbedded, snap.ChunksTotal, step)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %s, %d chunks indexed in %s (corpus v%d)\n",
		stats.Document, stats.Chunks, stats.Duration.Round(100*time.Millisecond), stats.Version)

	if stats.Embedder.Provider != "" {
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%s, %d dims)\n",
			stats.Embedder.Provider, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Fail implements Renderer.
func (r *PlainRenderer) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "ERROR: %v\n", err)
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

func stageVerb(id string) string {
	switch async.IngestStage(id) {
	case async.StageChunking:
		return "splitting text"
	case async.StageEmbedding:
		return "embedding chunks"
	case async.StageIndexing:
		return "building index"
	default:
		return id
	}
}

var _ Renderer = (*PlainRenderer)(nil)
