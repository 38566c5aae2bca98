// Package async provides progress tracking and background ingestion.
package async

import (
	"sync"
	"time"
)

// IngestStatus is the overall ingestion state.
type IngestStatus string

const (
	// StatusIdle means no document has been ingested by this process.
	StatusIdle IngestStatus = "idle"
	// StatusIngesting means an ingestion is in progress.
	StatusIngesting IngestStatus = "ingesting"
	// StatusReady means the last ingestion succeeded and chat is available.
	StatusReady IngestStatus = "ready"
	// StatusError means the last ingestion failed.
	StatusError IngestStatus = "error"
)

// IngestStage is the current step of an ingestion.
type IngestStage string

const (
	StageCleanup   IngestStage = "cleanup"
	StageChunking  IngestStage = "chunking"
	StageEmbedding IngestStage = "embedding"
	StageIndexing  IngestStage = "indexing"
	StageReady     IngestStage = "ready"
	StageError     IngestStage = "error"
)

// IngestSnapshot is an immutable copy of ingestion progress.
type IngestSnapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage,omitempty"`
	Document       string  `json:"document,omitempty"`
	ChunksTotal    int     `json:"chunks_total"`
	ChunksEmbedded int     `json:"chunks_embedded"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	Version        uint64  `json:"version,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// IngestProgress tracks ingestion progress. It is safe for concurrent use
// and may be reused across ingestions with Begin.
type IngestProgress struct {
	mu sync.RWMutex

	status         IngestStatus
	stage          IngestStage
	document       string
	chunksTotal    int
	chunksEmbedded int
	version        uint64
	startTime      time.Time
	finishTime     time.Time
	errorMessage   string
}

// NewIngestProgress creates an idle tracker.
func NewIngestProgress() *IngestProgress {
	return &IngestProgress{status: StatusIdle}
}

// Begin resets the tracker for a new ingestion of document.
func (p *IngestProgress) Begin(document string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusIngesting
	p.stage = StageCleanup
	p.document = document
	p.chunksTotal = 0
	p.chunksEmbedded = 0
	p.version = 0
	p.startTime = time.Now()
	p.finishTime = time.Time{}
	p.errorMessage = ""
}

// SetStage moves to stage.
func (p *IngestProgress) SetStage(stage IngestStage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
}

// SetChunksTotal records how many chunks will be embedded.
func (p *IngestProgress) SetChunksTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chunksTotal = total
}

// UpdateEmbedded records how many chunks have been embedded.
func (p *IngestProgress) UpdateEmbedded(done int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chunksEmbedded = done
}

// SetReady marks the ingestion complete at corpus version.
func (p *IngestProgress) SetReady(version uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
	p.stage = StageReady
	p.version = version
	p.finishTime = time.Now()
}

// SetError marks the ingestion failed.
func (p *IngestProgress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.stage = StageError
	p.errorMessage = message
	p.finishTime = time.Now()
}

// IsIngesting reports whether an ingestion is in progress.
func (p *IngestProgress) IsIngesting() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusIngesting
}

// Snapshot returns the current progress.
func (p *IngestProgress) Snapshot() IngestSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	switch {
	case p.status == StatusReady:
		pct = 100
	case p.chunksTotal > 0:
		pct = float64(p.chunksEmbedded) / float64(p.chunksTotal) * 100.0
	}

	var elapsed time.Duration
	switch {
	case p.startTime.IsZero():
	case p.finishTime.IsZero():
		elapsed = time.Since(p.startTime)
	default:
		elapsed = p.finishTime.Sub(p.startTime)
	}

	return IngestSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		Document:       p.document,
		ChunksTotal:    p.chunksTotal,
		ChunksEmbedded: p.chunksEmbedded,
		ProgressPct:    pct,
		ElapsedSeconds: int(elapsed.Seconds()),
		Version:        p.version,
		ErrorMessage:   p.errorMessage,
	}
}
