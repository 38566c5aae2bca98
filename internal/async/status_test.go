package async

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIngestProgress_Lifecycle(t *testing.T) {
	// Given a fresh tracker
	p := NewIngestProgress()
	assert.Equal(t, string(StatusIdle), p.Snapshot().Status)
	assert.False(t, p.IsIngesting())

	// When an ingestion runs through its stages
	p.Begin("paper.pdf")
	assert.True(t, p.IsIngesting())
	p.SetStage(StageEmbedding)
	p.SetChunksTotal(4)
	p.UpdateEmbedded(1)

	snap := p.Snapshot()
	assert.Equal(t, "ingesting", snap.Status)
	assert.Equal(t, "embedding", snap.Stage)
	assert.Equal(t, "paper.pdf", snap.Document)
	assert.InDelta(t, 25.0, snap.ProgressPct, 0.001)

	p.SetReady(7)

	// Then the final snapshot reports readiness and the version
	snap = p.Snapshot()
	assert.Equal(t, "ready", snap.Status)
	assert.Equal(t, "ready", snap.Stage)
	assert.Equal(t, uint64(7), snap.Version)
	assert.InDelta(t, 100.0, snap.ProgressPct, 0.001)
}

func TestIngestProgress_BeginResetsPreviousRun(t *testing.T) {
	p := NewIngestProgress()
	p.Begin("a.pdf")
	p.SetChunksTotal(10)
	p.SetError("boom")
	assert.Equal(t, "boom", p.Snapshot().ErrorMessage)

	p.Begin("b.pdf")

	snap := p.Snapshot()
	assert.Equal(t, "ingesting", snap.Status)
	assert.Equal(t, "cleanup", snap.Stage)
	assert.Equal(t, "b.pdf", snap.Document)
	assert.Zero(t, snap.ChunksTotal)
	assert.Empty(t, snap.ErrorMessage)
}

func TestIngestProgress_ConcurrentAccess(t *testing.T) {
	p := NewIngestProgress()
	p.Begin("doc")
	p.SetChunksTotal(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			p.UpdateEmbedded(n * 100)
		}(i)
		go func() {
			defer wg.Done()
			_ = p.Snapshot()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, p.Snapshot().ChunksEmbedded, 900)
}
