package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackgroundIngester_Success(t *testing.T) {
	// Given an ingest function that reports progress
	dir := t.TempDir()
	b := NewBackgroundIngester(IngesterConfig{DataDir: dir, Document: "doc.pdf"},
		func(ctx context.Context, p *IngestProgress) error {
			assert.True(t, HasIncompleteIngest(dir), "marker exists while running")
			p.SetStage(StageEmbedding)
			p.SetChunksTotal(2)
			p.UpdateEmbedded(2)
			p.SetReady(3)
			return nil
		})

	// When it runs to completion
	b.Start(context.Background())
	require.NoError(t, b.Wait())

	// Then progress is ready and the marker is gone
	snap := b.Progress().Snapshot()
	assert.Equal(t, "ready", snap.Status)
	assert.Equal(t, uint64(3), snap.Version)
	assert.Equal(t, "doc.pdf", snap.Document)
	assert.False(t, HasIncompleteIngest(dir))
	assert.False(t, b.IsRunning())
}

func TestBackgroundIngester_Failure(t *testing.T) {
	boom := errors.New("embedding backend down")
	b := NewBackgroundIngester(IngesterConfig{}, func(context.Context, *IngestProgress) error {
		return boom
	})

	b.Start(context.Background())

	assert.ErrorIs(t, b.Wait(), boom)
	snap := b.Progress().Snapshot()
	assert.Equal(t, "error", snap.Status)
	assert.Equal(t, boom.Error(), snap.ErrorMessage)
}

func TestBackgroundIngester_Stop(t *testing.T) {
	// Given an ingestion that runs until cancelled
	started := make(chan struct{})
	b := NewBackgroundIngester(IngesterConfig{}, func(ctx context.Context, _ *IngestProgress) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	b.Start(context.Background())
	<-started

	// When it is stopped
	stopped := make(chan struct{})
	go func() {
		b.Stop()
		close(stopped)
	}()

	// Then it finishes with the cancellation error
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.ErrorIs(t, b.Wait(), context.Canceled)
	b.Stop()
}

func TestBackgroundIngester_StartOnce(t *testing.T) {
	calls := 0
	b := NewBackgroundIngester(IngesterConfig{}, func(context.Context, *IngestProgress) error {
		calls++
		return nil
	})

	b.Start(context.Background())
	require.NoError(t, b.Wait())
	b.Start(context.Background())
	require.NoError(t, b.Wait())

	assert.Equal(t, 1, calls)
}

func TestBackgroundIngester_WaitWithoutStart(t *testing.T) {
	b := NewBackgroundIngester(IngesterConfig{}, nil)

	assert.NoError(t, b.Wait())
	b.Stop()
}

func TestBackgroundIngester_SharedProgress(t *testing.T) {
	shared := NewIngestProgress()
	b := NewBackgroundIngester(IngesterConfig{Progress: shared}, nil)

	b.Start(context.Background())
	require.NoError(t, b.Wait())

	assert.Same(t, shared, b.Progress())
	assert.Equal(t, "ready", shared.Snapshot().Status)
}
