package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTUIRenderer_ReturnsErrorForNonTTY(t *testing.T) {
	// Given: a non-TTY buffer
	cfg := NewConfig(&bytes.Buffer{})

	// When: creating TUI renderer
	r, err := NewTUIRenderer(cfg)

	// Then: returns error (can't create TUI for non-TTY)
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestIngestModel_StageIndicators(t *testing.T) {
	// Given: a model at the chunking stage
	model := newIngestModel("docchat ingest")
	model.styles = NoColorStyles()
	model.Update(snapshotMsg{Status: "ingesting", Stage: "chunking", Document: "report.pdf"})

	// When: rendering
	view := model.View()

	// Then: all stage names, the title and the document are shown
	for _, name := range []string{"Clean", "Chunk", "Embed", "Index"} {
		assert.Contains(t, view, name)
	}
	assert.Contains(t, view, "docchat ingest")
	assert.Contains(t, view, "report.pdf")
	assert.Contains(t, view, "● Clean")
	assert.Contains(t, view, "○ Embed")
}

func TestIngestModel_EmbeddingProgress(t *testing.T) {
	model := newIngestModel("docchat ingest")
	model.styles = NoColorStyles()

	model.Update(snapshotMsg{
		Status:         "ingesting",
		Stage:          "embedding",
		ChunksTotal:    48,
		ChunksEmbedded: 12,
		ProgressPct:    25,
		ElapsedSeconds: 75,
	})
	view := model.View()

	assert.Contains(t, view, "12 / 48 chunks")
	assert.Contains(t, view, " 25%")
	assert.Contains(t, view, "1m 15s")
}

func TestIngestModel_CompleteQuits(t *testing.T) {
	model := newIngestModel("docchat ingest")
	model.styles = NoColorStyles()

	_, cmd := model.Update(completeMsg{
		Document: "report.pdf",
		Chunks:   42,
		Version:  3,
		Duration: 3 * time.Second,
		Embedder: EmbedderInfo{Model: "mxbai-embed-large", Dimensions: 1024},
	})

	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	view := model.View()
	assert.Contains(t, view, "Ingestion Complete")
	assert.Contains(t, view, "report.pdf")
	assert.Contains(t, view, "v3")
	assert.Contains(t, view, "mxbai-embed-large (1024 dims)")
}

func TestIngestModel_FailShowsError(t *testing.T) {
	model := newIngestModel("docchat ingest")
	model.styles = NoColorStyles()

	_, cmd := model.Update(failMsg{err: errors.New("no extractable text")})

	require.NotNil(t, cmd)
	assert.Contains(t, model.View(), "no extractable text")
}

func TestIngestModel_CtrlCInterrupts(t *testing.T) {
	// Given: a model with an interrupt hook
	interrupted := false
	model := newIngestModel("docchat ingest")
	model.onInterrupt = func() { interrupted = true }

	// When: ctrl+c is pressed
	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	// Then: the hook runs and the program quits
	assert.True(t, interrupted)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, "Cancelled.\n", model.View())
}

func TestIngestModel_WindowResize(t *testing.T) {
	model := newIngestModel("docchat ingest")

	model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	assert.Equal(t, 120, model.width)
	assert.Equal(t, 100, model.progressBar.Width)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{2 * time.Minute, "2m"},
		{2*time.Minute + 5*time.Second, "2m 5s"},
		{time.Hour + 30*time.Minute, "1h 30m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}
