// Package ui renders ingestion progress, corpus status and the interactive
// chat in the terminal.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/docchat/internal/async"
)

// stage describes one ingestion step for display.
type stage struct {
	id    async.IngestStage
	name  string
	icon  string
	order int
}

var stages = []stage{
	{async.StageCleanup, "Clean", "CLEAN", 0},
	{async.StageChunking, "Chunk", "CHUNK", 1},
	{async.StageEmbedding, "Embed", "EMBED", 2},
	{async.StageIndexing, "Index", "INDEX", 3},
	{async.StageReady, "Ready", "DONE", 4},
}

// stageOrder returns the position of a snapshot stage, or -1 when unknown.
func stageOrder(id string) int {
	for _, s := range stages {
		if string(s.id) == id {
			return s.order
		}
	}
	return -1
}

// stageIcon returns the short stage tag for plain text output.
func stageIcon(id string) string {
	for _, s := range stages {
		if string(s.id) == id {
			return s.icon
		}
	}
	if id == string(async.StageError) {
		return "ERROR"
	}
	return "???"
}

// EmbedderInfo contains embedding backend details.
type EmbedderInfo struct {
	Provider   string // "ollama" or "static"
	Model      string
	Dimensions int
}

// CompletionStats summarizes a finished ingestion.
type CompletionStats struct {
	Document string
	Chunks   int
	Version  uint64
	Duration time.Duration
	Embedder EmbedderInfo
}

// Renderer displays ingestion progress.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// Update shows the latest progress snapshot.
	Update(snap async.IngestSnapshot)

	// Complete shows the summary of a successful ingestion.
	Complete(stats CompletionStats)

	// Fail shows why the ingestion stopped.
	Fail(err error)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Title      string

	// OnInterrupt runs when the user presses ctrl+c in the TUI, which
	// swallows the signal while it owns the terminal.
	OnInterrupt func()
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithTitle sets the header shown above the progress.
func WithTitle(title string) ConfigOption {
	return func(c *Config) {
		c.Title = title
	}
}

// WithInterrupt sets the function run on ctrl+c.
func WithInterrupt(fn func()) ConfigOption {
	return func(c *Config) {
		c.OnInterrupt = fn
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{
		Output: output,
		Title:  "docchat ingest",
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// NewRenderer creates an appropriate renderer based on config and environment.
// It returns a TUI renderer for interactive terminals, and a plain text
// renderer for CI environments, pipes, or when --plain is specified.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// Watch feeds snapshots of progress to r until ctx is done or the ingestion
// leaves the ingesting state. Unchanged snapshots are skipped.
func Watch(ctx context.Context, progress *async.IngestProgress, r Renderer, every time.Duration) {
	if every <= 0 {
		every = 100 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last async.IngestSnapshot
	for {
		snap := progress.Snapshot()
		key := snap
		key.ElapsedSeconds = 0
		if key != last {
			r.Update(snap)
			last = key
		}
		if snap.Status != string(async.StatusIngesting) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}

	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
