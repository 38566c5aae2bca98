package async

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// markerFile exists in the data directory while an ingestion runs. Finding
// it at startup means the previous process died mid-ingestion.
const markerFile = "ingesting.marker"

// IngestFunc does the ingestion work and reports into progress.
type IngestFunc func(ctx context.Context, progress *IngestProgress) error

// IngesterConfig configures a BackgroundIngester.
type IngesterConfig struct {
	DataDir  string
	Document string
	// Progress is shared with status readers. A new tracker is created
	// when nil.
	Progress *IngestProgress
}

// BackgroundIngester runs one ingestion in a background goroutine.
type BackgroundIngester struct {
	config   IngesterConfig
	progress *IngestProgress
	fn       IngestFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}

	mu      sync.Mutex
	started bool
	running bool
	err     error
}

// NewBackgroundIngester creates an ingester that will run fn.
func NewBackgroundIngester(cfg IngesterConfig, fn IngestFunc) *BackgroundIngester {
	progress := cfg.Progress
	if progress == nil {
		progress = NewIngestProgress()
	}
	return &BackgroundIngester{
		config:   cfg,
		progress: progress,
		fn:       fn,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the progress tracker.
func (b *BackgroundIngester) Progress() *IngestProgress {
	return b.progress
}

// IsRunning reports whether the ingestion goroutine is active.
func (b *BackgroundIngester) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start begins the ingestion and returns immediately. Later calls are
// ignored.
func (b *BackgroundIngester) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.running = true
	b.mu.Unlock()

	b.progress.Begin(b.config.Document)
	go b.run(ctx)
}

func (b *BackgroundIngester) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if b.config.DataDir != "" {
		if err := os.MkdirAll(b.config.DataDir, 0755); err != nil {
			b.fail(err)
			return
		}
		marker := filepath.Join(b.config.DataDir, markerFile)
		if err := os.WriteFile(marker, []byte(time.Now().Format(time.RFC3339)), 0644); err != nil {
			b.fail(err)
			return
		}
		defer func() { _ = os.Remove(marker) }()
	}

	if b.fn != nil {
		if err := b.fn(ctx, b.progress); err != nil {
			b.fail(err)
			return
		}
	}

	// fn normally marks readiness with the corpus version.
	if b.progress.IsIngesting() {
		b.progress.SetReady(0)
	}
}

func (b *BackgroundIngester) fail(err error) {
	if b.progress.IsIngesting() {
		b.progress.SetError(err.Error())
	}
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// Stop cancels the ingestion and waits for it to finish.
func (b *BackgroundIngester) Stop() {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return
	}

	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// Wait blocks until the ingestion completes and returns its error.
// It returns nil immediately if Start was never called.
func (b *BackgroundIngester) Wait() error {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return nil
	}

	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Done is closed when a started ingestion finishes.
func (b *BackgroundIngester) Done() <-chan struct{} {
	return b.doneCh
}

// HasIncompleteIngest reports whether a previous ingestion in dataDir was
// interrupted.
func HasIncompleteIngest(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, markerFile))
	return err == nil
}
