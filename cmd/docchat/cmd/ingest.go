package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docchat/internal/async"
	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
	"github.com/Aman-CERP/docchat/internal/ui"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Replace the active document",
		Long: `Extract, chunk and embed a PDF or text file and make it the active
document. The previous document is removed first and, unless
ingest.clear_history is false, so is the chat history.

Examples:
  docchat ingest report.pdf
  docchat ingest notes.md --offline`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, opts, args[0], plain)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Plain progress output even on a terminal")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, opts *rootOptions, path string, plain bool) error {
	// Checked before the pipeline runs, which removes the current corpus first.
	if _, err := os.Stat(path); err != nil {
		return dcerrors.New(dcerrors.ErrCodeFileNotFound, "cannot open "+path, err).
			WithSuggestion("Check the path and try again")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	name := filepath.Base(path)
	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(plain),
		ui.WithNoColor(opts.noColor),
		ui.WithTitle("docchat ingest • "+name),
		ui.WithInterrupt(stop),
	))
	if err := renderer.Start(ctx); err != nil {
		a.logger.Warn("progress_renderer_failed", dcerrors.FormatForLog(err)...)
	}
	defer func() { _ = renderer.Stop() }()

	progress := async.NewIngestProgress()
	progress.Begin(name)

	watched := make(chan struct{})
	go func() {
		defer close(watched)
		ui.Watch(ctx, progress, renderer, 100*time.Millisecond)
	}()

	start := time.Now()
	corpus, err := a.pipeline.IngestFile(ctx, path, a.maxDocumentBytes(), progress)
	<-watched

	if err != nil {
		renderer.Fail(err)
		return err
	}

	renderer.Complete(ui.CompletionStats{
		Document: name,
		Chunks:   corpus.ChunkCount,
		Version:  corpus.Version,
		Duration: time.Since(start),
		Embedder: ui.EmbedderInfo{
			Provider:   embedderProvider(opts),
			Model:      corpus.Model,
			Dimensions: corpus.Dimensions,
		},
	})
	return nil
}

// embedderProvider names the configured embeddings provider for display.
func embedderProvider(opts *rootOptions) string {
	if p := opts.cfg.Embeddings.Provider; p != "" {
		return p
	}
	return "auto"
}
