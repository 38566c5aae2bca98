package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docchat/internal/api"
	"github.com/Aman-CERP/docchat/internal/async"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	var document string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API for uploads, questions and streamed answers.

Endpoints:
  POST /api/pdf/upload           upload a PDF (multipart field "file")
  GET  /api/pdf/status           ingestion progress
  POST /api/chat/send            answer a question
  GET  /api/chat/stream/{id}     stream an answer as server-sent events
  POST /api/chat/stream/{id}/cancel  cancel a stream
  GET  /api/chat/history         past questions and answers
  POST /api/chat/clear           clear the history
  GET  /api/health               liveness and corpus stats

With --document, the file is ingested in the background while the
server starts accepting requests.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				opts.cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cmd, opts, document)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8000)")
	cmd.Flags().StringVar(&document, "document", "", "Document to ingest at startup")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *rootOptions, document string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.cfg
	logger := opts.logger

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	progress := async.NewIngestProgress()
	srv, err := api.NewServer(api.Config{
		Addr:              cfg.Server.Addr,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		MaxUploadBytes:    a.maxDocumentBytes(),
		CleanupOnShutdown: cfg.Server.CleanupOnShutdown,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Chat:              a.chat,
		Ingester:          a.pipeline,
		Index:             a.index,
		Progress:          progress,
		EmbedderModel:     a.embedder.ModelName(),
		Metrics:           a.metrics,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	if document != "" {
		bg := startBackgroundIngest(ctx, a, document, progress)
		defer bg.Stop()
	}

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "docchat listening on %s (embedder %s, generator %s)\n",
		cfg.Server.Addr, a.embedder.ModelName(), a.generator.Model())
	return srv.ListenAndServe(ctx)
}

// startBackgroundIngest ingests path without blocking, reporting into
// progress. A marker file in the data directory flags an ingestion that
// never finished.
func startBackgroundIngest(ctx context.Context, a *app, path string, progress *async.IngestProgress) *async.BackgroundIngester {
	if async.HasIncompleteIngest(a.cfg.Paths.DataDir) {
		a.logger.Warn("previous_ingest_incomplete", slog.String("data_dir", a.cfg.Paths.DataDir))
	}

	bg := async.NewBackgroundIngester(async.IngesterConfig{
		DataDir:  a.cfg.Paths.DataDir,
		Document: filepath.Base(path),
		Progress: progress,
	}, func(ctx context.Context, p *async.IngestProgress) error {
		_, err := a.pipeline.IngestFile(ctx, path, a.maxDocumentBytes(), p)
		return err
	})
	bg.Start(ctx)
	return bg
}
