package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docchat/internal/async"
	"github.com/Aman-CERP/docchat/internal/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var document string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the active document to AI clients over MCP (stdio)",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
search_document, ask_document and document_status tools and the
docchat://history resource.

Logs go to the log file only; stdout carries the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd.Context(), opts, document)
		},
	}

	cmd.Flags().StringVar(&document, "document", "", "Document to ingest in the background at startup")

	return cmd
}

func runMCP(ctx context.Context, opts *rootOptions, document string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := mcp.NewServer(mcp.Config{
		Searcher:      a.retriever,
		Asker:         a.chat,
		Index:         a.index,
		EmbedderModel: a.embedder.ModelName(),
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}

	if document != "" {
		progress := async.NewIngestProgress()
		srv.SetIngestProgress(progress)
		bg := startBackgroundIngest(ctx, a, document, progress)
		defer bg.Stop()
	}

	return srv.Serve(ctx)
}
