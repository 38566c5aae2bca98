package cmd

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docchat/internal/async"
	"github.com/Aman-CERP/docchat/internal/embed"
	"github.com/Aman-CERP/docchat/internal/history"
	"github.com/Aman-CERP/docchat/internal/ui"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active corpus and storage usage",
		Long: `Show whether a document is ingested, how it was embedded, how much
disk the index and history use, and which backends are configured.

No model server is contacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, opts, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, opts *rootOptions, jsonOutput bool) error {
	info, err := collectStatus(ctx, opts)
	if err != nil {
		return err
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), opts.noColor)
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// collectStatus reads the stored corpus and history without the model
// backends; the static embedder is only a placeholder for loading.
func collectStatus(ctx context.Context, opts *rootOptions) (ui.StatusInfo, error) {
	cfg := opts.cfg
	info := ui.StatusInfo{
		EmbedderProvider: embedderProvider(opts),
		EmbedderModel:    cfg.Embeddings.Model,
		GeneratorModel:   cfg.LLM.Model,
		Offline:          opts.offline,
		IngestMarker:     async.HasIncompleteIngest(cfg.Paths.DataDir),
	}

	idx, err := openIndex(ctx, cfg, embed.NewStaticEmbedder(), opts.logger)
	if err != nil {
		return info, err
	}
	if c, ok := idx.Stats(); ok {
		info.Ready = true
		info.Version = c.Version
		info.TotalChunks = c.ChunkCount
		info.Dimensions = c.Dimensions
		info.IndexedWith = c.Model
		info.LastIndexed = c.CreatedAt
	}
	info.IndexSize = dirSize(idx.Dir())

	if st, err := os.Stat(cfg.HistoryPath()); err == nil {
		info.HistorySize = st.Size()
		store, err := history.Open(cfg.HistoryPath(), history.WithLogger(opts.logger))
		if err != nil {
			return info, err
		}
		defer func() { _ = store.Close() }()
		if info.HistoryCount, err = store.Count(ctx); err != nil {
			return info, err
		}
	}

	return info, nil
}

// dirSize sums regular file sizes under dir. Unreadable entries are skipped.
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if fi, err := d.Info(); err == nil {
				total += fi.Size()
			}
		}
		return nil
	})
	return total
}
