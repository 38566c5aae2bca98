package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docchat/internal/history"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past questions and answers",
		Long: `Show the stored exchanges for the active document, newest first.

Examples:
  docchat history
  docchat history -n 5
  docchat history clear`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd.Context(), cmd, opts, limit, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output records as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the most recent N exchanges")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all stored exchanges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistoryClear(cmd.Context(), cmd, opts)
		},
	})

	return cmd
}

func runHistory(ctx context.Context, cmd *cobra.Command, opts *rootOptions, limit int, jsonOutput bool) error {
	store, err := history.Open(opts.cfg.HistoryPath(), history.WithLogger(opts.logger))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.List(ctx)
	if err != nil {
		return err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if records == nil {
			records = []history.Record{}
		}
		return writeJSON(out, records)
	}
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "No history yet.")
		return err
	}
	for _, rec := range records {
		formatRecord(out, rec)
	}
	return nil
}

func runHistoryClear(ctx context.Context, cmd *cobra.Command, opts *rootOptions) error {
	store, err := history.Open(opts.cfg.HistoryPath(), history.WithLogger(opts.logger))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Clear(ctx); err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
	return err
}

func formatRecord(w io.Writer, rec history.Record) {
	_, _ = fmt.Fprintf(w, "[%s] %s\n", rec.Timestamp.Local().Format("2006-01-02 15:04"), rec.ID)
	_, _ = fmt.Fprintf(w, "Q: %s\n", rec.Question)
	_, _ = fmt.Fprintf(w, "A: %s\n\n", strings.TrimSpace(rec.Answer))
}
