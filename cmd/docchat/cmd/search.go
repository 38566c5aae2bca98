package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docchat/internal/mcp"
	"github.com/Aman-CERP/docchat/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit int
	json  bool
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var searchOpts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Show the passages most similar to a query",
		Long: `Rank the passages of the active document by cosine similarity to the
query, without generating an answer.

Examples:
  docchat search "termination clause"
  docchat search "pricing" -k 10 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, opts, query, searchOpts)
		},
	}

	cmd.Flags().IntVarP(&searchOpts.limit, "k", "k", search.DefaultTopK, "Number of passages to return")
	cmd.Flags().BoolVar(&searchOpts.json, "json", false, "Output results as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, opts *rootOptions, query string, searchOpts searchOptions) error {
	a, err := newApp(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.requireCorpus(); err != nil {
		return err
	}

	limit := min(max(searchOpts.limit, 1), search.MaxTopK)
	hits, err := a.retriever.Hits(ctx, query, limit)
	if err != nil {
		return err
	}
	a.logger.Info("search_complete",
		slog.String("query", query),
		slog.Int("limit", limit),
		slog.Int("results", len(hits)))

	if searchOpts.json {
		return writeJSON(cmd.OutOrStdout(), mcp.ToSearchOutput(hits))
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), mcp.FormatSearchResults(query, hits))
	return err
}
