package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docchat/internal/ui"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the active document in the terminal",
		Long: `Open an interactive chat. Answers stream in as they are generated;
press esc to stop an answer and ctrl+c to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), cmd, opts)
		},
	}
}

func runChat(ctx context.Context, cmd *cobra.Command, opts *rootOptions) error {
	if !ui.IsTTY(cmd.OutOrStdout()) {
		return fmt.Errorf("chat needs an interactive terminal; use 'docchat ask' instead")
	}

	a, err := newApp(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	corpus, err := a.requireCorpus()
	if err != nil {
		return err
	}

	return ui.RunChat(ctx, ui.ChatConfig{
		Streamer: a.chat,
		Title: fmt.Sprintf("docchat • corpus v%d • %d chunks • %s",
			corpus.Version, corpus.ChunkCount, a.generator.Model()),
		NoColor: opts.noColor,
		Input:   cmd.InOrStdin(),
		Output:  cmd.OutOrStdout(),
	})
}
