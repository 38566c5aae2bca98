package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docchat/internal/session"
)

type askOptions struct {
	stream bool
	json   bool
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var askOpts askOptions

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question about the active document",
		Long: `Answer a question from the passages of the active document that are
most similar to it. The exchange is stored in the chat history.

Examples:
  docchat ask "What is the refund policy?"
  docchat ask --stream "Summarize section 3"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return runAsk(cmd.Context(), cmd, opts, question, askOpts)
		},
	}

	cmd.Flags().BoolVar(&askOpts.stream, "stream", false, "Print the answer as it is generated")
	cmd.Flags().BoolVar(&askOpts.json, "json", false, "Output the stored record as JSON")

	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, opts *rootOptions, question string, askOpts askOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.requireCorpus(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if askOpts.stream && !askOpts.json {
		return streamAnswer(ctx, out, a, question)
	}

	rec, err := a.chat.Send(ctx, question)
	if err != nil {
		return err
	}
	if askOpts.json {
		return writeJSON(out, rec)
	}
	_, err = fmt.Fprintln(out, rec.Answer)
	return err
}

// streamAnswer prints tokens as they arrive. Heartbeats are not printed.
func streamAnswer(ctx context.Context, out io.Writer, a *app, question string) error {
	stream, err := a.chat.Stream(ctx, uuid.NewString(), question)
	if err != nil {
		return err
	}
	defer stream.Close()

	for ev := range stream.Events() {
		if ev.Type == session.EventToken {
			if _, err := fmt.Fprint(out, ev.Data); err != nil {
				return err
			}
		}
	}
	_, _ = fmt.Fprintln(out)

	switch stream.State() {
	case session.StateCompleted:
		return nil
	case session.StateCancelled:
		return ctx.Err()
	default:
		return stream.Err()
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
