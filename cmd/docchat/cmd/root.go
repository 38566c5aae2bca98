// Package cmd provides the CLI commands for docchat.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docchat/internal/config"
	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
	"github.com/Aman-CERP/docchat/internal/logging"
	"github.com/Aman-CERP/docchat/internal/profiling"
	"github.com/Aman-CERP/docchat/pkg/version"
)

// skipSetup marks commands that run without configuration or logging.
const skipSetup = "docchat/skip-setup"

// rootOptions holds the global flags and the state PersistentPreRunE builds.
type rootOptions struct {
	debug     bool
	configDir string
	offline   bool
	noColor   bool
	profile   profiling.Config

	cfg            *config.Config
	logger         *slog.Logger
	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the docchat CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docchat",
		Short: "Chat with a document using local retrieval-augmented generation",
		Long: `docchat answers questions about one document at a time.

Ingest a PDF or text file, then ask questions from the terminal, over
HTTP with streamed answers, or from an AI client through MCP. Answers
are grounded in the passages most similar to the question.

With --offline, hash embeddings and extractive answers are used so no
model server is needed.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("docchat version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.docchat/logs/")
	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", ".", "Directory holding .docchat.yaml and .env")
	cmd.PersistentFlags().BoolVar(&opts.offline, "offline", false, "Use static embeddings and extractive answers (no model server)")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = opts.setup
	cmd.PersistentPostRunE = opts.teardown

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newIngestCmd(opts))
	cmd.AddCommand(newAskCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newMCPCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads .env files, the configuration and the logger.
func (o *rootOptions) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipSetup] == "true" {
		return nil
	}

	// Earlier files win: godotenv never overrides a variable already set.
	for _, path := range []string{filepath.Join(o.configDir, ".env"), ".env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return fmt.Errorf("failed to load %s: %w", path, err)
			}
		}
	}

	cfg, err := config.Load(o.configDir)
	if err != nil {
		return err
	}
	if o.offline {
		cfg.UseOffline()
	}
	o.cfg = cfg

	logCfg := logging.Config{
		Level:     cfg.Server.LogLevel,
		FilePath:  cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
		// Only the HTTP server owns the console; mcp needs clean stdio.
		WriteToStderr: cmd.Name() == "serve",
	}
	if logCfg.FilePath == "" {
		logCfg.FilePath = logging.DefaultLogPath()
	}
	if o.debug {
		logCfg.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	o.logger = logger
	o.loggingCleanup = cleanup
	slog.SetDefault(logger)

	if o.profile.Enabled() {
		o.profiler, err = profiling.Start(o.profile)
		if err != nil {
			return err
		}
	}

	logger.Debug("command_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("version", version.Version),
		slog.Bool("offline", o.offline),
		slog.String("data_dir", cfg.Paths.DataDir))
	return nil
}

// teardown flushes profiles and closes the log file. It runs after
// successful commands and again from Execute, so it must be idempotent.
func (o *rootOptions) teardown(_ *cobra.Command, _ []string) error {
	var err error
	if o.profiler != nil {
		err = o.profiler.Stop()
		o.profiler = nil
	}
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
	return err
}

// Execute runs the root command and prints failures for humans.
func Execute() error {
	opts := &rootOptions{}
	cmd := newRootCmd(opts)
	err := cmd.Execute()
	if terr := opts.teardown(cmd, nil); err == nil {
		err = terr
	}
	if err == nil {
		return nil
	}
	if _, ok := dcerrors.As(err); ok {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), dcerrors.FormatForCLI(err))
	} else {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return err
}
