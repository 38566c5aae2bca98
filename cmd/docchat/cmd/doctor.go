package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docchat/internal/config"
	"github.com/Aman-CERP/docchat/internal/embed"
	"github.com/Aman-CERP/docchat/internal/preflight"
)

// errDoctorFailed reports that a required check failed.
var errDoctorFailed = errors.New("system check failed")

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	var verbose bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the system and the configured model backends",
		Long: `Run diagnostics before ingesting or serving.

Checks:
  - Disk space under the data directory (three times the upload cap,
    100MB minimum)
  - Write permissions in the data directory
  - File descriptor limit
  - Embedder: Ollama reachable with the configured model
  - Generator: Ollama reachable, or an API key for OpenAI

An unreachable Ollama only warns when the embeddings provider is
auto-detected, since docchat then falls back to static embeddings.`,
		Example: `  docchat doctor
  docchat doctor --offline
  docchat doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, opts, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// doctorReport is the --json output.
type doctorReport struct {
	DataDir string `json:"data_dir"`
	preflight.Report
}

func runDoctor(ctx context.Context, cmd *cobra.Command, opts *rootOptions, verbose, jsonOutput bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.cfg
	// Room for an upload at the size cap, the corpus built from it and
	// the version it replaces.
	minFree := 3 * uint64(cfg.Ingest.MaxUploadMB) << 20
	checker := preflight.New(
		preflight.WithMinFreeBytes(minFree),
		preflight.WithProbes(embedderProbe(cfg), generatorProbe(cfg)),
	)
	report := checker.Run(ctx, cfg.Paths.DataDir)

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := writeJSON(out, doctorReport{DataDir: cfg.Paths.DataDir, Report: report}); err != nil {
			return err
		}
	} else {
		report.Print(out, verbose)
	}

	if report.Failed() {
		return errDoctorFailed
	}
	return nil
}

// embedderProbe builds the configured embedder once. With auto-detection a
// fallback to static embeddings is reported as a warning.
func embedderProbe(cfg *config.Config) preflight.Probe {
	provider := strings.ToLower(cfg.Embeddings.Provider)
	if provider == string(embed.ProviderStatic) {
		return preflight.StaticProbe("embedder", "static hashing embeddings (offline)")
	}

	return preflight.Probe{
		Name:     "embedder",
		Required: provider == string(embed.ProviderOllama),
		Run: func(ctx context.Context) (string, error) {
			e, err := embed.NewEmbedder(ctx, embed.Options{
				Provider: embed.ProviderType(provider),
				Model:    cfg.Embeddings.Model,
				Host:     cfg.Embeddings.OllamaHost,
				Timeout:  cfg.Embeddings.Timeout,
			})
			if err != nil {
				return "", err
			}
			defer func() { _ = e.Close() }()

			if e.ModelName() == embed.NewStaticEmbedder().ModelName() {
				return "", fmt.Errorf("ollama unavailable at %s, using static embeddings", cfg.Embeddings.OllamaHost)
			}
			return fmt.Sprintf("%s (%d dims)", e.ModelName(), e.Dimensions()), nil
		},
	}
}

func generatorProbe(cfg *config.Config) preflight.Probe {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "extractive":
		return preflight.StaticProbe("generator", "extractive answers (offline)")

	case "openai":
		return preflight.Probe{
			Name:     "generator",
			Required: true,
			Run: func(context.Context) (string, error) {
				if cfg.LLM.APIKey == "" && strings.Contains(cfg.LLM.BaseURL, "api.openai.com") {
					return "", errors.New("no API key (set DOCCHAT_LLM_API_KEY or OPENAI_API_KEY)")
				}
				return fmt.Sprintf("%s at %s (not probed)", cfg.LLM.Model, cfg.LLM.BaseURL), nil
			},
		}

	default:
		return preflight.HTTPProbe("generator",
			strings.TrimRight(cfg.LLM.Host, "/")+"/api/tags", true, nil)
	}
}
