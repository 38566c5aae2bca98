package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Provider names a generation backend.
type Provider string

const (
	ProviderOllama     Provider = "ollama"
	ProviderOpenAI     Provider = "openai"
	ProviderExtractive Provider = "extractive"
)

// Options selects and configures a generator.
type Options struct {
	Provider          Provider
	Model             string
	Host              string
	BaseURL           string
	APIKey            string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerSecond float64
	Logger            *slog.Logger
}

// NewGenerator creates the generator named by opts.Provider.
func NewGenerator(opts Options) (Generator, error) {
	switch Provider(strings.ToLower(string(opts.Provider))) {
	case ProviderOllama, "":
		return NewOllamaGenerator(OllamaConfig{
			Host:        opts.Host,
			Model:       opts.Model,
			Temperature: opts.Temperature,
			Timeout:     opts.Timeout,
			Logger:      opts.Logger,
		}), nil

	case ProviderOpenAI:
		if opts.APIKey == "" && strings.Contains(opts.BaseURL, "api.openai.com") {
			return nil, fmt.Errorf("openai provider requires an API key (set DOCCHAT_LLM_API_KEY or OPENAI_API_KEY)")
		}
		return NewOpenAIGenerator(OpenAIConfig{
			BaseURL:           opts.BaseURL,
			APIKey:            opts.APIKey,
			Model:             opts.Model,
			Temperature:       opts.Temperature,
			Timeout:           opts.Timeout,
			RequestsPerSecond: opts.RequestsPerSecond,
			Logger:            opts.Logger,
		}), nil

	case ProviderExtractive:
		return &ExtractiveGenerator{}, nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}
