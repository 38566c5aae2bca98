package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "llama3.2"
	DefaultTimeout     = 5 * time.Minute
)

// OllamaConfig configures the Ollama generator.
type OllamaConfig struct {
	Host        string
	Model       string
	Temperature float64
	// Timeout bounds a blocking Generate call. Streams are bounded by the
	// caller's context instead.
	Timeout time.Duration
	Retry   dcerrors.RetryConfig
	Logger  *slog.Logger
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// OllamaGenerator generates answers with Ollama's /api/generate endpoint.
// Calls pass through a circuit breaker so a dead daemon fails fast.
type OllamaGenerator struct {
	client  *http.Client
	config  OllamaConfig
	breaker *dcerrors.CircuitBreaker
	logger  *slog.Logger
}

var _ StreamGenerator = (*OllamaGenerator)(nil)

// NewOllamaGenerator creates an Ollama generator.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = dcerrors.DefaultRetryConfig()
	}
	cfg.Retry.RetryIf = dcerrors.IsRetryable
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	breaker := dcerrors.NewCircuitBreaker("ollama-generate",
		dcerrors.WithMaxFailures(5),
		dcerrors.WithResetTimeout(30*time.Second))

	return &OllamaGenerator{
		client:  &http.Client{},
		config:  cfg,
		breaker: breaker,
		logger:  cfg.Logger,
	}
}

// Model returns the model name.
func (g *OllamaGenerator) Model() string {
	return g.config.Model
}

// Breaker exposes the circuit breaker state for health reporting.
func (g *OllamaGenerator) Breaker() *dcerrors.CircuitBreaker {
	return g.breaker
}

// Generate returns the complete answer, retrying transient failures.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	text, err := dcerrors.RetryWithResult(ctx, g.config.Retry, func() (string, error) {
		return dcerrors.CircuitExecute(g.breaker, func() (string, error) {
			return g.generateOnce(ctx, prompt)
		})
	})
	if err != nil {
		return "", dcerrors.GenerationError("ollama generation failed", err)
	}
	return strings.TrimSpace(text), nil
}

func (g *OllamaGenerator) generateOnce(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	resp, err := g.post(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	return out.Response, nil
}

// GenerateStream yields response fragments from Ollama's NDJSON stream.
func (g *OllamaGenerator) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := dcerrors.CircuitExecute(g.breaker, func() (*http.Response, error) {
			return g.post(ctx, prompt, true)
		})
		if err != nil {
			yield("", dcerrors.GenerationError("ollama stream failed", err))
			return
		}
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var frame ollamaGenerateResponse
			if err := json.Unmarshal(line, &frame); err != nil {
				yield("", dcerrors.GenerationError("malformed stream frame", err))
				return
			}
			if frame.Error != "" {
				yield("", dcerrors.GenerationError("ollama: "+frame.Error, nil))
				return
			}
			if frame.Response != "" && !yield(frame.Response, nil) {
				return
			}
			if frame.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield("", dcerrors.GenerationError("stream interrupted", err))
			return
		}
		yield("", dcerrors.GenerationError("stream ended before completion", nil))
	}
}

func (g *OllamaGenerator) post(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	reqBody := ollamaGenerateRequest{
		Model:  g.config.Model,
		Prompt: prompt,
		Stream: stream,
	}
	if g.config.Temperature > 0 {
		reqBody.Options = map[string]any{"temperature": g.config.Temperature}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, dcerrors.NetworkError("ollama request failed", err).
			WithDetail("host", g.config.Host)
	}

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, httpStatusError("ollama", resp.StatusCode, msg)
	}

	g.logger.Debug("generation_started",
		slog.String("model", g.config.Model),
		slog.Bool("stream", stream),
		slog.Int("prompt_len", len(prompt)))
	return resp, nil
}

// httpStatusError makes 5xx and 429 responses retryable.
func httpStatusError(backend string, status int, body []byte) error {
	msg := fmt.Sprintf("%s returned status %d: %s", backend, status, strings.TrimSpace(string(body)))
	if status >= 500 || status == http.StatusTooManyRequests {
		return dcerrors.NetworkError(msg, nil)
	}
	return dcerrors.ValidationError(msg, nil)
}
