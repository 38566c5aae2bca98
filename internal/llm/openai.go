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

	"golang.org/x/time/rate"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

const systemPrompt = "You answer questions about a single uploaded document. " +
	"Use only the supplied context and say so when it does not contain the answer."

// OpenAIConfig configures a generator for any OpenAI-compatible
// /chat/completions endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	// RequestsPerSecond throttles outgoing requests. Zero disables throttling.
	RequestsPerSecond float64
	Burst             int
	Logger            *slog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
		Delta   chatMessage `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAIGenerator generates answers through an OpenAI-compatible API.
type OpenAIGenerator struct {
	client  *http.Client
	config  OpenAIConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ StreamGenerator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates an OpenAI-compatible generator.
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &OpenAIGenerator{
		client:  &http.Client{},
		config:  cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  cfg.Logger,
	}
}

// Model returns the model name.
func (g *OpenAIGenerator) Model() string {
	return g.config.Model
}

// Generate returns the complete answer.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	resp, err := g.post(ctx, prompt, false)
	if err != nil {
		return "", dcerrors.GenerationError("chat completion failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", dcerrors.GenerationError("decode chat completion", err)
	}
	if out.Error != nil {
		return "", dcerrors.GenerationError(out.Error.Message, nil)
	}
	if len(out.Choices) == 0 {
		return "", dcerrors.GenerationError("chat completion returned no choices", nil)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// GenerateStream yields content deltas from the server-sent event stream.
func (g *OpenAIGenerator) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := g.post(ctx, prompt, true)
		if err != nil {
			yield("", dcerrors.GenerationError("chat completion stream failed", err))
			return
		}
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}

			var frame chatResponse
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				yield("", dcerrors.GenerationError("malformed stream event", err))
				return
			}
			if frame.Error != nil {
				yield("", dcerrors.GenerationError(frame.Error.Message, nil))
				return
			}
			for _, c := range frame.Choices {
				if c.Delta.Content != "" && !yield(c.Delta.Content, nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			yield("", dcerrors.GenerationError("stream interrupted", err))
			return
		}
		yield("", dcerrors.GenerationError("stream ended without [DONE]", nil))
	}
}

func (g *OpenAIGenerator) post(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatRequest{
		Model: g.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: g.config.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, dcerrors.NetworkError("chat completion request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, httpStatusError("openai", resp.StatusCode, msg)
	}

	g.logger.Debug("generation_started",
		slog.String("model", g.config.Model),
		slog.Bool("stream", stream))
	return resp, nil
}
