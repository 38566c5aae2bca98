// Package chat is the question-answering surface shared by the HTTP API,
// the MCP server and the CLI.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
	"github.com/Aman-CERP/docchat/internal/history"
	"github.com/Aman-CERP/docchat/internal/llm"
	"github.com/Aman-CERP/docchat/internal/search"
	"github.com/Aman-CERP/docchat/internal/session"
	"github.com/Aman-CERP/docchat/internal/telemetry"
)

// Retriever supplies document context for a question.
type Retriever interface {
	RetrieveK(ctx context.Context, query string, k int) (string, error)
}

// HistoryStore persists answered questions.
type HistoryStore interface {
	Append(ctx context.Context, question, answer string, ts time.Time) (history.Record, error)
	List(ctx context.Context) ([]history.Record, error)
	Clear(ctx context.Context) error
}

// MetricsRecorder receives one event per finished question.
type MetricsRecorder interface {
	Record(e telemetry.QuestionEvent)
}

// Config configures a Service.
type Config struct {
	Retriever Retriever
	Generator llm.Generator
	History   HistoryStore
	TopK      int

	HeartbeatInterval time.Duration
	HeartbeatToken    string
	IdleTimeout       time.Duration

	// Metrics is optional.
	Metrics MetricsRecorder
	Logger  *slog.Logger
}

// Service answers questions about the active document.
type Service struct {
	retriever Retriever
	generator llm.Generator
	history   HistoryStore
	coord     *session.Coordinator
	topK      int
	metrics   MetricsRecorder
	logger    *slog.Logger
}

// New creates a chat service.
func New(cfg Config) (*Service, error) {
	if cfg.Retriever == nil || cfg.Generator == nil || cfg.History == nil {
		return nil, dcerrors.ValidationError("chat service needs a retriever, generator and history store", nil)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = search.DefaultTopK
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	coord, err := session.NewCoordinator(session.Config{
		Generator:         cfg.Generator,
		Recorder:          cfg.History,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatToken:    cfg.HeartbeatToken,
		IdleTimeout:       cfg.IdleTimeout,
		Logger:            cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		retriever: cfg.Retriever,
		generator: cfg.Generator,
		history:   cfg.History,
		coord:     coord,
		topK:      cfg.TopK,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

// Send answers question synchronously and records the exchange. If the
// record cannot be stored the answer is still returned, with an empty id.
func (s *Service) Send(ctx context.Context, question string) (history.Record, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return history.Record{}, dcerrors.New(dcerrors.ErrCodeQueryEmpty, "question cannot be empty", nil)
	}

	start := time.Now()
	docContext, err := s.retriever.RetrieveK(ctx, question, s.topK)
	if err != nil {
		s.record(question, false, outcomeOf(ctx, err), start)
		return history.Record{}, err
	}

	answer, err := s.generator.Generate(ctx, llm.BuildPrompt(question, docContext))
	if err != nil {
		s.record(question, docContext == "", outcomeOf(ctx, err), start)
		if dcerrors.GetCode(err) != dcerrors.ErrCodeGenerationFailed {
			err = dcerrors.GenerationError("generation failed", err)
		}
		return history.Record{}, err
	}
	s.record(question, docContext == "", telemetry.OutcomeCompleted, start)
	answer = strings.TrimSpace(answer)

	now := time.Now()
	rec, err := s.history.Append(ctx, question, answer, now)
	if err != nil {
		s.logger.Warn("history_append_failed", slog.String("error", err.Error()))
		rec = history.Record{Question: question, Answer: answer, Timestamp: now.UTC()}
	}

	s.logger.Info("question_answered",
		slog.String("model", s.generator.Model()),
		slog.Int("context_len", len(docContext)),
		slog.Duration("duration", time.Since(start)))
	return rec, nil
}

// Stream starts a streamed answer under id. The caller must iterate or
// close the returned stream.
func (s *Service) Stream(ctx context.Context, id, question string) (*session.Stream, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, dcerrors.New(dcerrors.ErrCodeQueryEmpty, "question cannot be empty", nil)
	}
	if err := session.ValidateID(id); err != nil {
		return nil, err
	}

	start := time.Now()
	docContext, err := s.retriever.RetrieveK(ctx, question, s.topK)
	if err != nil {
		s.record(question, false, outcomeOf(ctx, err), start)
		return nil, err
	}
	st, err := s.coord.Start(ctx, id, docContext, question)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		go func() {
			<-st.Done()
			outcome := telemetry.OutcomeFailed
			switch st.State() {
			case session.StateCompleted:
				outcome = telemetry.OutcomeCompleted
			case session.StateCancelled:
				outcome = telemetry.OutcomeCancelled
			}
			s.record(question, docContext == "", outcome, start)
		}()
	}
	return st, nil
}

func (s *Service) record(question string, noContext bool, outcome telemetry.Outcome, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.Record(telemetry.QuestionEvent{
		Question:  question,
		NoContext: noContext,
		Outcome:   outcome,
		Latency:   time.Since(start),
		Timestamp: start,
	})
}

// outcomeOf classifies a failed answer; a cancelled caller is not a failure.
func outcomeOf(ctx context.Context, err error) telemetry.Outcome {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return telemetry.OutcomeCancelled
	}
	return telemetry.OutcomeFailed
}

// Cancel stops the stream with id. Unknown ids are ignored.
func (s *Service) Cancel(id string) bool {
	return s.coord.Cancel(id)
}

// CancelAll stops every live stream.
func (s *Service) CancelAll() {
	s.coord.CancelAll()
}

// History lists answered questions, newest first.
func (s *Service) History(ctx context.Context) ([]history.Record, error) {
	return s.history.List(ctx)
}

// ClearHistory removes every answered question.
func (s *Service) ClearHistory(ctx context.Context) error {
	return s.history.Clear(ctx)
}

// Coordinator exposes the session coordinator for shutdown and status.
func (s *Service) Coordinator() *session.Coordinator {
	return s.coord
}

// Model returns the generator's model name.
func (s *Service) Model() string {
	return s.generator.Model()
}
