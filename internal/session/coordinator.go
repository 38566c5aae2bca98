package session

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
	"github.com/Aman-CERP/docchat/internal/history"
	"github.com/Aman-CERP/docchat/internal/llm"
)

// DefaultHeartbeatToken is sent while waiting for the first word.
const DefaultHeartbeatToken = "..."

// Recorder stores completed answers.
type Recorder interface {
	Append(ctx context.Context, question, answer string, ts time.Time) (history.Record, error)
}

// Config configures a Coordinator.
type Config struct {
	Generator llm.Generator
	// Recorder may be nil, in which case answers are not recorded.
	Recorder Recorder

	// HeartbeatInterval spaces heartbeats before the first word. Zero
	// disables heartbeats.
	HeartbeatInterval time.Duration
	HeartbeatToken    string

	// IdleTimeout fails a session that receives no output for this long.
	// Zero disables the timeout.
	IdleTimeout time.Duration

	Logger *slog.Logger
}

// Coordinator owns the active generation sessions.
type Coordinator struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Stream
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Generator == nil {
		return nil, dcerrors.ValidationError("generator is required", nil)
	}
	if cfg.HeartbeatToken == "" {
		cfg.HeartbeatToken = DefaultHeartbeatToken
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		config:   cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Stream),
	}, nil
}

// Start registers a pending session answering question from docContext.
// Generation begins when the stream's events are first iterated.
// Cancelling ctx cancels the session.
func (c *Coordinator) Start(ctx context.Context, id, docContext, question string) (*Stream, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(question) == "" {
		return nil, dcerrors.New(dcerrors.ErrCodeQueryEmpty, "question cannot be empty", nil)
	}

	s := &Stream{
		id:       id,
		question: question,
		prompt:   llm.BuildPrompt(question, docContext),
		ctx:      ctx,
		coord:    c,
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
		created:  time.Now(),
	}

	c.mu.Lock()
	if _, exists := c.sessions[id]; exists {
		c.mu.Unlock()
		return nil, dcerrors.SessionActive(id)
	}
	c.sessions[id] = s
	c.mu.Unlock()

	c.logger.Debug("session_started",
		slog.String("session_id", id),
		slog.String("model", c.config.Generator.Model()))
	return s, nil
}

// Cancel stops the session with id. It reports whether a live session was
// found; unknown and finished ids are a no-op.
func (c *Coordinator) Cancel(id string) bool {
	c.mu.Lock()
	s, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	return true
}

// CancelAll cancels every live session.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	live := make([]*Stream, 0, len(c.sessions))
	for _, s := range c.sessions {
		live = append(live, s)
	}
	c.mu.Unlock()

	for _, s := range live {
		s.cancel()
	}
}

// State returns the state of a live session.
func (c *Coordinator) State(id string) (State, bool) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		return 0, false
	}
	return s.State(), true
}

// Active returns the number of live sessions.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Coordinator) remove(id string, s *Stream) {
	c.mu.Lock()
	if c.sessions[id] == s {
		delete(c.sessions, id)
	}
	c.mu.Unlock()
}

// Stream is one generation session.
type Stream struct {
	id       string
	question string
	prompt   string
	ctx      context.Context
	coord    *Coordinator
	created  time.Time

	state      atomic.Int32
	started    atomic.Bool
	cancelled  atomic.Bool
	cancelCh   chan struct{}
	cancelOnce sync.Once

	finishOnce sync.Once
	done       chan struct{}

	// Set before done is closed.
	answer string
	err    error
	record *history.Record
}

// ID returns the session id.
func (s *Stream) ID() string { return s.id }

// State returns the current state.
func (s *Stream) State() State { return State(s.state.Load()) }

// Done is closed when the session reaches a terminal state.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Answer returns the full answer of a completed session.
// Valid after Done is closed.
func (s *Stream) Answer() string { return s.answer }

// Err returns the failure of a failed session. Valid after Done is closed.
func (s *Stream) Err() error { return s.err }

// Record returns the stored history record of a completed session.
// Valid after Done is closed.
func (s *Stream) Record() (history.Record, bool) {
	if s.record == nil {
		return history.Record{}, false
	}
	return *s.record, true
}

// Close cancels the session. Safe to call at any time.
func (s *Stream) Close() {
	s.cancel()
}

func (s *Stream) cancel() {
	s.cancelled.Store(true)
	s.cancelOnce.Do(func() { close(s.cancelCh) })
	// A session that was never iterated has no producer to finish it.
	if s.started.CompareAndSwap(false, true) {
		s.finish(StateCancelled, "", nil)
	}
}

// Events returns the session's events. The sequence can be iterated once;
// later iterations yield nothing. Stopping early cancels the session.
func (s *Stream) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if !s.started.CompareAndSwap(false, true) {
			return
		}
		s.state.Store(int32(StateStreaming))
		s.run(yield)
	}
}

type fragment struct {
	text string
	err  error
}

func (s *Stream) run(yield func(Event) bool) {
	cfg := s.coord.config

	genCtx, cancelGen := context.WithCancel(s.ctx)
	defer cancelGen()

	frags := make(chan fragment)
	go func() {
		defer close(frags)
		for text, err := range llm.Stream(genCtx, cfg.Generator, s.prompt) {
			select {
			case frags <- fragment{text: text, err: err}:
			case <-genCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var heartbeat <-chan time.Time
	if cfg.HeartbeatInterval > 0 {
		ticker := time.NewTicker(cfg.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	var (
		idle  *time.Timer
		idleC <-chan time.Time
	)
	if cfg.IdleTimeout > 0 {
		idle = time.NewTimer(cfg.IdleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}

	// emit checks the cancel flag before every yield. A consumer that
	// stops iterating cancels the session.
	emit := func(ev Event) bool {
		if s.cancelled.Load() {
			return false
		}
		if !yield(ev) {
			s.cancelled.Store(true)
			return false
		}
		return true
	}

	var (
		asm    wordAssembler
		answer strings.Builder
		tokens int
	)
	emitWords := func(words []string) bool {
		for _, w := range words {
			if !emit(Event{Type: EventToken, Data: w}) {
				return false
			}
			tokens++
			heartbeat = nil
		}
		return true
	}
	fail := func(err error) {
		emit(Event{Type: EventError, Data: userMessage(err), Err: err})
		s.finish(StateFailed, "", err)
	}

	// onFragment handles one receive from frags and reports whether the
	// session is finished.
	onFragment := func(f fragment, ok bool) bool {
		// The producer also ends when the start context is cancelled.
		if s.cancelled.Load() || s.ctx.Err() != nil {
			s.cancelled.Store(true)
			s.finish(StateCancelled, "", nil)
			return true
		}
		if !ok {
			if !emitWords(asm.flush()) {
				s.finish(StateCancelled, "", nil)
				return true
			}
			s.complete(strings.TrimSpace(answer.String()), tokens)
			return true
		}
		if f.err != nil {
			if !isGenerationError(f.err) {
				f.err = dcerrors.GenerationError("generation failed", f.err)
			}
			fail(f.err)
			return true
		}
		answer.WriteString(f.text)
		if !emitWords(asm.push(f.text)) {
			s.finish(StateCancelled, "", nil)
			return true
		}
		// Time spent in a slow consumer does not count as generator idle.
		if idle != nil {
			idle.Reset(cfg.IdleTimeout)
		}
		return false
	}

	for {
		select {
		case <-s.cancelCh:
			s.finish(StateCancelled, "", nil)
			return

		case <-s.ctx.Done():
			s.cancelled.Store(true)
			s.finish(StateCancelled, "", nil)
			return

		case <-heartbeat:
			if !emit(Event{Type: EventHeartbeat, Data: cfg.HeartbeatToken}) {
				s.finish(StateCancelled, "", nil)
				return
			}

		case <-idleC:
			// A fragment that is already waiting wins over the timeout.
			select {
			case f, ok := <-frags:
				if onFragment(f, ok) {
					return
				}
				continue
			default:
			}
			fail(dcerrors.GenerationError(
				fmt.Sprintf("no output from generator for %s", cfg.IdleTimeout), nil))
			return

		case f, ok := <-frags:
			if onFragment(f, ok) {
				return
			}
		}
	}
}

// complete records the answer and finishes the session. A recording
// failure is logged and does not affect the delivered answer.
func (s *Stream) complete(answer string, tokens int) {
	if rec := s.coord.config.Recorder; rec != nil {
		r, err := rec.Append(context.WithoutCancel(s.ctx), s.question, answer, time.Now())
		if err != nil {
			s.coord.logger.Warn("history_append_failed",
				slog.String("session_id", s.id),
				slog.String("error", err.Error()))
		} else {
			s.record = &r
		}
	}
	s.coord.logger.Debug("session_tokens", slog.String("session_id", s.id), slog.Int("tokens", tokens))
	s.finish(StateCompleted, answer, nil)
}

func (s *Stream) finish(state State, answer string, err error) {
	s.finishOnce.Do(func() {
		s.answer = answer
		s.err = err
		s.state.Store(int32(state))
		s.coord.remove(s.id, s)
		close(s.done)

		attrs := []any{
			slog.String("session_id", s.id),
			slog.String("state", state.String()),
			slog.Duration("duration", time.Since(s.created)),
		}
		if err != nil {
			attrs = append(attrs, dcerrors.FormatForLog(err)...)
		}
		s.coord.logger.Info("session_finished", attrs...)
	})
}

func isGenerationError(err error) bool {
	return dcerrors.GetCode(err) == dcerrors.ErrCodeGenerationFailed
}

func userMessage(err error) string {
	if de, ok := dcerrors.As(err); ok {
		return de.Message
	}
	return err.Error()
}
