package session

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docchat/internal/history"
	"github.com/Aman-CERP/docchat/internal/llm"
	"github.com/Aman-CERP/docchat/internal/logging"
)

// chanGenerator streams fragments sent on frags until it is closed, then
// yields err if set. It reports context cancellation on stopped.
type chanGenerator struct {
	frags   chan string
	err     error
	stopped chan struct{}
	prompts chan string
}

func newChanGenerator(preload ...string) *chanGenerator {
	g := &chanGenerator{
		frags:   make(chan string, 16),
		stopped: make(chan struct{}, 1),
		prompts: make(chan string, 1),
	}
	for _, f := range preload {
		g.frags <- f
	}
	return g
}

func (g *chanGenerator) Model() string { return "chan" }

func (g *chanGenerator) Generate(context.Context, string) (string, error) {
	return "", errors.New("not used")
}

func (g *chanGenerator) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		select {
		case g.prompts <- prompt:
		default:
		}
		for {
			select {
			case f, ok := <-g.frags:
				if !ok {
					if g.err != nil {
						yield("", g.err)
					}
					return
				}
				if !yield(f, nil) {
					return
				}
			case <-ctx.Done():
				g.stopped <- struct{}{}
				return
			}
		}
	}
}

// plainGenerator has no streaming support.
type plainGenerator struct{ answer string }

func (g *plainGenerator) Model() string { return "plain" }

func (g *plainGenerator) Generate(context.Context, string) (string, error) {
	return g.answer, nil
}

type recordCall struct {
	question, answer string
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordCall
	err   error
}

func (r *fakeRecorder) Append(_ context.Context, question, answer string, ts time.Time) (history.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return history.Record{}, r.err
	}
	r.calls = append(r.calls, recordCall{question: question, answer: answer})
	return history.Record{ID: "rec-1", Question: question, Answer: answer, Timestamp: ts}, nil
}

func (r *fakeRecorder) recorded() []recordCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordCall(nil), r.calls...)
}

func newTestCoordinator(t *testing.T, gen llm.Generator, rec Recorder, mutate ...func(*Config)) *Coordinator {
	t.Helper()
	cfg := Config{
		Generator: gen,
		Recorder:  rec,
		Logger:    logging.Discard(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewCoordinator(cfg)
	require.NoError(t, err)
	return c
}

func collect(s *Stream) []Event {
	var events []Event
	for ev := range s.Events() {
		events = append(events, ev)
	}
	return events
}

func tokensOf(events []Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == EventToken {
			out = append(out, ev.Data)
		}
	}
	return out
}

func waitDone(t *testing.T, s *Stream) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}
