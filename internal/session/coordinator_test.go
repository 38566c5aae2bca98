package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
	"github.com/Aman-CERP/docchat/internal/llm"
)

func TestCoordinator_StreamsWordsAndRecords(t *testing.T) {
	// Given a generator that splits words across fragments
	gen := newChanGenerator("The sk", "y is ", "blue.")
	close(gen.frags)
	rec := &fakeRecorder{}
	c := newTestCoordinator(t, gen, rec)

	// When the session is streamed
	s, err := c.Start(context.Background(), "s1", "The sky is blue.", "What colour is the sky?")
	require.NoError(t, err)
	assert.Equal(t, StatePending, s.State())
	events := collect(s)

	// Then whole words arrive, the answer is recorded and the session ends
	assert.Equal(t, []string{"The ", "sky ", "is ", "blue."}, tokensOf(events))
	waitDone(t, s)
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, "The sky is blue.", s.Answer())
	assert.Equal(t, []recordCall{{question: "What colour is the sky?", answer: "The sky is blue."}}, rec.recorded())
	r, ok := s.Record()
	require.True(t, ok)
	assert.Equal(t, "rec-1", r.ID)
	assert.Equal(t, 0, c.Active())

	prompt := <-gen.prompts
	assert.Equal(t, llm.BuildPrompt("What colour is the sky?", "The sky is blue."), prompt)
}

func TestCoordinator_PlainGeneratorFallback(t *testing.T) {
	c := newTestCoordinator(t, &plainGenerator{answer: "Grass is green."}, nil)

	s, err := c.Start(context.Background(), "plain", "", "grass?")
	require.NoError(t, err)

	assert.Equal(t, []string{"Grass ", "is ", "green."}, tokensOf(collect(s)))
	assert.Equal(t, StateCompleted, s.State())
}

func TestCoordinator_RejectsDuplicateID(t *testing.T) {
	// Given a live session
	gen := newChanGenerator()
	c := newTestCoordinator(t, gen, nil)
	first, err := c.Start(context.Background(), "dup", "", "q")
	require.NoError(t, err)

	// When the same id is started again
	_, err = c.Start(context.Background(), "dup", "", "q")

	// Then it is rejected until the first session ends
	assert.ErrorIs(t, err, dcerrors.ErrSessionActive)

	first.Close()
	waitDone(t, first)
	again, err := c.Start(context.Background(), "dup", "", "q")
	require.NoError(t, err)
	again.Close()
}

func TestCoordinator_StartValidation(t *testing.T) {
	c := newTestCoordinator(t, newChanGenerator(), nil)

	_, err := c.Start(context.Background(), "", "", "q")
	assert.Error(t, err)
	_, err = c.Start(context.Background(), "bad id!", "", "q")
	assert.Error(t, err)
	_, err = c.Start(context.Background(), "ok", "", "   ")
	assert.Equal(t, dcerrors.ErrCodeQueryEmpty, dcerrors.GetCode(err))
	assert.Equal(t, 0, c.Active())
}

func TestCoordinator_HeartbeatsUntilFirstToken(t *testing.T) {
	// Given a generator that stays silent until released
	gen := newChanGenerator()
	c := newTestCoordinator(t, gen, nil, func(cfg *Config) {
		cfg.HeartbeatInterval = 5 * time.Millisecond
	})
	s, err := c.Start(context.Background(), "hb", "", "q")
	require.NoError(t, err)

	// When two heartbeats have been seen the answer is released
	var events []Event
	heartbeats := 0
	for ev := range s.Events() {
		events = append(events, ev)
		if ev.Type == EventHeartbeat {
			heartbeats++
			if heartbeats == 2 {
				gen.frags <- "hello "
				close(gen.frags)
			}
		}
	}

	// Then heartbeats only precede the first token
	require.GreaterOrEqual(t, heartbeats, 2)
	sawToken := false
	for _, ev := range events {
		switch ev.Type {
		case EventToken:
			sawToken = true
		case EventHeartbeat:
			assert.False(t, sawToken, "heartbeat after first token")
			assert.Equal(t, DefaultHeartbeatToken, ev.Data)
		}
	}
	assert.Equal(t, []string{"hello "}, tokensOf(events))
	assert.Equal(t, StateCompleted, s.State())
}

func TestCoordinator_NoHeartbeatsWhenDisabled(t *testing.T) {
	gen := newChanGenerator()
	c := newTestCoordinator(t, gen, nil)
	s, err := c.Start(context.Background(), "quiet", "", "q")
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		gen.frags <- "done"
		close(gen.frags)
	}()
	events := collect(s)

	assert.Equal(t, []Event{{Type: EventToken, Data: "done"}}, events)
}

func TestCoordinator_CancelDuringStream(t *testing.T) {
	// Given a session that has produced one word and then stalls
	gen := newChanGenerator("one ")
	rec := &fakeRecorder{}
	c := newTestCoordinator(t, gen, rec)
	s, err := c.Start(context.Background(), "c1", "", "q")
	require.NoError(t, err)

	// When the consumer cancels after the first token
	var tokens []string
	for ev := range s.Events() {
		if ev.Type == EventToken {
			tokens = append(tokens, ev.Data)
			assert.True(t, c.Cancel("c1"))
		}
	}

	// Then the stream ends cancelled without recording history
	waitDone(t, s)
	assert.Equal(t, StateCancelled, s.State())
	assert.Equal(t, []string{"one "}, tokens)
	assert.Empty(t, rec.recorded())
	assert.False(t, c.Cancel("c1"), "terminal session is gone")

	select {
	case <-gen.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("generator was not stopped")
	}
}

func TestCoordinator_CancelFromAnotherGoroutine(t *testing.T) {
	gen := newChanGenerator()
	c := newTestCoordinator(t, gen, nil)
	s, err := c.Start(context.Background(), "c2", "", "q")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Cancel("c2")
	}()
	events := collect(s)

	assert.Empty(t, events)
	assert.Equal(t, StateCancelled, s.State())
}

func TestCoordinator_CancelBeforeIteration(t *testing.T) {
	// Given a session nobody has iterated
	c := newTestCoordinator(t, newChanGenerator(), nil)
	s, err := c.Start(context.Background(), "never", "", "q")
	require.NoError(t, err)

	// When it is cancelled
	assert.True(t, c.Cancel("never"))

	// Then it finishes immediately and yields nothing
	waitDone(t, s)
	assert.Equal(t, StateCancelled, s.State())
	assert.Empty(t, collect(s))
	assert.Equal(t, 0, c.Active())
}

func TestCoordinator_CancelUnknownIsNoop(t *testing.T) {
	c := newTestCoordinator(t, newChanGenerator(), nil)

	assert.False(t, c.Cancel("missing"))
}

func TestCoordinator_AbandonedIterationCancels(t *testing.T) {
	// Given a generator with more words than the consumer wants
	gen := newChanGenerator("one two three ")
	rec := &fakeRecorder{}
	c := newTestCoordinator(t, gen, rec)
	s, err := c.Start(context.Background(), "abandon", "", "q")
	require.NoError(t, err)

	// When the consumer stops after one token
	for range s.Events() {
		break
	}

	// Then the session is cancelled and the generator stopped
	waitDone(t, s)
	assert.Equal(t, StateCancelled, s.State())
	assert.Empty(t, rec.recorded())
	select {
	case <-gen.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("generator was not stopped")
	}
}

func TestCoordinator_ContextCancellation(t *testing.T) {
	gen := newChanGenerator("one ")
	c := newTestCoordinator(t, gen, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := c.Start(ctx, "ctx", "", "q")
	require.NoError(t, err)

	for ev := range s.Events() {
		if ev.Type == EventToken {
			cancel()
		}
	}

	waitDone(t, s)
	assert.Equal(t, StateCancelled, s.State())
}

func TestCoordinator_GenerationErrorYieldsOneErrorEvent(t *testing.T) {
	// Given a generator that fails after one word
	gen := newChanGenerator("partial ")
	gen.err = errors.New("backend down")
	close(gen.frags)
	rec := &fakeRecorder{}
	c := newTestCoordinator(t, gen, rec)
	s, err := c.Start(context.Background(), "fail", "", "q")
	require.NoError(t, err)

	// When streaming
	events := collect(s)

	// Then the word is followed by exactly one error and nothing is recorded
	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: EventToken, Data: "partial "}, events[0])
	assert.Equal(t, EventError, events[1].Type)
	assert.ErrorIs(t, events[1].Err, dcerrors.ErrGeneration)
	assert.ErrorIs(t, s.Err(), dcerrors.ErrGeneration)
	assert.Equal(t, StateFailed, s.State())
	assert.Empty(t, rec.recorded())
}

func TestCoordinator_IdleTimeout(t *testing.T) {
	gen := newChanGenerator()
	c := newTestCoordinator(t, gen, nil, func(cfg *Config) {
		cfg.IdleTimeout = 20 * time.Millisecond
	})
	s, err := c.Start(context.Background(), "idle", "", "q")
	require.NoError(t, err)

	events := collect(s)

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Data, "no output")
	assert.Equal(t, StateFailed, s.State())
}

func TestCoordinator_SlowConsumerIsNotIdle(t *testing.T) {
	// Given a generator with every fragment ready and a short idle timeout
	gen := newChanGenerator("one ", "two ", "three ", "four ", "five ")
	close(gen.frags)
	c := newTestCoordinator(t, gen, nil, func(cfg *Config) {
		cfg.IdleTimeout = 10 * time.Millisecond
	})
	s, err := c.Start(context.Background(), "slow", "", "q")
	require.NoError(t, err)

	// When the consumer takes longer than the timeout for each token
	var tokens []string
	for ev := range s.Events() {
		assert.NotEqual(t, EventError, ev.Type, ev.Data)
		if ev.Type == EventToken {
			tokens = append(tokens, ev.Data)
			time.Sleep(30 * time.Millisecond)
		}
	}

	// Then the session completes with every word
	assert.Equal(t, []string{"one ", "two ", "three ", "four ", "five "}, tokens)
	assert.Equal(t, StateCompleted, s.State())
}

func TestCoordinator_HistoryFailureKeepsAnswer(t *testing.T) {
	gen := newChanGenerator("still ", "answered")
	close(gen.frags)
	c := newTestCoordinator(t, gen, &fakeRecorder{err: errors.New("disk full")})
	s, err := c.Start(context.Background(), "hist", "", "q")
	require.NoError(t, err)

	assert.Equal(t, []string{"still ", "answered"}, tokensOf(collect(s)))
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, "still answered", s.Answer())
	_, ok := s.Record()
	assert.False(t, ok)
}

func TestCoordinator_EventsAreNotRestartable(t *testing.T) {
	gen := newChanGenerator("once")
	close(gen.frags)
	c := newTestCoordinator(t, gen, nil)
	s, err := c.Start(context.Background(), "once", "", "q")
	require.NoError(t, err)

	assert.Len(t, collect(s), 1)
	assert.Empty(t, collect(s))
}

func TestCoordinator_CancelAll(t *testing.T) {
	c := newTestCoordinator(t, newChanGenerator(), nil)
	a, err := c.Start(context.Background(), "a", "", "q")
	require.NoError(t, err)
	b, err := c.Start(context.Background(), "b", "", "q")
	require.NoError(t, err)

	c.CancelAll()

	waitDone(t, a)
	waitDone(t, b)
	assert.Equal(t, 0, c.Active())
}

func TestNewCoordinator_RequiresGenerator(t *testing.T) {
	_, err := NewCoordinator(Config{})
	assert.Error(t, err)
}
