package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPrompt_RoundTripsThroughParse(t *testing.T) {
	// Given a context and a question
	ctxText := "The sky is blue.\n\nGrass is green."

	// When the prompt is built and parsed back
	prompt := BuildPrompt("  What colour is grass? ", ctxText)
	gotCtx, gotQ, ok := ParsePrompt(prompt)

	// Then both parts are recovered and the header leads the prompt
	require.True(t, ok)
	assert.Equal(t, ctxText, gotCtx)
	assert.Equal(t, "What colour is grass?", gotQ)
	assert.Contains(t, prompt, "based ONLY on the following context")
}

func TestBuildPrompt_EmptyContextUsesPlaceholder(t *testing.T) {
	prompt := BuildPrompt("anything?", "   ")

	gotCtx, _, ok := ParsePrompt(prompt)
	require.True(t, ok)
	assert.Equal(t, NoContextPlaceholder, gotCtx)
}

func TestParsePrompt_RejectsForeignText(t *testing.T) {
	_, _, ok := ParsePrompt("hello there")
	assert.False(t, ok)
}

// blockingGenerator implements only Generator.
type blockingGenerator struct {
	text string
	err  error
}

func (g *blockingGenerator) Generate(context.Context, string) (string, error) {
	return g.text, g.err
}

func (g *blockingGenerator) Model() string { return "blocking" }

func TestStream_FallsBackToSingleFragment(t *testing.T) {
	// Given a generator without native streaming
	g := &blockingGenerator{text: "whole answer"}

	// When it is streamed
	var got []string
	for frag, err := range Stream(context.Background(), g, "p") {
		require.NoError(t, err)
		got = append(got, frag)
	}

	// Then the answer arrives as one fragment
	assert.Equal(t, []string{"whole answer"}, got)
}

func TestStream_FallbackPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	g := &blockingGenerator{err: boom}

	var errs []error
	for _, err := range Stream(context.Background(), g, "p") {
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}
