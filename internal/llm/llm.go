// Package llm talks to the language models that write answers.
//
// A Generator turns a prompt into text. Backends that can deliver text as
// it is produced also implement StreamGenerator; Stream picks the
// incremental path when it exists and falls back to one blocking call.
package llm

import (
	"context"
	"iter"
)

// Generator produces a complete answer for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Model names the backing model, for health and status output.
	Model() string
}

// StreamGenerator produces an answer as a sequence of text fragments.
// The sequence ends after the last fragment or after one error.
type StreamGenerator interface {
	Generator
	GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// Stream returns the fragments of g's answer to prompt. Generators without
// native streaming yield their whole answer as a single fragment.
func Stream(ctx context.Context, g Generator, prompt string) iter.Seq2[string, error] {
	if sg, ok := g.(StreamGenerator); ok {
		return sg.GenerateStream(ctx, prompt)
	}
	return func(yield func(string, error) bool) {
		text, err := g.Generate(ctx, prompt)
		if err != nil {
			yield("", err)
			return
		}
		yield(text, nil)
	}
}
