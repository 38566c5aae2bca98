// Package search turns a question into the document context used to answer it.
package search

import (
	"context"
	"strings"

	"github.com/Aman-CERP/docchat/internal/store"
)

const (
	// DefaultTopK is the number of chunks joined into a context.
	DefaultTopK = 5

	// MaxTopK caps caller-supplied limits.
	MaxTopK = 100

	// contextSeparator joins chunk texts in ranked order.
	contextSeparator = "\n\n"
)

// Index is the vector search the retriever reads from.
type Index interface {
	Search(ctx context.Context, query string, k int) ([]store.Hit, error)
}

// Retriever builds prompt context from the best-matching chunks.
type Retriever struct {
	index Index
	topK  int
}

// NewRetriever creates a retriever returning topK chunks per query.
// A non-positive topK selects DefaultTopK.
func NewRetriever(index Index, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{index: index, topK: min(topK, MaxTopK)}
}

// TopK returns the default number of chunks per query.
func (r *Retriever) TopK() int {
	return r.topK
}

// Retrieve returns the context for query using the default k.
func (r *Retriever) Retrieve(ctx context.Context, query string) (string, error) {
	return r.RetrieveK(ctx, query, r.topK)
}

// RetrieveK returns the texts of the k best chunks joined by blank lines.
// The result is "" when nothing matches.
func (r *Retriever) RetrieveK(ctx context.Context, query string, k int) (string, error) {
	hits, err := r.Hits(ctx, query, k)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", nil
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Chunk.Text
	}
	return strings.Join(texts, contextSeparator), nil
}

// Hits returns the ranked chunks for query. k is clamped to MaxTopK.
func (r *Retriever) Hits(ctx context.Context, query string, k int) ([]store.Hit, error) {
	return r.index.Search(ctx, query, min(k, MaxTopK))
}
