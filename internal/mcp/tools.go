package mcp

import (
	"time"

	"github.com/Aman-CERP/docchat/internal/async"
	"github.com/Aman-CERP/docchat/internal/store"
)

// SearchInput defines the input schema for the search_document tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"what to look for in the document"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of passages, default 5"`
}

// SearchOutput defines the output schema for the search_document tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"passages ranked by similarity"`
	Count   int                  `json:"count"`
}

// SearchResultOutput is one ranked passage.
type SearchResultOutput struct {
	Order   int     `json:"order" jsonschema:"position of the passage in the document"`
	Content string  `json:"content" jsonschema:"passage text"`
	Score   float64 `json:"score" jsonschema:"cosine similarity between 0 and 1"`
}

// AskInput defines the input schema for the ask_document tool.
type AskInput struct {
	Question string `json:"question" jsonschema:"question about the document"`
}

// AskOutput defines the output schema for the ask_document tool.
type AskOutput struct {
	Answer   string `json:"answer"`
	RecordID string `json:"record_id,omitempty" jsonschema:"history id of the stored exchange"`
	Model    string `json:"model"`
}

// StatusInput defines the input schema for the document_status tool (no parameters).
type StatusInput struct{}

// StatusOutput defines the output schema for the document_status tool.
type StatusOutput struct {
	Ready     bool                  `json:"ready" jsonschema:"true when a document is searchable"`
	Corpus    *CorpusOutput         `json:"corpus,omitempty"`
	Ingest    *async.IngestSnapshot `json:"ingest,omitempty" jsonschema:"progress of a running or finished ingestion"`
	Embedder  string                `json:"embedder"`
	Generator string                `json:"generator"`
}

// CorpusOutput describes the searchable corpus.
type CorpusOutput struct {
	Version    uint64 `json:"version"`
	Chunks     int    `json:"chunks"`
	Model      string `json:"model" jsonschema:"embedding model the corpus was built with"`
	Dimensions int    `json:"dimensions"`
	CreatedAt  string `json:"created_at" jsonschema:"RFC3339 build time"`
}

func toCorpusOutput(c store.Corpus) *CorpusOutput {
	return &CorpusOutput{
		Version:    c.Version,
		Chunks:     c.ChunkCount,
		Model:      c.Model,
		Dimensions: c.Dimensions,
		CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339),
	}
}
