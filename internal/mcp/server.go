package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/docchat/internal/async"
	"github.com/Aman-CERP/docchat/internal/history"
	"github.com/Aman-CERP/docchat/internal/search"
	"github.com/Aman-CERP/docchat/internal/store"
	"github.com/Aman-CERP/docchat/pkg/version"
)

const historyURI = "docchat://history"

// Searcher ranks passages of the active document.
type Searcher interface {
	Hits(ctx context.Context, query string, k int) ([]store.Hit, error)
}

// Asker answers questions and lists past answers.
type Asker interface {
	Send(ctx context.Context, question string) (history.Record, error)
	History(ctx context.Context) ([]history.Record, error)
	Model() string
}

// CorpusStats reports on the active corpus.
type CorpusStats interface {
	Stats() (store.Corpus, bool)
}

// Config configures a Server.
type Config struct {
	Searcher      Searcher
	Asker         Asker
	Index         CorpusStats
	EmbedderModel string
	Logger        *slog.Logger
}

// Server is the MCP server for docchat.
type Server struct {
	mcp      *mcp.Server
	searcher Searcher
	asker    Asker
	index    CorpusStats
	embedder string
	logger   *slog.Logger

	// Background ingestion progress (nil when not ingesting).
	progress *async.IngestProgress

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search_document",
		Description: "Find the passages of the loaded document that are most similar to a query. Returns ranked passages with similarity scores.",
	},
	{
		Name:        "ask_document",
		Description: "Answer a question using only the loaded document. The exchange is stored in the chat history.",
	},
	{
		Name:        "document_status",
		Description: "Report whether a document is loaded and searchable, with corpus statistics and ingestion progress.",
	},
}

// NewServer creates a new MCP server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if cfg.Asker == nil {
		return nil, errors.New("asker is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("corpus stats are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		searcher: cfg.Searcher,
		asker:    cfg.Asker,
		index:    cfg.Index,
		embedder: cfg.EmbedderModel,
		logger:   cfg.Logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    version.Name,
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	s.registerResources()
	return s, nil
}

// SetIngestProgress sets the tracker of a background ingestion so that
// document_status and search_document can report on it.
func (s *Server) SetIngestProgress(progress *async.IngestProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = progress
}

func (s *Server) ingestProgress() *async.IngestProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpAskHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpStatusHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         historyURI,
		Name:        "history",
		Description: "Questions asked about the loaded document and their answers, newest first",
		MIMEType:    "application/json",
	}, s.handleHistoryResource)
}

// mcpSearchHandler is the MCP SDK handler for the search_document tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	limit := clampLimit(input.Limit, search.DefaultTopK, search.MaxTopK)

	hits, err := s.searcher.Hits(ctx, query, limit)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	if len(hits) == 0 {
		if err := s.notReady(); err != nil {
			return nil, SearchOutput{}, err
		}
	}

	s.logger.Debug("mcp_search",
		slog.String("query", query),
		slog.Int("limit", limit),
		slog.Int("results", len(hits)))

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(query, hits)}},
	}, ToSearchOutput(hits), nil
}

// mcpAskHandler is the MCP SDK handler for the ask_document tool.
func (s *Server) mcpAskHandler(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (
	*mcp.CallToolResult,
	AskOutput,
	error,
) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, AskOutput{}, NewInvalidParamsError("question parameter is required")
	}
	if err := s.notReady(); err != nil {
		return nil, AskOutput{}, err
	}

	rec, err := s.asker.Send(ctx, input.Question)
	if err != nil {
		s.logger.Warn("mcp_ask_failed", slog.String("error", err.Error()))
		return nil, AskOutput{}, MapError(err)
	}

	out := AskOutput{
		Answer:   rec.Answer,
		RecordID: rec.ID,
		Model:    s.asker.Model(),
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: rec.Answer}},
	}, out, nil
}

// mcpStatusHandler is the MCP SDK handler for the document_status tool.
func (s *Server) mcpStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	return nil, s.status(), nil
}

func (s *Server) status() StatusOutput {
	out := StatusOutput{
		Embedder:  s.embedder,
		Generator: s.asker.Model(),
	}
	if c, ok := s.index.Stats(); ok {
		out.Ready = true
		out.Corpus = toCorpusOutput(c)
	}
	if p := s.ingestProgress(); p != nil {
		snap := p.Snapshot()
		out.Ingest = &snap
		if snap.Status == string(async.StatusIngesting) {
			out.Ready = false
		}
	}
	return out
}

// notReady explains why there is nothing to search, or returns nil when a
// corpus exists.
func (s *Server) notReady() error {
	if p := s.ingestProgress(); p != nil && p.IsIngesting() {
		snap := p.Snapshot()
		return &MCPError{
			Code:    ErrCodeBusy,
			Message: fmt.Sprintf("Document is being ingested (%s, %.0f%%). Try again shortly.", snap.Stage, snap.ProgressPct),
		}
	}
	if _, ok := s.index.Stats(); !ok {
		return MapError(ErrNoDocument)
	}
	return nil
}

func (s *Server) handleHistoryResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	records, err := s.asker.History(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encoding history: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// Serve runs the server over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}
