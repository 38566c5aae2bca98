// Package api serves the document chat over HTTP with JSON and
// server-sent events.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Aman-CERP/docchat/internal/async"
	"github.com/Aman-CERP/docchat/internal/history"
	"github.com/Aman-CERP/docchat/internal/session"
	"github.com/Aman-CERP/docchat/internal/store"
	"github.com/Aman-CERP/docchat/internal/telemetry"
)

// Default server limits.
const (
	DefaultMaxUploadBytes    = 50 << 20
	DefaultShutdownTimeout   = 10 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
	defaultReadTimeout       = 2 * time.Minute
	defaultIdleTimeout       = 2 * time.Minute
	maxJSONBody              = 1 << 20
)

// Chat answers questions about the active document.
type Chat interface {
	Send(ctx context.Context, question string) (history.Record, error)
	Stream(ctx context.Context, id, question string) (*session.Stream, error)
	Cancel(id string) bool
	CancelAll()
	History(ctx context.Context) ([]history.Record, error)
	ClearHistory(ctx context.Context) error
	Model() string
}

// MetricsSource reports question statistics.
type MetricsSource interface {
	Snapshot() telemetry.Snapshot
}

// Ingester replaces the active corpus with an uploaded document.
type Ingester interface {
	IngestDocument(ctx context.Context, name string, data []byte, progress *async.IngestProgress) (store.Corpus, error)
}

// Index reports on and removes the active corpus.
type Index interface {
	Stats() (store.Corpus, bool)
	Cleanup(ctx context.Context) error
}

// Config configures a Server.
type Config struct {
	Addr           string
	AllowedOrigins []string
	MaxUploadBytes int64

	// CleanupOnShutdown removes the corpus when the server stops.
	CleanupOnShutdown bool
	ShutdownTimeout   time.Duration

	Chat     Chat
	Ingester Ingester
	Index    Index
	// Progress is shared with background ingestion started elsewhere.
	Progress *async.IngestProgress
	// EmbedderModel is reported by the health endpoint.
	EmbedderModel string
	// Metrics, when set, adds question statistics to the health endpoint.
	Metrics MetricsSource

	Logger *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	config   Config
	progress *async.IngestProgress
	logger   *slog.Logger

	// ingesting admits one upload at a time.
	ingesting chan struct{}
}

// NewServer creates a server. Chat, Ingester and Index are required.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Chat == nil || cfg.Ingester == nil || cfg.Index == nil {
		return nil, errors.New("api: chat, ingester and index are required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	progress := cfg.Progress
	if progress == nil {
		progress = async.NewIngestProgress()
	}
	return &Server{
		config:    cfg,
		progress:  progress,
		logger:    cfg.Logger,
		ingesting: make(chan struct{}, 1),
	}, nil
}

// Routes returns the HTTP handler for all endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/pdf/upload", s.handleUpload)
	mux.HandleFunc("GET /api/pdf/status", s.handleStatus)
	mux.HandleFunc("POST /api/chat/send", s.handleSend)
	mux.HandleFunc("GET /api/chat/stream/{id}", s.handleStream)
	mux.HandleFunc("POST /api/chat/stream/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/chat/history", s.handleHistory)
	mux.HandleFunc("POST /api/chat/clear", s.handleClear)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return s.withLogging(withCORS(s.config.AllowedOrigins, mux))
}

// ListenAndServe serves on the configured address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully:
// live streams are cancelled, in-flight requests drain, and the corpus is
// removed when configured.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		IdleTimeout:       defaultIdleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.logger.Info("server_listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	return s.shutdown(srv)
}

func (s *Server) shutdown(srv *http.Server) error {
	s.logger.Info("server_shutting_down")

	s.config.Chat.CancelAll()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)

	if s.config.CleanupOnShutdown {
		if cerr := s.config.Index.Cleanup(ctx); cerr != nil {
			s.logger.Error("index_cleanup_failed", slog.String("error", cerr.Error()))
		} else {
			s.logger.Info("index_cleaned_on_shutdown")
		}
	}

	s.logger.Info("server_stopped")
	return err
}

func withCORS(origins []string, next http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying flusher.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		s.logger.Debug("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}
