package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
	"github.com/Aman-CERP/docchat/internal/session"
	"github.com/Aman-CERP/docchat/internal/store"
	"github.com/Aman-CERP/docchat/internal/telemetry"
)

type healthResponse struct {
	Status    string              `json:"status"`
	Corpus    *store.Corpus       `json:"corpus"`
	Embedder  string              `json:"embedder,omitempty"`
	Generator string              `json:"generator"`
	Questions *telemetry.Snapshot `json:"questions,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "docchat API is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Embedder:  s.config.EmbedderModel,
		Generator: s.config.Chat.Model(),
	}
	if c, ok := s.config.Index.Stats(); ok {
		resp.Corpus = &c
	}
	if s.config.Metrics != nil {
		snap := s.config.Metrics.Snapshot()
		resp.Questions = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

type uploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
	Version  uint64 `json:"version"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.config.MaxUploadBytes
	if r.ContentLength > limit {
		writeErr(w, fileTooLarge(limit, nil))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, uploadError(err, s.config.MaxUploadBytes))
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		writeErr(w, dcerrors.UnsupportedDocument(name).WithSuggestion("File must be a PDF"))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, uploadError(err, s.config.MaxUploadBytes))
		return
	}
	if len(data) == 0 {
		writeErr(w, dcerrors.EmptyDocument("empty PDF file"))
		return
	}

	select {
	case s.ingesting <- struct{}{}:
		defer func() { <-s.ingesting }()
	default:
		writeErr(w, dcerrors.IngestActive(name))
		return
	}

	s.logger.Info("upload_received",
		slog.String("filename", name),
		slog.Int("bytes", len(data)))

	// The old corpus is already gone once ingestion starts, so a client
	// disconnect must not leave the index half built.
	ctx := context.WithoutCancel(r.Context())
	s.progress.Begin(name)
	c, err := s.config.Ingester.IngestDocument(ctx, name, data, s.progress)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Message:  "PDF processed successfully",
		Filename: name,
		Chunks:   c.ChunkCount,
		Version:  c.Version,
	})
}

// uploadError classifies a failure to read the multipart body.
func uploadError(err error, limit int64) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return fileTooLarge(limit, err)
	case errors.Is(err, http.ErrMissingFile):
		return dcerrors.ValidationError("no file provided in form field \"file\"", err)
	default:
		return dcerrors.ValidationError("malformed upload", err)
	}
}

func fileTooLarge(limit int64, cause error) error {
	return dcerrors.New(dcerrors.ErrCodeFileTooLarge,
		fmt.Sprintf("upload exceeds %d bytes", limit), cause)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.progress.Snapshot())
}

type sendRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(&req); err != nil {
		writeErr(w, dcerrors.ValidationError("malformed JSON request body", err))
		return
	}

	rec, err := s.config.Chat.Send(r.Context(), req.Content)
	if err != nil {
		s.logFailure("send_failed", err)
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type doneEvent struct {
	State    string `json:"state"`
	RecordID string `json:"record_id,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	question := r.URL.Query().Get("question")

	stream, err := s.config.Chat.Stream(r.Context(), id, question)
	if err != nil {
		writeErr(w, err)
		return
	}
	// Ends the session if the loop below exits early.
	defer stream.Close()

	sse := newSSEWriter(w)
	for ev := range stream.Events() {
		event := eventMessage
		if ev.Type == session.EventError {
			event = eventError
		}
		if err := sse.send(event, ev.Data); err != nil {
			s.logger.Debug("stream_client_gone",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
			return
		}
	}

	if r.Context().Err() != nil {
		return
	}
	done := doneEvent{State: stream.State().String()}
	if rec, ok := stream.Record(); ok {
		done.RecordID = rec.ID
	}
	payload, _ := json.Marshal(done)
	_ = sse.send(eventDone, string(payload))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.config.Chat.Cancel(id) {
		s.logger.Info("stream_cancel_requested", slog.String("session_id", id))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.config.Chat.History(r.Context())
	if err != nil {
		s.logFailure("history_list_failed", err)
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Chat.ClearHistory(r.Context()); err != nil {
		s.logFailure("history_clear_failed", err)
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat history cleared successfully"})
}

func (s *Server) logFailure(event string, err error) {
	s.logger.Warn(event, dcerrors.FormatForLog(err)...)
}
