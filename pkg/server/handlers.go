package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strandlabs/strand/pkg/extract"
	"github.com/strandlabs/strand/pkg/runtime"
	"github.com/strandlabs/strand/pkg/session"
	"github.com/strandlabs/strand/pkg/stream"
)

// chatRequest is the body of both chat endpoints.
type chatRequest struct {
	Message     string `json:"message"`
	WebSearch   bool   `json:"web_search"`
	RAG         bool   `json:"rag"`
	DeepSearch  bool   `json:"deep_search"`
	UploadedDoc bool   `json:"uploaded_doc"`
}

type addDocumentsRequest struct {
	Documents []extract.Upload `json:"documents"`
	DocType   string           `json:"doc_type"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Strand AI Assistant API",
		"version": s.version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "healthy",
		"provider_configured": s.engine.Config().LLM.APIKey != "",
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.Sessions().Create(r.Context(), &session.CreateRequest{})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": resp.Session.ID,
		"created_at": resp.Session.CreatedAt,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	got, err := s.engine.Sessions().Get(r.Context(), &session.GetRequest{
		SessionID: chi.URLParam(r, "sessionID"),
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, got.Session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Session deleted successfully",
	})
}

func (s *Server) handleSetGPTConfig(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	cfg, err := session.DecodeGPTConfig(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.Sessions().SetGPTConfig(r.Context(), chi.URLParam(r, "sessionID"), cfg); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "GPT configuration updated successfully",
	})
}

func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	var req addDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	docType, err := session.ParseDocType(req.DocType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid doc_type. Use 'user' or 'kb'")
		return
	}

	docs, err := s.engine.AddDocuments(r.Context(), chi.URLParam(r, "sessionID"), docType, req.Documents)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("Successfully uploaded %d documents", len(docs)),
		"documents": docs,
	})
}

func (s *Server) handleGetDocuments(w http.ResponseWriter, r *http.Request) {
	got, err := s.engine.Sessions().Get(r.Context(), &session.GetRequest{
		SessionID: chi.URLParam(r, "sessionID"),
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uploaded_docs": got.Session.UserDocs,
		"kb":            got.Session.KBDocs,
	})
}

func (s *Server) handleLoadKB(w http.ResponseWriter, r *http.Request) {
	docs, err := s.engine.LoadKB(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      fmt.Sprintf("Loaded %d KB documents", len(docs)),
		"kb_documents": docs,
	})
}

// handleChat runs a full turn and returns the final answer in one response.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	sink := stream.NewBufferSink()
	result, err := s.engine.Turn(r.Context(), turnRequest(chi.URLParam(r, "sessionID"), req), sink)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    result.Answer,
		"session_id": result.SessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func turnRequest(sessionID string, req chatRequest) runtime.TurnRequest {
	return runtime.TurnRequest{
		SessionID:   sessionID,
		Message:     req.Message,
		WebSearch:   req.WebSearch,
		RAG:         req.RAG,
		DeepSearch:  req.DeepSearch,
		UploadedDoc: req.UploadedDoc,
	}
}

// statusFor maps engine errors onto HTTP status codes. Anything not
// recognized as a client fault is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, runtime.ErrEmptyMessage),
		errors.Is(err, runtime.ErrNoKBDirectory):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
