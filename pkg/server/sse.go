package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/strandlabs/strand/pkg/session"
	"github.com/strandlabs/strand/pkg/stream"
)

// frameBuffer bounds how far the graph can run ahead of a slow client
// before frame sends start blocking.
const frameBuffer = 32

// handleChatStream runs a turn and relays its frames as server-sent events.
// Input problems are rejected as JSON before the stream opens; once it is
// open, failures arrive as error frames inside the stream.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}
	if _, err := s.engine.Sessions().Get(r.Context(), &session.GetRequest{SessionID: sessionID}); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sink := stream.NewChannelSink(frameBuffer)
	turnErr := make(chan error, 1)
	go func() {
		defer sink.Close()
		_, err := s.engine.Turn(r.Context(), turnRequest(sessionID, req), sink)
		turnErr <- err
	}()

	// Drain after a write failure so the turn goroutine never blocks on
	// a full channel.
	writeFailed := false
	for frame := range sink.Frames() {
		s.metrics.RecordStreamFrame(r.Context(), string(frame.Type))
		if writeFailed {
			continue
		}
		data, err := json.Marshal(frame)
		if err != nil {
			s.logger.Warn("Failed to encode frame", "type", frame.Type, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			s.logger.Debug("Client disconnected mid-stream", "session_id", sessionID)
			writeFailed = true
			continue
		}
		flusher.Flush()
	}

	if err := <-turnErr; err != nil {
		s.logger.Warn("Streaming turn failed", "session_id", sessionID, "error", err)
	}
}
