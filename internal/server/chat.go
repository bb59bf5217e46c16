package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/campus-news/notify/internal/chatstream"
)

// apologyPrefix starts the content of the error record sent when answering fails.
const apologyPrefix = "Sorry, the assistant could not answer: "

// Answerer produces an answer to req, passing each fragment to emit in
// order. A non-nil error from emit means the client went away and the answer
// should be abandoned.
type Answerer interface {
	Answer(ctx context.Context, req chatstream.Request, emit func(fragment string) error) error
}

type streamRecord struct {
	Content   string `json:"content"`
	Done      bool   `json:"done"`
	SessionID string `json:"sessionId,omitempty"`
	Error     bool   `json:"error,omitempty"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.answerer == nil {
		http.Error(w, ErrNoAnswerer.Error(), http.StatusServiceUnavailable)
		return
	}

	var req chatstream.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger := s.logger.With().Int64("user", user.ID).Str("session", sessionID).Logger()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(rec streamRecord) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	fragments := 0
	err := s.answerer.Answer(r.Context(), req, func(fragment string) error {
		fragments++
		return emit(streamRecord{Content: fragment})
	})
	if err != nil {
		if r.Context().Err() != nil {
			logger.Debug().Int("fragments", fragments).Msg("chat client went away")
			return
		}
		logger.Warn().Err(err).Msg("chat answer failed")
		_ = emit(streamRecord{Content: apologyPrefix + err.Error(), Done: true, Error: true})
		return
	}

	_ = emit(streamRecord{Done: true, SessionID: sessionID})
	logger.Debug().Int("fragments", fragments).Msg("chat answer streamed")
}
