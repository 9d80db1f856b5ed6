package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pollon-ai/pollon-go/internal/logging"
	"github.com/pollon-ai/pollon-go/internal/session"
)

// handleSessionCreate handles POST /api/sessions. It opens a new chat
// session and returns its id together with the greeting.
func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create()
	if err != nil {
		logging.FromContext(r.Context()).Error("session create failed", slog.Any("error", err))
		http.Error(w, "could not create session", http.StatusInternalServerError)
		return
	}
	s.metrics.sessionsActive.Set(float64(s.sessions.Active()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(createSessionResponse{
		ID:       sess.ID(),
		Greeting: session.Greeting,
	})
}

// handleSessionMessage handles POST /api/sessions/{id}/messages: one full
// turn through embed, scoped search, and generate-plus-store on a miss.
func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	ans, err := sess.Submit(r.Context(), req.Message)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, session.ErrClassificationPending):
		s.metrics.turnDurationSeconds.WithLabelValues("error").Observe(elapsed.Seconds())
		http.Error(w, "classification pending", http.StatusConflict)
		return
	case errors.Is(err, session.ErrClosed):
		s.metrics.turnDurationSeconds.WithLabelValues("error").Observe(elapsed.Seconds())
		http.Error(w, "session closed", http.StatusGone)
		return
	case err != nil:
		s.metrics.turnDurationSeconds.WithLabelValues("error").Observe(elapsed.Seconds())
		logging.FromContext(r.Context()).Error("turn failed",
			slog.String("session_id", sess.ID()),
			slog.Any("error", err),
		)
		http.Error(w, "turn failed, please retry", http.StatusBadGateway)
		return
	}

	if ans.Cached {
		s.metrics.cacheHitsTotal.Inc()
		s.metrics.turnDurationSeconds.WithLabelValues("hit").Observe(elapsed.Seconds())
	} else {
		s.metrics.cacheMissesTotal.Inc()
		s.metrics.turnDurationSeconds.WithLabelValues("miss").Observe(elapsed.Seconds())
		if ans.Deduped {
			s.metrics.dedupeSkipsTotal.Inc()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messageResponse{
		Answer:     ans.Text,
		QuestionID: ans.QuestionID,
		Cached:     ans.Cached,
	})
}

// handleSessionTyping handles POST /api/sessions/{id}/typing. Every
// keystroke report re-arms the session's inactivity timer.
func (s *Server) handleSessionTyping(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req typingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sess.Keystroke(req.Buffer)
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionClassification handles POST /api/sessions/{id}/classification:
// the user's follow-up / new-topic choice.
func (s *Server) handleSessionClassification(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req classificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch req.Kind {
	case "follow_up":
		err = sess.ClassifyFollowUp()
	case "new_topic":
		err = sess.ClassifyNewTopic()
	default:
		http.Error(w, `kind must be "follow_up" or "new_topic"`, http.StatusBadRequest)
		return
	}
	if errors.Is(err, session.ErrClosed) {
		http.Error(w, "session closed", http.StatusGone)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionEvents handles GET /api/sessions/{id}/events. It streams
// out-of-band session messages (the classification prompt) as SSE frames
// until the session closes or the client disconnects.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	for {
		select {
		case msg, open := <-sess.Events():
			if !open {
				writeSSE(w, flusher, "done", "session closed")
				return
			}
			writeSSE(w, flusher, "message", msg)
		case <-r.Context().Done():
			return
		}
	}
}

// handleSessionDelete handles DELETE /api/sessions/{id}: session teardown,
// cancelling the inactivity timer.
func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.PathValue("id")); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.metrics.sessionsActive.Set(float64(s.sessions.Active()))
	w.WriteHeader(http.StatusNoContent)
}

// lookupSession resolves the {id} path value to a live session, writing a
// 404 when it is gone.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// beginSSE sets the SSE response headers and returns the flusher.
func beginSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// writeSSE emits one SSE frame and flushes it to the client.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
