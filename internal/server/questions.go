package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pollon-ai/pollon-go/internal/logging"
	"github.com/pollon-ai/pollon-go/internal/qa"
)

// handleQuestionsList handles GET /api/questions. It returns the whole cache
// as a two-level tree: roots in insertion order, each with its follow-ups.
func (s *Server) handleQuestionsList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roots, err := s.store.List(ctx, "")
	if err != nil {
		logging.FromContext(ctx).Error("question listing failed", slog.Any("error", err))
		http.Error(w, "could not list questions", http.StatusInternalServerError)
		return
	}

	tree := make([]questionNode, 0, len(roots))
	for _, root := range roots {
		node := toNode(root)
		followups, err := s.store.List(ctx, root.ID)
		if err != nil {
			logging.FromContext(ctx).Error("follow-up listing failed",
				slog.String("root_id", root.ID),
				slog.Any("error", err),
			)
			http.Error(w, "could not list questions", http.StatusInternalServerError)
			return
		}
		for _, f := range followups {
			node.FollowUps = append(node.FollowUps, toNode(f))
		}
		tree = append(tree, node)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tree)
}

// handleQuestionsEvents handles GET /api/questions/events: a live SSE feed of
// cache changes so the admin view can refresh without polling.
func (s *Server) handleQuestionsEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	changes := make(chan qa.Change, 16)
	cancel := s.store.Subscribe(func(c qa.Change) {
		// A slow client drops frames rather than blocking the store.
		select {
		case changes <- c:
		default:
		}
	})
	defer cancel()

	for {
		select {
		case c := <-changes:
			ev := changeEvent{
				Kind:       string(c.Kind),
				RootID:     c.Ref.RootID,
				FollowUpID: c.Ref.FollowUpID,
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeSSE(w, flusher, "change", string(payload))
		case <-r.Context().Done():
			return
		}
	}
}

// handleCurateRoot handles PUT /api/questions/{id}/answer.
func (s *Server) handleCurateRoot(w http.ResponseWriter, r *http.Request) {
	s.curate(w, r, qa.RootRef(r.PathValue("id")))
}

// handleCurateFollowUp handles PUT /api/questions/{parent}/followups/{id}/answer.
func (s *Server) handleCurateFollowUp(w http.ResponseWriter, r *http.Request) {
	s.curate(w, r, qa.FollowUpRef(r.PathValue("parent"), r.PathValue("id")))
}

// curate applies an answer overwrite at ref on behalf of the requesting
// teacher. The actor id comes from the identity headers the auth frontend
// sets; without it there is no audit trail, so the request is rejected.
func (s *Server) curate(w http.ResponseWriter, r *http.Request, ref qa.Ref) {
	actor := actorID(r)
	if actor == "" {
		http.Error(w, "X-Actor-Id header is required", http.StatusBadRequest)
		return
	}

	var req curationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.curator.OverwriteAnswer(r.Context(), ref, req.Answer, actor)
	switch {
	case errors.Is(err, qa.ErrNotFound):
		http.Error(w, "question not found", http.StatusNotFound)
		return
	case err != nil:
		logging.FromContext(r.Context()).Error("curation failed",
			slog.String("actor_id", actor),
			slog.String("actor_name", actorName(r)),
			slog.Any("error", err),
		)
		http.Error(w, "could not update answer", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// toNode converts a stored question to its API representation. Embeddings
// never leave the server.
func toNode(q qa.Question) questionNode {
	node := questionNode{
		ID:        q.ID,
		Question:  q.Question,
		Answer:    q.Answer,
		CreatedAt: q.CreatedAt,
		EditedBy:  q.EditedBy,
	}
	if !q.EditedAt.IsZero() {
		t := q.EditedAt
		node.EditedAt = &t
	}
	return node
}
