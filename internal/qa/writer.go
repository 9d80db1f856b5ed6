package qa

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pollon-ai/pollon-go/internal/logging"
)

// CacheWriter appends new question-answer pairs to the store, re-running the
// similarity search first so that two near-simultaneous turns asking the same
// thing produce a single record. The guard narrows the duplicate window but
// does not close it — the store exposes no transactions, and an occasional
// near-duplicate between one session's read and another's write is an
// accepted eventual-consistency gap.
type CacheWriter struct {
	// store receives the durable append.
	store Store
	// matcher performs the pre-write duplicate check.
	matcher Matcher
}

// NewCacheWriter constructs a CacheWriter over the given store and matcher.
func NewCacheWriter(store Store, matcher Matcher) (*CacheWriter, error) {
	if store == nil {
		return nil, fmt.Errorf("qa: writer store must not be nil")
	}
	if matcher == nil {
		return nil, fmt.Errorf("qa: writer matcher must not be nil")
	}
	return &CacheWriter{store: store, matcher: matcher}, nil
}

// StoreQuestion persists a new question-answer pair into the collection
// identified by parentID (empty for the root collection, else the follow-ups
// of that root) and returns the store-assigned id.
//
// If the duplicate check finds an existing match in the identical scope the
// write is skipped and ("", nil) is returned. Either exactly one durable
// write happens, or zero.
func (w *CacheWriter) StoreQuestion(ctx context.Context, questionText, answerText string, embedding []float32, parentID string) (string, error) {
	if len(embedding) == 0 {
		return "", fmt.Errorf("qa: store question: embedding must not be empty")
	}

	existing, err := w.matcher.FindBestMatch(ctx, embedding, parentID)
	if err != nil {
		return "", fmt.Errorf("qa: store question: duplicate check: %w", err)
	}
	if existing != nil {
		logging.FromContext(ctx).Debug("qa: store question: duplicate found, skipping write",
			slog.String("existing_id", existing.ID),
			slog.String("scope", parentID),
		)
		return "", nil
	}

	id, err := w.store.Create(ctx, parentID, Question{
		Question:  questionText,
		Answer:    answerText,
		Embedding: embedding,
	})
	if err != nil {
		return "", fmt.Errorf("qa: store question: %w", err)
	}
	return id, nil
}
