package qa

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pollon-ai/pollon-go/internal/logging"
)

// Curator is the operator-facing write path: it overwrites the answer of one
// already-stored question in place. It never runs the similarity search and
// never touches the question text or its embedding — the embedding belongs
// to the question, not the answer.
type Curator struct {
	// store holds the record being edited.
	store Store
	// now supplies the edit timestamp; overridable in tests.
	now func() time.Time
}

// NewCurator constructs a Curator over the given store.
func NewCurator(store Store) (*Curator, error) {
	if store == nil {
		return nil, fmt.Errorf("qa: curator store must not be nil")
	}
	return &Curator{store: store, now: time.Now}, nil
}

// OverwriteAnswer replaces the answer of the record at ref with newAnswer,
// recording actorID and the edit time for audit. Returns ErrNotFound if the
// record no longer exists (e.g. concurrently deleted).
func (c *Curator) OverwriteAnswer(ctx context.Context, ref Ref, newAnswer, actorID string) error {
	// Read first so a vanished record fails with a clear ErrNotFound before
	// any write is attempted.
	if _, err := c.store.Get(ctx, ref); err != nil {
		return fmt.Errorf("qa: overwrite answer: %w", err)
	}

	editedAt := c.now()
	if err := c.store.OverwriteAnswer(ctx, ref, newAnswer, actorID, editedAt); err != nil {
		return fmt.Errorf("qa: overwrite answer: %w", err)
	}

	logging.FromContext(ctx).Info("qa: answer curated",
		slog.String("root_id", ref.RootID),
		slog.String("followup_id", ref.FollowUpID),
		slog.String("actor", actorID),
		slog.Time("edited_at", editedAt),
	)
	return nil
}
