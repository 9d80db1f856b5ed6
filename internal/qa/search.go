package qa

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pollon-ai/pollon-go/internal/logging"
	"github.com/pollon-ai/pollon-go/internal/vector"
)

// MatchThreshold is the minimum cosine similarity for a stored question to
// count as "the same question". The comparison is inclusive: a score of
// exactly 0.70 is a hit, 0.6999 is a miss.
const MatchThreshold = 0.7

// Searcher is the linear-scan Matcher. It enumerates exactly one collection
// (root questions, or the direct follow-ups of one root — see
// MaxFollowUpDepth) and tracks the running maximum similarity.
type Searcher struct {
	// store is the question store to enumerate.
	store Store
}

// NewSearcher constructs a Searcher over the given store.
func NewSearcher(store Store) (*Searcher, error) {
	if store == nil {
		return nil, fmt.Errorf("qa: searcher store must not be nil")
	}
	return &Searcher{store: store}, nil
}

// FindBestMatch scans the scope identified by parentID and returns the
// stored question with the highest similarity to queryEmbedding, provided
// that maximum is at least MatchThreshold; otherwise it returns nil.
//
// The running maximum uses a strict greater-than comparison, so on an exact
// tie the first-encountered candidate (store enumeration order, i.e.
// insertion order) wins. Per-candidate comparison failures — dimension
// mismatches from a provider change, corrupt embeddings — are logged and
// skipped so one malformed record cannot blank out an otherwise valid search.
func (s *Searcher) FindBestMatch(ctx context.Context, queryEmbedding []float32, parentID string) (*Question, error) {
	candidates, err := s.store.List(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("qa: search: list scope %q: %w", parentID, err)
	}

	log := logging.FromContext(ctx)

	var best *Question
	highest := -1.0

	for i := range candidates {
		c := &candidates[i]
		sim, err := vector.CosineSimilarity(queryEmbedding, c.Embedding)
		if err != nil {
			// Skip and continue: a single bad record must not abort the scan.
			log.Debug("qa: search: skipping candidate",
				slog.String("id", c.ID),
				slog.String("scope", parentID),
				slog.Any("error", err),
			)
			continue
		}
		if sim > highest {
			highest = sim
			best = c
		}
	}

	if best == nil || highest < MatchThreshold {
		return nil, nil
	}
	return best, nil
}
