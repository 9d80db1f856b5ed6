package qastore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pollon-ai/pollon-go/internal/qa"
)

// MemoryStore is an in-memory qa.Store for tests and ephemeral dev mode.
// It preserves insertion order per collection and mirrors the SQLite store's
// semantics, including the root-only parent check.
type MemoryStore struct {
	// mu protects all fields below.
	mu sync.Mutex
	// roots is the ordered root collection.
	roots []*memRecord
	// byID indexes root records by id.
	byID map[string]*memRecord
	// subs holds registered change subscribers keyed by registration id.
	subs map[int]func(qa.Change)
	// nextSub is the next subscriber registration id.
	nextSub int
}

// memRecord is a stored question plus its ordered follow-up collection.
type memRecord struct {
	q         qa.Question
	followups []*memRecord
	byID      map[string]*memRecord
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*memRecord),
		subs: make(map[int]func(qa.Change)),
	}
}

// Create appends q under parentID and returns the generated id.
func (s *MemoryStore) Create(_ context.Context, parentID string, q qa.Question) (string, error) {
	q.ID = uuid.NewString()
	q.CreatedAt = time.Now()
	q.EditedAt = time.Time{}
	q.EditedBy = ""
	q.Embedding = append([]float32(nil), q.Embedding...)

	rec := &memRecord{q: q, byID: make(map[string]*memRecord)}

	s.mu.Lock()
	if parentID == "" {
		s.roots = append(s.roots, rec)
		s.byID[q.ID] = rec
	} else {
		parent, ok := s.byID[parentID]
		if !ok {
			s.mu.Unlock()
			return "", qa.ErrNotFound
		}
		parent.followups = append(parent.followups, rec)
		parent.byID[q.ID] = rec
	}
	s.mu.Unlock()

	s.notify(qa.Change{Kind: qa.ChangeCreated, Ref: refFor(parentID, q.ID)})
	return q.ID, nil
}

// Get returns the question addressed by ref, or qa.ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, ref qa.Ref) (qa.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.locked(ref)
	if err != nil {
		return qa.Question{}, err
	}
	return copyQuestion(rec.q), nil
}

// List enumerates one collection in insertion order.
func (s *MemoryStore) List(_ context.Context, parentID string) ([]qa.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.roots
	if parentID != "" {
		parent, ok := s.byID[parentID]
		if !ok {
			return nil, qa.ErrNotFound
		}
		src = parent.followups
	}

	out := make([]qa.Question, 0, len(src))
	for _, rec := range src {
		out = append(out, copyQuestion(rec.q))
	}
	return out, nil
}

// OverwriteAnswer replaces only the answer and audit fields of the record at ref.
func (s *MemoryStore) OverwriteAnswer(_ context.Context, ref qa.Ref, answer, editorID string, editedAt time.Time) error {
	s.mu.Lock()
	rec, err := s.locked(ref)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	rec.q.Answer = answer
	rec.q.EditedAt = editedAt
	rec.q.EditedBy = editorID
	s.mu.Unlock()

	s.notify(qa.Change{Kind: qa.ChangeAnswerEdited, Ref: ref})
	return nil
}

// Subscribe registers fn for change notifications until cancel is called.
func (s *MemoryStore) Subscribe(fn func(qa.Change)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds; the in-memory store has no backend to lose.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// locked resolves ref to its record. Caller must hold mu.
func (s *MemoryStore) locked(ref qa.Ref) (*memRecord, error) {
	root, ok := s.byID[ref.RootID]
	if !ok {
		return nil, qa.ErrNotFound
	}
	if ref.IsRoot() {
		return root, nil
	}
	follow, ok := root.byID[ref.FollowUpID]
	if !ok {
		return nil, qa.ErrNotFound
	}
	return follow, nil
}

// notify delivers a change to all current subscribers.
func (s *MemoryStore) notify(c qa.Change) {
	s.mu.Lock()
	fns := make([]func(qa.Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// copyQuestion returns a copy of q with its embedding cloned so callers can
// never mutate stored state.
func copyQuestion(q qa.Question) qa.Question {
	q.Embedding = append([]float32(nil), q.Embedding...)
	return q
}
