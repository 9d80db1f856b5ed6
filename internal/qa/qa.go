// Package qa defines the question-answer cache domain: the stored Question
// record, the hierarchical store contract, similarity search, the
// de-duplicating cache writer, and the operator curation path.
// Concrete stores (SQLite, in-memory) satisfy the Store interface so the
// session layer never depends on a specific backend.
package qa

import (
	"context"
	"errors"
	"time"
)

// MaxFollowUpDepth is the number of levels below a root question that the
// cache ever searches or writes. The Question record permits deeper nesting,
// but anything below this depth is unreachable by design — the limit is a
// documented contract, not an accident of loop nesting.
const MaxFollowUpDepth = 1

// ErrNotFound is returned when a referenced question no longer exists in the
// store (e.g. it was deleted between a read and a write).
var ErrNotFound = errors.New("qa: question not found")

// ErrCorruptRecord is returned by store implementations when a persisted
// record fails schema validation on read (missing fields, undecodable
// embedding). Search skips such candidates; point reads surface the error.
var ErrCorruptRecord = errors.New("qa: corrupt stored record")

// Question is a cached question-answer pair. The embedding is a property of
// the question text at insertion time: curation may overwrite Answer at any
// point, but Question and Embedding are immutable once stored.
type Question struct {
	// ID is the store-assigned identifier, unique within its collection
	// (the root collection or one root's follow-up collection) — not global.
	ID string

	// Question is the original user utterance.
	Question string

	// Answer is the answer text currently associated with the question.
	// Mutable via the curation path only.
	Answer string

	// Embedding is the semantic vector of Question, fixed at insertion time
	// and never recomputed on answer edits.
	Embedding []float32

	// CreatedAt is when the record was first stored.
	CreatedAt time.Time

	// EditedAt is when the answer was last overwritten by an operator.
	// Zero if the answer has never been curated.
	EditedAt time.Time

	// EditedBy is the opaque actor id of the last curator. Empty if the
	// answer has never been curated.
	EditedBy string
}

// Ref addresses one stored question by its position in the two-level tree.
// A zero FollowUpID refers to the root record RootID; otherwise it refers to
// follow-up FollowUpID stored under root RootID.
type Ref struct {
	// RootID is the id of the root question.
	RootID string
	// FollowUpID is the id of the follow-up under RootID, or empty for the
	// root record itself.
	FollowUpID string
}

// RootRef returns a Ref addressing the root question with the given id.
func RootRef(id string) Ref { return Ref{RootID: id} }

// FollowUpRef returns a Ref addressing a follow-up under the given root.
func FollowUpRef(rootID, id string) Ref {
	return Ref{RootID: rootID, FollowUpID: id}
}

// IsRoot reports whether r addresses a root question.
func (r Ref) IsRoot() bool { return r.FollowUpID == "" }

// ChangeKind identifies what a store change event describes.
type ChangeKind string

const (
	// ChangeCreated signals a new question was appended to a collection.
	ChangeCreated ChangeKind = "created"
	// ChangeAnswerEdited signals an existing question's answer was overwritten.
	ChangeAnswerEdited ChangeKind = "answer_edited"
)

// Change is a single store mutation, delivered to subscribers so admin views
// can stay live without polling.
type Change struct {
	// Kind is the mutation type.
	Kind ChangeKind
	// Ref addresses the affected record.
	Ref Ref
}

// Store is the hierarchical question store contract. Implementations must be
// safe to call from multiple goroutines and must validate records on read,
// returning ErrCorruptRecord rather than propagating partial data. No
// transactional guarantees are assumed across calls.
type Store interface {
	// Create appends q under the collection identified by parentID and
	// returns the store-assigned id. An empty parentID targets the root
	// collection; otherwise parentID must name an existing root question
	// (ErrNotFound if it does not). The ID, CreatedAt, EditedAt, and
	// EditedBy fields of q are ignored.
	Create(ctx context.Context, parentID string, q Question) (string, error)

	// Get returns the question addressed by ref, or ErrNotFound.
	Get(ctx context.Context, ref Ref) (Question, error)

	// List enumerates the collection identified by parentID in insertion
	// order. An empty parentID lists the root collection. Listing a
	// missing root's follow-ups returns ErrNotFound.
	List(ctx context.Context, parentID string) ([]Question, error)

	// OverwriteAnswer replaces only the answer of the record at ref,
	// recording the editor and edit time. Question text and embedding are
	// left untouched. Returns ErrNotFound if the record is gone.
	OverwriteAnswer(ctx context.Context, ref Ref, answer, editorID string, editedAt time.Time) error

	// Subscribe registers fn to be called after every successful mutation.
	// The returned cancel function removes the subscription. fn must not
	// block; it is invoked synchronously on the mutating goroutine.
	Subscribe(fn func(Change)) (cancel func())

	// Close releases any resources held by the store.
	Close() error
}

// Matcher finds the best cached question for a query embedding within one
// scope. The linear-scan Searcher is the reference implementation; an
// approximate-nearest-neighbor index may substitute behind the same contract
// without changing observable behavior (modulo exact-tie ordering).
type Matcher interface {
	// FindBestMatch returns the best match above the acceptance threshold,
	// or nil if no stored question qualifies. An empty parentID scopes the
	// search to the root collection; otherwise to parentID's follow-ups.
	FindBestMatch(ctx context.Context, queryEmbedding []float32, parentID string) (*Question, error)
}
