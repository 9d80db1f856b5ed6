package qastore

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/pollon-ai/pollon-go/internal/qa"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// stores runs a subtest against both qa.Store implementations so their
// semantics cannot drift apart.
func stores(t *testing.T, name string, fn func(t *testing.T, s qa.Store)) {
	t.Helper()
	t.Run(name+"/sqlite", func(t *testing.T) {
		t.Parallel()
		fn(t, openTestStore(t))
	})
	t.Run(name+"/memory", func(t *testing.T) {
		t.Parallel()
		fn(t, NewMemoryStore())
	})
}

// sample returns a minimal valid question for tests.
func sample(text string) qa.Question {
	return qa.Question{
		Question:  text,
		Answer:    "answer for " + text,
		Embedding: []float32{0.1, 0.2, 0.3},
	}
}

func Test_Store_CreateAndGetRoot(t *testing.T) {
	t.Parallel()
	stores(t, "create_get", func(t *testing.T, s qa.Store) {
		ctx := context.Background()

		id, err := s.Create(ctx, "", sample("what is photosynthesis"))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if id == "" {
			t.Fatal("create returned empty id")
		}

		got, err := s.Get(ctx, qa.RootRef(id))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Question != "what is photosynthesis" {
			t.Errorf("question: got %q", got.Question)
		}
		if !reflect.DeepEqual(got.Embedding, []float32{0.1, 0.2, 0.3}) {
			t.Errorf("embedding: got %v", got.Embedding)
		}
		if !got.EditedAt.IsZero() || got.EditedBy != "" {
			t.Errorf("fresh record carries edit audit fields: %v / %q", got.EditedAt, got.EditedBy)
		}
	})
}

func Test_Store_FollowUpsScopedToParent(t *testing.T) {
	t.Parallel()
	stores(t, "followup_scope", func(t *testing.T, s qa.Store) {
		ctx := context.Background()

		rootA, err := s.Create(ctx, "", sample("root a"))
		if err != nil {
			t.Fatalf("create root a: %v", err)
		}
		rootB, err := s.Create(ctx, "", sample("root b"))
		if err != nil {
			t.Fatalf("create root b: %v", err)
		}

		fID, err := s.Create(ctx, rootA, sample("follow-up of a"))
		if err != nil {
			t.Fatalf("create follow-up: %v", err)
		}

		// Visible under its parent.
		if _, err := s.Get(ctx, qa.FollowUpRef(rootA, fID)); err != nil {
			t.Errorf("get follow-up under parent: %v", err)
		}
		// Invisible under the wrong parent and as a root.
		if _, err := s.Get(ctx, qa.FollowUpRef(rootB, fID)); !errors.Is(err, qa.ErrNotFound) {
			t.Errorf("get under wrong parent: want ErrNotFound, got %v", err)
		}
		if _, err := s.Get(ctx, qa.RootRef(fID)); !errors.Is(err, qa.ErrNotFound) {
			t.Errorf("get follow-up as root: want ErrNotFound, got %v", err)
		}

		// Root listing contains only roots; follow-up listing only follow-ups.
		roots, err := s.List(ctx, "")
		if err != nil {
			t.Fatalf("list roots: %v", err)
		}
		if len(roots) != 2 {
			t.Errorf("want 2 roots, got %d", len(roots))
		}
		followups, err := s.List(ctx, rootA)
		if err != nil {
			t.Fatalf("list follow-ups: %v", err)
		}
		if len(followups) != 1 || followups[0].ID != fID {
			t.Errorf("follow-up listing: got %v", followups)
		}
	})
}

func Test_Store_CreateUnderMissingOrNonRootParent(t *testing.T) {
	t.Parallel()
	stores(t, "bad_parent", func(t *testing.T, s qa.Store) {
		ctx := context.Background()

		if _, err := s.Create(ctx, "no-such-root", sample("orphan")); !errors.Is(err, qa.ErrNotFound) {
			t.Errorf("create under missing parent: want ErrNotFound, got %v", err)
		}

		rootID, err := s.Create(ctx, "", sample("root"))
		if err != nil {
			t.Fatalf("create root: %v", err)
		}
		followID, err := s.Create(ctx, rootID, sample("follow-up"))
		if err != nil {
			t.Fatalf("create follow-up: %v", err)
		}

		// Follow-ups cannot anchor their own collections: depth stays at one.
		if _, err := s.Create(ctx, followID, sample("too deep")); !errors.Is(err, qa.ErrNotFound) {
			t.Errorf("create under follow-up: want ErrNotFound, got %v", err)
		}
	})
}

func Test_Store_ListInsertionOrder(t *testing.T) {
	t.Parallel()
	stores(t, "order", func(t *testing.T, s qa.Store) {
		ctx := context.Background()

		texts := []string{"first", "second", "third"}
		for _, q := range texts {
			if _, err := s.Create(ctx, "", sample(q)); err != nil {
				t.Fatalf("create %q: %v", q, err)
			}
		}

		got, err := s.List(ctx, "")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for i, want := range texts {
			if got[i].Question != want {
				t.Errorf("position %d: want %q, got %q", i, want, got[i].Question)
			}
		}
	})
}

func Test_Store_OverwriteAnswerLeavesQuestionAndEmbedding(t *testing.T) {
	t.Parallel()
	stores(t, "overwrite", func(t *testing.T, s qa.Store) {
		ctx := context.Background()

		id, err := s.Create(ctx, "", sample("immutable parts"))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		before, err := s.Get(ctx, qa.RootRef(id))
		if err != nil {
			t.Fatalf("get before: %v", err)
		}

		editedAt := time.Unix(1700000000, 0)
		if err := s.OverwriteAnswer(ctx, qa.RootRef(id), "corrected answer", "teacher-7", editedAt); err != nil {
			t.Fatalf("overwrite: %v", err)
		}

		after, err := s.Get(ctx, qa.RootRef(id))
		if err != nil {
			t.Fatalf("get after: %v", err)
		}
		if after.Answer != "corrected answer" {
			t.Errorf("answer not overwritten: %q", after.Answer)
		}
		if after.Question != before.Question {
			t.Errorf("question changed: %q -> %q", before.Question, after.Question)
		}
		if !reflect.DeepEqual(after.Embedding, before.Embedding) {
			t.Errorf("embedding changed: %v -> %v", before.Embedding, after.Embedding)
		}
		if after.EditedBy != "teacher-7" || !after.EditedAt.Equal(editedAt) {
			t.Errorf("audit fields: got %q at %v", after.EditedBy, after.EditedAt)
		}
	})
}

func Test_Store_OverwriteAnswerMissingRecord(t *testing.T) {
	t.Parallel()
	stores(t, "overwrite_missing", func(t *testing.T, s qa.Store) {
		err := s.OverwriteAnswer(context.Background(), qa.RootRef("gone"), "x", "op", time.Now())
		if !errors.Is(err, qa.ErrNotFound) {
			t.Errorf("want ErrNotFound, got %v", err)
		}
	})
}

func Test_Store_SubscribeDeliversChanges(t *testing.T) {
	t.Parallel()
	stores(t, "subscribe", func(t *testing.T, s qa.Store) {
		ctx := context.Background()

		var changes []qa.Change
		cancel := s.Subscribe(func(c qa.Change) { changes = append(changes, c) })

		id, err := s.Create(ctx, "", sample("watched"))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := s.OverwriteAnswer(ctx, qa.RootRef(id), "edited", "op", time.Now()); err != nil {
			t.Fatalf("overwrite: %v", err)
		}

		if len(changes) != 2 {
			t.Fatalf("want 2 changes, got %d", len(changes))
		}
		if changes[0].Kind != qa.ChangeCreated || changes[0].Ref.RootID != id {
			t.Errorf("change[0]: got %+v", changes[0])
		}
		if changes[1].Kind != qa.ChangeAnswerEdited {
			t.Errorf("change[1]: got %+v", changes[1])
		}

		// After cancel, no further deliveries.
		cancel()
		if _, err := s.Create(ctx, "", sample("unwatched")); err != nil {
			t.Fatalf("create after cancel: %v", err)
		}
		if len(changes) != 2 {
			t.Errorf("subscriber called after cancel: %d changes", len(changes))
		}
	})
}

// Test_SQLiteStore_CorruptRecordSkippedInList plants a record with an
// undecodable embedding directly in the table and verifies that listings
// skip it while point reads fail loudly.
func Test_SQLiteStore_CorruptRecordSkippedInList(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	goodID, err := s.Create(ctx, "", sample("good"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const ins = `INSERT INTO questions (id, parent_id, question, answer, embedding, created_at)
	             VALUES ('bad-id', NULL, 'bad', 'bad', 'not json', 0)`
	if _, err := s.db.Exec(ins); err != nil {
		t.Fatalf("plant corrupt row: %v", err)
	}

	list, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("list with corrupt row: %v", err)
	}
	if len(list) != 1 || list[0].ID != goodID {
		t.Errorf("corrupt row not skipped: %v", list)
	}

	if _, err := s.Get(ctx, qa.RootRef("bad-id")); !errors.Is(err, qa.ErrCorruptRecord) {
		t.Errorf("point read of corrupt row: want ErrCorruptRecord, got %v", err)
	}
}
