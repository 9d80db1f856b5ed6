package qa

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func newTestCurator(t *testing.T, store Store) *Curator {
	t.Helper()
	c, err := NewCurator(store)
	if err != nil {
		t.Fatalf("new curator: %v", err)
	}
	return c
}

func Test_Curator_OverwritesOnlyTheAnswer(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.addRoot("q1", "what is gravity", unit(0.8))

	c := newTestCurator(t, store)
	fixed := time.Unix(1800000000, 0)
	c.now = func() time.Time { return fixed }

	ctx := context.Background()
	before, _ := store.Get(ctx, RootRef("q1"))

	if err := c.OverwriteAnswer(ctx, RootRef("q1"), "a curved spacetime effect", "teacher-1"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	after, err := store.Get(ctx, RootRef("q1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Answer != "a curved spacetime effect" {
		t.Errorf("answer: got %q", after.Answer)
	}
	if after.Question != before.Question {
		t.Errorf("question text changed: %q -> %q", before.Question, after.Question)
	}
	if !reflect.DeepEqual(after.Embedding, before.Embedding) {
		t.Errorf("embedding changed: %v -> %v", before.Embedding, after.Embedding)
	}
	if after.EditedBy != "teacher-1" || !after.EditedAt.Equal(fixed) {
		t.Errorf("audit fields: %q at %v", after.EditedBy, after.EditedAt)
	}
}

func Test_Curator_FollowUpPath(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.addRoot("r1", "root", unit(0.8))
	store.addFollowUp("r1", "f1", "follow-up", unit(0.8))

	c := newTestCurator(t, store)
	if err := c.OverwriteAnswer(context.Background(), FollowUpRef("r1", "f1"), "fixed", "teacher-2"); err != nil {
		t.Fatalf("overwrite follow-up: %v", err)
	}

	got, _ := store.Get(context.Background(), FollowUpRef("r1", "f1"))
	if got.Answer != "fixed" {
		t.Errorf("follow-up answer: got %q", got.Answer)
	}
}

func Test_Curator_MissingRecord(t *testing.T) {
	t.Parallel()
	c := newTestCurator(t, newFakeStore())

	err := c.OverwriteAnswer(context.Background(), RootRef("deleted"), "x", "op")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}
