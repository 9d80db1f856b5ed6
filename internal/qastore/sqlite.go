// Package qastore provides implementations of the qa.Store contract: a
// SQLite-backed store for durable single-host deployments and an in-memory
// store for tests and ephemeral dev mode. Both stores validate records on
// read and fan out change notifications to subscribers so the admin view can
// stay live without polling.
package qastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/pollon-ai/pollon-go/internal/logging"
	"github.com/pollon-ai/pollon-go/internal/qa"
)

// SQLiteStore is a qa.Store backed by a local SQLite database. Root questions
// and follow-ups share one table; a NULL parent_id marks a root. Enumeration
// order is rowid order, which is insertion order.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// subs holds registered change subscribers keyed by registration id.
	subs map[int]func(qa.Change)
	// nextSub is the next subscriber registration id.
	nextSub int
	// subMu protects subs and nextSub.
	subMu sync.Mutex
}

// DefaultDBPath returns the default path for the question cache database.
// It resolves to ~/.pollon/questions.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("qastore: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".pollon")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("qastore: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "questions.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("qastore: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, subs: make(map[int]func(qa.Change))}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS questions (
    id         TEXT    NOT NULL,
    parent_id  TEXT,                -- NULL for root questions
    question   TEXT    NOT NULL,
    answer     TEXT    NOT NULL,
    embedding  TEXT    NOT NULL,    -- JSON array of floats
    created_at INTEGER NOT NULL,    -- Unix timestamp (seconds)
    edited_at  INTEGER,             -- NULL until first curation
    edited_by  TEXT,
    PRIMARY KEY (id)
);
CREATE INDEX IF NOT EXISTS idx_questions_parent ON questions (parent_id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("qastore: migrate: %w", err)
	}
	return nil
}

// Create appends q under parentID and returns the generated id.
// An empty parentID targets the root collection; otherwise parentID must name
// an existing root question.
func (s *SQLiteStore) Create(ctx context.Context, parentID string, q qa.Question) (string, error) {
	var parent any // NULL for roots
	if parentID != "" {
		if err := s.checkRoot(ctx, parentID); err != nil {
			return "", err
		}
		parent = parentID
	}

	emb, err := json.Marshal(q.Embedding)
	if err != nil {
		return "", fmt.Errorf("qastore: create: encode embedding: %w", err)
	}

	id := uuid.NewString()
	const ins = `INSERT INTO questions (id, parent_id, question, answer, embedding, created_at)
	             VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, ins, id, parent, q.Question, q.Answer, string(emb), time.Now().Unix()); err != nil {
		return "", fmt.Errorf("qastore: create: %w", err)
	}

	s.notify(qa.Change{Kind: qa.ChangeCreated, Ref: refFor(parentID, id)})
	return id, nil
}

// Get returns the question addressed by ref, or qa.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, ref qa.Ref) (qa.Question, error) {
	q := `SELECT id, question, answer, embedding, created_at, edited_at, edited_by
	      FROM questions WHERE id = ? AND parent_id IS NULL`
	args := []any{ref.RootID}
	if !ref.IsRoot() {
		q = `SELECT id, question, answer, embedding, created_at, edited_at, edited_by
		     FROM questions WHERE id = ? AND parent_id = ?`
		args = []any{ref.FollowUpID, ref.RootID}
	}

	row := s.db.QueryRowContext(ctx, q, args...)
	rec, err := scanQuestion(row)
	if err == sql.ErrNoRows {
		return qa.Question{}, qa.ErrNotFound
	}
	if err != nil {
		return qa.Question{}, err
	}
	return rec, nil
}

// List enumerates one collection in insertion order. An empty parentID lists
// the root collection; otherwise parentID must name an existing root.
func (s *SQLiteStore) List(ctx context.Context, parentID string) ([]qa.Question, error) {
	q := `SELECT id, question, answer, embedding, created_at, edited_at, edited_by
	      FROM questions WHERE parent_id IS NULL ORDER BY rowid`
	var args []any
	if parentID != "" {
		if err := s.checkRoot(ctx, parentID); err != nil {
			return nil, err
		}
		q = `SELECT id, question, answer, embedding, created_at, edited_at, edited_by
		     FROM questions WHERE parent_id = ? ORDER BY rowid`
		args = []any{parentID}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("qastore: list: %w", err)
	}
	defer rows.Close()

	log := logging.FromContext(ctx)

	var out []qa.Question
	for rows.Next() {
		rec, err := scanQuestion(rows)
		if errors.Is(err, qa.ErrCorruptRecord) {
			// One malformed record must not blank out the whole scope.
			log.Warn("qastore: skipping corrupt record in listing", slog.Any("error", err))
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("qastore: list rows: %w", err)
	}
	return out, nil
}

// OverwriteAnswer replaces only the answer and audit fields of the record at
// ref. Returns qa.ErrNotFound if the record is gone.
func (s *SQLiteStore) OverwriteAnswer(ctx context.Context, ref qa.Ref, answer, editorID string, editedAt time.Time) error {
	q := `UPDATE questions SET answer = ?, edited_at = ?, edited_by = ?
	      WHERE id = ? AND parent_id IS NULL`
	args := []any{answer, editedAt.Unix(), editorID, ref.RootID}
	if !ref.IsRoot() {
		q = `UPDATE questions SET answer = ?, edited_at = ?, edited_by = ?
		     WHERE id = ? AND parent_id = ?`
		args = []any{answer, editedAt.Unix(), editorID, ref.FollowUpID, ref.RootID}
	}

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("qastore: overwrite answer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("qastore: overwrite answer: rows affected: %w", err)
	}
	if n == 0 {
		return qa.ErrNotFound
	}

	s.notify(qa.Change{Kind: qa.ChangeAnswerEdited, Ref: ref})
	return nil
}

// Subscribe registers fn for change notifications until cancel is called.
func (s *SQLiteStore) Subscribe(fn func(qa.Change)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// Ping checks that the database file is still reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("qastore: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("qastore: close: %w", err)
	}
	return nil
}

// checkRoot verifies that id names an existing root question. Addressing a
// missing root, or a follow-up as if it were a root, is qa.ErrNotFound —
// the depth-one boundary (qa.MaxFollowUpDepth) is enforced at the store.
func (s *SQLiteStore) checkRoot(ctx context.Context, id string) error {
	var parent sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT parent_id FROM questions WHERE id = ?`, id).Scan(&parent)
	if err == sql.ErrNoRows {
		return qa.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("qastore: resolve parent %q: %w", id, err)
	}
	if parent.Valid {
		return qa.ErrNotFound
	}
	return nil
}

// notify delivers a change to all current subscribers.
func (s *SQLiteStore) notify(c qa.Change) {
	s.subMu.Lock()
	fns := make([]func(qa.Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// refFor builds the Ref for a record created under parentID.
func refFor(parentID, id string) qa.Ref {
	if parentID == "" {
		return qa.RootRef(id)
	}
	return qa.FollowUpRef(parentID, id)
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanQuestion.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanQuestion decodes one questions row into a validated qa.Question.
// A record that fails validation — empty question text or an undecodable or
// empty embedding — returns qa.ErrCorruptRecord so callers fail fast instead
// of propagating partial data into similarity math.
func scanQuestion(r rowScanner) (qa.Question, error) {
	var (
		rec      qa.Question
		emb      string
		created  int64
		editedAt sql.NullInt64
		editedBy sql.NullString
	)
	if err := r.Scan(&rec.ID, &rec.Question, &rec.Answer, &emb, &created, &editedAt, &editedBy); err != nil {
		if err == sql.ErrNoRows {
			return qa.Question{}, err
		}
		return qa.Question{}, fmt.Errorf("qastore: scan: %w", err)
	}

	if err := json.Unmarshal([]byte(emb), &rec.Embedding); err != nil {
		return qa.Question{}, fmt.Errorf("%w: id %s: embedding: %v", qa.ErrCorruptRecord, rec.ID, err)
	}
	if rec.Question == "" || len(rec.Embedding) == 0 {
		return qa.Question{}, fmt.Errorf("%w: id %s: missing question or embedding", qa.ErrCorruptRecord, rec.ID)
	}

	rec.CreatedAt = time.Unix(created, 0)
	if editedAt.Valid {
		rec.EditedAt = time.Unix(editedAt.Int64, 0)
	}
	if editedBy.Valid {
		rec.EditedBy = editedBy.String
	}
	return rec, nil
}
