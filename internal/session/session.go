// Package session implements the per-chat conversation state machine.
// A Session coordinates the embedding provider, the similarity search, the
// answer generator and the cache writer for one open chat view, and owns the
// inactivity timer that forces a follow-up/new-topic classification prompt.
//
// All durable state lives in the question store; a Session only carries the
// transient topic anchors and the visible transcript. Every state change is
// applied through a single dispatch entry point so the timer callback and the
// HTTP handlers cannot race on the session fields.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pollon-ai/pollon-go/internal/logging"
	"github.com/pollon-ai/pollon-go/internal/qa"
)

const (
	// DefaultInactivityDelay is how long a session may sit without a
	// keystroke or a delivered answer before the classification prompt
	// is sent.
	DefaultInactivityDelay = 10 * time.Second

	// Greeting is the assistant message shown when a chat view opens.
	Greeting = "Hi there! How can I assist you today?"

	// ClassificationPrompt is the system message delivered when the
	// inactivity timer fires with an empty input buffer.
	ClassificationPrompt = "Do you have any follow-up questions or a new topic to discuss?"
)

// Sentinel errors surfaced to the session owner.
var (
	// ErrClassificationPending is returned by Submit while a delivered
	// answer is waiting on its follow-up/new-topic classification. The
	// inactivity prompt closes the window, so submission always resumes.
	ErrClassificationPending = fmt.Errorf("session: classification pending, submission blocked")
	// ErrClosed is returned by operations on a torn-down session.
	ErrClosed = fmt.Errorf("session: closed")
)

// State enumerates the observable session states.
type State string

const (
	// StateIdle means no topic anchor is set; the next question searches
	// the root collection.
	StateIdle State = "idle"
	// StateTopicEstablished means a topic anchor is set; the next question
	// searches that root's follow-up collection.
	StateTopicEstablished State = "topic_established"
	// StateAwaitingClassification means an answer was delivered and the
	// user has not yet classified the next question; submission is blocked
	// until a classification arrives or the inactivity prompt fires.
	StateAwaitingClassification State = "awaiting_classification"
)

// Role identifies the speaker of a transcript entry.
type Role string

const (
	// RoleUser marks a student message.
	RoleUser Role = "user"
	// RoleAssistant marks an assistant message.
	RoleAssistant Role = "assistant"
)

// Turn is one visible transcript entry.
type Turn struct {
	// Role identifies the speaker.
	Role Role
	// Content is the message text.
	Content string
}

// Embedder converts a question into its embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces an answer from the visible transcript plus the current
// question.
type Generator interface {
	Complete(ctx context.Context, transcript []Turn, question string) (string, error)
}

// Writer persists a new question-answer pair with a dedupe guard. An empty
// returned id with a nil error means the write was skipped as a duplicate.
type Writer interface {
	StoreQuestion(ctx context.Context, questionText, answerText string, embedding []float32, parentID string) (string, error)
}

// Config holds the collaborators a Session needs. All fields except
// InactivityDelay are required.
type Config struct {
	// Embedder produces question embeddings.
	Embedder Embedder
	// Matcher runs the scoped similarity search.
	Matcher qa.Matcher
	// Writer persists unmatched question-answer pairs.
	Writer Writer
	// Generator answers cache misses.
	Generator Generator
	// InactivityDelay overrides DefaultInactivityDelay when positive.
	InactivityDelay time.Duration
}

// Answer is the outcome of one successfully processed turn.
type Answer struct {
	// Text is the answer shown to the student.
	Text string
	// QuestionID is the id of the matched or newly stored record. Empty
	// when a concurrent duplicate suppressed the write.
	QuestionID string
	// Cached is true when the answer came from the question cache.
	Cached bool
	// Deduped is true when a freshly generated pair was not stored because
	// the re-search found a concurrent duplicate.
	Deduped bool
}

// Session is the state machine for one open chat. All methods are safe for
// concurrent use; turn processing is serialized per session.
type Session struct {
	// id is the opaque session identifier.
	id string

	// embedder, matcher, writer, generator are the injected collaborators.
	embedder  Embedder
	matcher   qa.Matcher
	writer    Writer
	generator Generator

	// delay is the inactivity timer duration.
	delay time.Duration

	// turnMu serializes Submit calls so turn processing stays a strictly
	// sequential pipeline per session.
	turnMu sync.Mutex

	// mu guards every field below.
	mu sync.Mutex
	// mainQuestionID is the topic anchor (root question id), or empty.
	mainQuestionID string
	// recentQuestionID is the most recently matched/created record id.
	recentQuestionID string
	// expecting is true after an answer is delivered, until the user
	// classifies or the timer fires. Submit is blocked while it is set.
	expecting bool
	// buffer mirrors the user's input box so the timer can tell whether
	// text is pending when it fires.
	buffer string
	// transcript is the visible message history, greeting included.
	transcript []Turn
	// timer is the live single-shot inactivity timer, or nil.
	timer *time.Timer
	// closed marks a torn-down session.
	closed bool
	// events carries out-of-band system messages (the classification
	// prompt) to the owner; closed on teardown.
	events chan string
}

// New constructs a Session with the greeting already on the transcript.
// The inactivity timer is not armed until the first keystroke or answer.
func New(id string, cfg *Config) (*Session, error) {
	if cfg == nil || cfg.Embedder == nil || cfg.Matcher == nil || cfg.Writer == nil || cfg.Generator == nil {
		return nil, fmt.Errorf("session: embedder, matcher, writer and generator are required")
	}
	delay := cfg.InactivityDelay
	if delay <= 0 {
		delay = DefaultInactivityDelay
	}
	return &Session{
		id:         id,
		embedder:   cfg.Embedder,
		matcher:    cfg.Matcher,
		writer:     cfg.Writer,
		generator:  cfg.Generator,
		delay:      delay,
		transcript: []Turn{{Role: RoleAssistant, Content: Greeting}},
		events:     make(chan string, 4),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the channel carrying out-of-band system messages. The
// channel is closed when the session is.
func (s *Session) Events() <-chan string { return s.events }

// State reports the current observable state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.expecting:
		return StateAwaitingClassification
	case s.mainQuestionID != "":
		return StateTopicEstablished
	default:
		return StateIdle
	}
}

// Transcript returns a copy of the visible message history.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.transcript...)
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// eventKind enumerates the state-machine events.
type eventKind int

const (
	evKeystroke eventKind = iota
	evAnswerDelivered
	evTimerElapsed
	evClassifyFollowUp
	evClassifyNewTopic
	evClose
)

// event is one state-machine input. Only the fields relevant to its kind
// are set.
type event struct {
	kind eventKind
	// buffer is the current input box content (evKeystroke).
	buffer string
	// question and answer are the delivered turn texts (evAnswerDelivered).
	question string
	answer   string
	// questionID is the matched/created record id (evAnswerDelivered).
	questionID string
	// stored is true when questionID names a newly created record rather
	// than a cache hit (evAnswerDelivered).
	stored bool
}

// dispatch is the single state-update entry point. Every transition —
// whether triggered by an HTTP handler or by the timer callback — goes
// through here under the state lock.
func (s *Session) dispatch(ev event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	switch ev.kind {
	case evKeystroke:
		s.buffer = ev.buffer
		s.armTimerLocked()

	case evAnswerDelivered:
		s.transcript = append(s.transcript,
			Turn{Role: RoleUser, Content: ev.question},
			Turn{Role: RoleAssistant, Content: ev.answer},
		)
		if ev.questionID != "" {
			s.recentQuestionID = ev.questionID
			if ev.stored && s.mainQuestionID == "" {
				// Only the first unmatched question becomes the topic
				// anchor; a cache hit never moves it.
				s.mainQuestionID = ev.questionID
			}
		}
		s.expecting = true
		s.buffer = ""
		s.armTimerLocked()

	case evTimerElapsed:
		// A forced classification default, not a cancellation: the prompt
		// is delivered and the classification window closes, so submission
		// resumes. The timer is single-shot: it is only re-armed by a
		// later keystroke or answer, never by its own firing.
		if s.buffer != "" {
			return
		}
		s.recentQuestionID = ""
		s.expecting = false
		s.deliverLocked(ClassificationPrompt)

	case evClassifyFollowUp:
		// Topic anchor unchanged; subsequent turns keep searching its
		// follow-up collection.
		s.expecting = false

	case evClassifyNewTopic:
		s.mainQuestionID = ""
		s.recentQuestionID = ""
		s.expecting = false

	case evClose:
		s.closed = true
		s.stopTimerLocked()
		close(s.events)
	}
}

// armTimerLocked (re)arms the inactivity timer. Only one timer is ever live;
// re-arming cancels the previous one. Caller must hold mu.
func (s *Session) armTimerLocked() {
	s.stopTimerLocked()
	s.timer = time.AfterFunc(s.delay, s.timerElapsed)
}

// stopTimerLocked cancels the live timer, if any. Caller must hold mu.
func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// timerElapsed is the timer callback. It submits one well-defined event
// instead of mutating session fields directly.
func (s *Session) timerElapsed() {
	s.dispatch(event{kind: evTimerElapsed})
}

// deliverLocked pushes an out-of-band system message to the owner, appending
// it to the transcript as well. Delivery never blocks; if the owner is not
// draining the channel the message is dropped from the stream but stays on
// the transcript. Caller must hold mu.
func (s *Session) deliverLocked(msg string) {
	s.transcript = append(s.transcript, Turn{Role: RoleAssistant, Content: msg})
	select {
	case s.events <- msg:
	default:
	}
}

// ---------------------------------------------------------------------------
// Public operations
// ---------------------------------------------------------------------------

// Keystroke records the current input box content and re-arms the
// inactivity timer.
func (s *Session) Keystroke(buffer string) {
	s.dispatch(event{kind: evKeystroke, buffer: buffer})
}

// ClassifyFollowUp resolves the classification prompt: the next turn stays
// within the current topic's follow-up collection.
func (s *Session) ClassifyFollowUp() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	s.dispatch(event{kind: evClassifyFollowUp})
	return nil
}

// ClassifyNewTopic resolves the classification prompt: topic anchors are
// cleared and the next turn searches the root collection.
func (s *Session) ClassifyNewTopic() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	s.dispatch(event{kind: evClassifyNewTopic})
	return nil
}

// Close tears the session down: the timer is cancelled and the event
// channel is closed. Close is idempotent.
func (s *Session) Close() {
	s.dispatch(event{kind: evClose})
}

// Submit processes one user turn: embed, scoped search, and on a miss
// generate plus dedupe-write. While a delivered answer awaits its
// follow-up/new-topic classification Submit returns ErrClassificationPending;
// the window closes on classification or on the inactivity prompt. A provider
// or store failure abandons the turn with the session state intact so the
// user may retry.
func (s *Session) Submit(ctx context.Context, text string) (Answer, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Answer{}, ErrClosed
	}
	if s.expecting {
		s.mu.Unlock()
		return Answer{}, ErrClassificationPending
	}
	scope := s.mainQuestionID
	history := append([]Turn(nil), s.transcript...)
	s.mu.Unlock()

	log := logging.FromContext(ctx).With(slog.String("session_id", s.id))

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return Answer{}, fmt.Errorf("session: embed question: %w", err)
	}

	match, err := s.matcher.FindBestMatch(ctx, embedding, scope)
	if err != nil {
		return Answer{}, fmt.Errorf("session: search cache: %w", err)
	}

	var out Answer
	if match != nil {
		out = Answer{Text: match.Answer, QuestionID: match.ID, Cached: true}
		log.Debug("cache hit", slog.String("question_id", match.ID))
	} else {
		answer, err := s.generator.Complete(ctx, history, text)
		if err != nil {
			return Answer{}, fmt.Errorf("session: generate answer: %w", err)
		}
		id, err := s.writer.StoreQuestion(ctx, text, answer, embedding, scope)
		if err != nil {
			return Answer{}, fmt.Errorf("session: store answer: %w", err)
		}
		out = Answer{Text: answer, QuestionID: id, Deduped: id == ""}
		if out.Deduped {
			log.Debug("duplicate question, write skipped")
		}
	}

	s.dispatch(event{
		kind:       evAnswerDelivered,
		question:   text,
		answer:     out.Text,
		questionID: out.QuestionID,
		stored:     !out.Cached && out.QuestionID != "",
	})
	return out, nil
}
