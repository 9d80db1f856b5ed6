package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pollon-ai/pollon-go/internal/qa"
	"github.com/pollon-ai/pollon-go/internal/session"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives all server metrics. If nil a private registry is
	// created; tests inject their own to stay hermetic.
	Registry *prometheus.Registry
}

// Deps holds the collaborators the handlers operate on.
type Deps struct {
	// Sessions owns the live chat sessions.
	Sessions *session.Manager
	// Store is the question store backing the admin views.
	Store qa.Store
	// Curator applies answer overwrites.
	Curator *qa.Curator
}

// Server is the HTTP server exposing the chat and curation API.
type Server struct {
	// sessions owns the live chat sessions.
	sessions *session.Manager
	// store is the question store backing the admin views.
	store qa.Store
	// curator applies answer overwrites.
	curator *qa.Curator
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// createSessionResponse is the JSON response for POST /api/sessions.
type createSessionResponse struct {
	// ID is the new session identifier.
	ID string `json:"id"`
	// Greeting is the opening assistant message.
	Greeting string `json:"greeting"`
}

// messageRequest is the JSON body for POST /api/sessions/{id}/messages.
type messageRequest struct {
	// Message is the student's question text.
	Message string `json:"message"`
}

// messageResponse is the JSON response for POST /api/sessions/{id}/messages.
type messageResponse struct {
	// Answer is the text shown to the student.
	Answer string `json:"answer"`
	// QuestionID is the matched or newly stored record id. Empty when a
	// concurrent duplicate suppressed the write.
	QuestionID string `json:"questionId,omitempty"`
	// Cached is true when the answer came from the question cache.
	Cached bool `json:"cached"`
}

// typingRequest is the JSON body for POST /api/sessions/{id}/typing.
type typingRequest struct {
	// Buffer is the current content of the student's input box.
	Buffer string `json:"buffer"`
}

// classificationRequest is the JSON body for POST /api/sessions/{id}/classification.
type classificationRequest struct {
	// Kind is "follow_up" or "new_topic".
	Kind string `json:"kind"`
}

// questionNode is one record in the GET /api/questions tree.
type questionNode struct {
	// ID is the record id.
	ID string `json:"id"`
	// Question is the original user utterance.
	Question string `json:"question"`
	// Answer is the current answer text.
	Answer string `json:"answer"`
	// CreatedAt is the insertion time.
	CreatedAt time.Time `json:"createdAt"`
	// EditedAt is the last curation time, omitted when never edited.
	EditedAt *time.Time `json:"editedAt,omitempty"`
	// EditedBy is the last curator's actor id, omitted when never edited.
	EditedBy string `json:"editedBy,omitempty"`
	// FollowUps is the ordered follow-up collection (roots only).
	FollowUps []questionNode `json:"followUps,omitempty"`
}

// curationRequest is the JSON body for the answer overwrite endpoints.
type curationRequest struct {
	// Answer is the replacement answer text.
	Answer string `json:"answer"`
}

// changeEvent is the JSON payload of one GET /api/questions/events frame.
type changeEvent struct {
	// Kind is "created" or "answer_edited".
	Kind string `json:"kind"`
	// RootID is the root record id of the change.
	RootID string `json:"rootId"`
	// FollowUpID is set when the change targets a follow-up.
	FollowUpID string `json:"followUpId,omitempty"`
}
