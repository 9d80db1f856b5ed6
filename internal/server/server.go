// Package server implements the HTTP server that exposes the chat sessions,
// the question cache and the curation API over REST/SSE.
// The server is started by the `pollon serve` CLI command.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pollon-ai/pollon-go/internal/logging"
)

// New constructs a Server from the provided collaborators and config.
func New(deps *Deps, cfg *Config) (*Server, error) {
	if deps == nil || deps.Sessions == nil || deps.Store == nil || deps.Curator == nil {
		return nil, fmt.Errorf("server: sessions, store and curator must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for long-lived SSE streams.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		sessions: deps.Sessions,
		store:    deps.Store,
		curator:  deps.Curator,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(reg),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		log.Warn("auth: POLLON_API_KEY not set — API authentication is disabled")
	}

	// chat routes are rate limited per IP; admin and lifecycle routes are not.
	chat := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, rl.middleware(h))
	}
	plain := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/sessions", plain("session_create", s.handleSessionCreate))
	mux.Handle("POST /api/sessions/{id}/messages", chat("session_message", s.handleSessionMessage))
	mux.Handle("POST /api/sessions/{id}/typing", chat("session_typing", s.handleSessionTyping))
	mux.Handle("POST /api/sessions/{id}/classification", plain("session_classify", s.handleSessionClassification))
	mux.Handle("GET /api/sessions/{id}/events", plain("session_events", s.handleSessionEvents))
	mux.Handle("DELETE /api/sessions/{id}", plain("session_delete", s.handleSessionDelete))

	mux.Handle("GET /api/questions", plain("questions_list", s.handleQuestionsList))
	mux.Handle("GET /api/questions/events", plain("questions_events", s.handleQuestionsEvents))
	mux.Handle("PUT /api/questions/{id}/answer", plain("question_curate", s.handleCurateRoot))
	mux.Handle("PUT /api/questions/{parent}/followups/{id}/answer", plain("followup_curate", s.handleCurateFollowUp))

	protected := authMiddleware(cfg.APIKey, mux)

	// Health, readiness and metrics stay outside auth so probes work
	// without credentials.
	outer := http.NewServeMux()
	outer.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	outer.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	outer.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	outer.Handle("/api/", protected)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, outer),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully assembled HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		fmt.Printf("pollon server listening on http://%s\n", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		s.sessions.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}
