package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pollon-ai/pollon-go/internal/session"
)

// doJSON runs one request with a JSON body through the full handler chain.
func doJSON(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// createSession opens a session through the HTTP surface and returns its id.
func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	w := doJSON(h, http.MethodPost, "/api/sessions", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp createSessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("create session: decode: %v", err)
	}
	if resp.ID == "" {
		t.Fatal("create session: empty id")
	}
	return resp.ID
}

func Test_Server_SessionCreate(t *testing.T) {
	t.Parallel()
	h := newTestHarness(nil)

	w := doJSON(h.Handler(), http.MethodPost, "/api/sessions", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var resp createSessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Greeting != session.Greeting {
		t.Errorf("greeting: expected %q, got %q", session.Greeting, resp.Greeting)
	}
}

// Test_Server_MessageMissThenHit drives the full turn pipeline: the first
// session's question misses and is generated plus stored; a second session
// asking the same question is answered from the cache without touching the
// generator again.
func Test_Server_MessageMissThenHit(t *testing.T) {
	t.Parallel()
	h := newTestHarness(nil)
	handler := h.Handler()

	first := createSession(t, handler)
	w := doJSON(handler, http.MethodPost, "/api/sessions/"+first+"/messages",
		`{"message":"What is photosynthesis?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("first turn: expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var miss messageResponse
	if err := json.NewDecoder(w.Body).Decode(&miss); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if miss.Cached {
		t.Error("first turn: expected a cache miss")
	}
	if miss.Answer != "generated answer" {
		t.Errorf("first turn: unexpected answer %q", miss.Answer)
	}
	if miss.QuestionID == "" {
		t.Fatal("first turn: expected a stored question id")
	}

	second := createSession(t, handler)
	w = doJSON(handler, http.MethodPost, "/api/sessions/"+second+"/messages",
		`{"message":"What is photosynthesis?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("second turn: expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var hit messageResponse
	if err := json.NewDecoder(w.Body).Decode(&hit); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !hit.Cached {
		t.Error("second turn: expected a cache hit")
	}
	if hit.QuestionID != miss.QuestionID {
		t.Errorf("second turn: expected the stored id %s, got %s", miss.QuestionID, hit.QuestionID)
	}
	if h.gen.calls != 1 {
		t.Errorf("generator: expected 1 call, got %d", h.gen.calls)
	}
}

func Test_Server_MessageGeneratorFailure(t *testing.T) {
	t.Parallel()
	h := newTestHarness(nil)
	h.gen.err = errors.New("model unavailable")
	handler := h.Handler()

	id := createSession(t, handler)
	w := doJSON(handler, http.MethodPost, "/api/sessions/"+id+"/messages",
		`{"message":"What is photosynthesis?"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	// The turn was abandoned, so nothing was stored and a retry after the
	// provider recovers works normally.
	h.gen.err = nil
	w = doJSON(handler, http.MethodPost, "/api/sessions/"+id+"/messages",
		`{"message":"What is photosynthesis?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp messageResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Cached {
		t.Error("retry: expected a miss, the failed turn must not have stored anything")
	}
}

func Test_Server_MessageValidation(t *testing.T) {
	t.Parallel()
	h := newTestHarness(nil)
	handler := h.Handler()

	id := createSession(t, handler)

	w := doJSON(handler, http.MethodPost, "/api/sessions/"+id+"/messages", `{"message":""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty message: expected 400, got %d", w.Code)
	}

	w = doJSON(handler, http.MethodPost, "/api/sessions/"+id+"/messages", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", w.Code)
	}

	w = doJSON(handler, http.MethodPost, "/api/sessions/no-such-id/messages",
		`{"message":"hello"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", w.Code)
	}
}

func Test_Server_TypingAndClassification(t *testing.T) {
	t.Parallel()
	h := newTestHarness(nil)
	handler := h.Handler()

	id := createSession(t, handler)

	w := doJSON(handler, http.MethodPost, "/api/sessions/"+id+"/typing", `{"buffer":"What is"}`)
	if w.Code != http.StatusNoContent {
		t.Errorf("typing: expected 204, got %d", w.Code)
	}

	w = doJSON(handler, http.MethodPost, "/api/sessions/"+id+"/classification", `{"kind":"maybe"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad kind: expected 400, got %d", w.Code)
	}

	w = doJSON(handler, http.MethodPost, "/api/sessions/"+id+"/classification", `{"kind":"follow_up"}`)
	if w.Code != http.StatusNoContent {
		t.Errorf("follow_up: expected 204, got %d", w.Code)
	}

	w = doJSON(handler, http.MethodPost, "/api/sessions/"+id+"/classification", `{"kind":"new_topic"}`)
	if w.Code != http.StatusNoContent {
		t.Errorf("new_topic: expected 204, got %d", w.Code)
	}
}

func Test_Server_SessionDelete(t *testing.T) {
	t.Parallel()
	h := newTestHarness(nil)
	handler := h.Handler()

	id := createSession(t, handler)

	w := doJSON(handler, http.MethodDelete, "/api/sessions/"+id, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}

	w = doJSON(handler, http.MethodDelete, "/api/sessions/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}

	w = doJSON(handler, http.MethodPost, "/api/sessions/"+id+"/messages", `{"message":"hi"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("message to deleted session: expected 404, got %d", w.Code)
	}
}

// Test_Server_SessionEventsDeliversPrompt opens the SSE stream, lets a short
// inactivity timer fire with an empty input buffer, and expects the
// classification prompt on the wire.
func Test_Server_SessionEventsDeliversPrompt(t *testing.T) {
	t.Parallel()
	h := newTestHarness(func(sc *session.Config, _ *Config) {
		sc.InactivityDelay = 20 * time.Millisecond
	})

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	id := createSession(t, h.Handler())

	resp, err := http.Get(srv.URL + "/api/sessions/" + id + "/events")
	if err != nil {
		t.Fatalf("open event stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type: expected text/event-stream, got %q", ct)
	}

	// An empty keystroke arms the timer without pending text.
	w := doJSON(h.Handler(), http.MethodPost, "/api/sessions/"+id+"/typing", `{"buffer":""}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("typing: expected 204, got %d", w.Code)
	}

	frame := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				frame <- strings.TrimPrefix(line, "data: ")
				return
			}
		}
	}()

	select {
	case data := <-frame:
		if data != session.ClassificationPrompt {
			t.Errorf("expected classification prompt, got %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the classification prompt frame")
	}
}
