package server

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pollon-ai/pollon-go/internal/qa"
	"github.com/pollon-ai/pollon-go/internal/qastore"
	"github.com/pollon-ai/pollon-go/internal/session"
)

// ---------------------------------------------------------------------------
// Fakes shared across the server tests
// ---------------------------------------------------------------------------

// fakeEmbedder maps exact question texts to fixed vectors. Unknown texts get
// a default vector so every submission embeds to something.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 1}, nil
}

// fakeGenerator returns a canned answer and counts invocations.
type fakeGenerator struct {
	answer string
	err    error
	calls  int
}

func (f *fakeGenerator) Complete(_ context.Context, _ []session.Turn, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

// testHarness bundles a fully wired Server with the fakes and the store
// behind it, so tests can both drive the HTTP surface and inspect state.
type testHarness struct {
	*Server
	store    *qastore.MemoryStore
	embedder *fakeEmbedder
	gen      *fakeGenerator
	registry *prometheus.Registry
}

// newTestHarness wires a Server over an in-memory store, fake providers and a
// private metrics registry. The inactivity delay is effectively infinite so
// timers never fire unless a test opts in via cfg mutation before use.
func newTestHarness(mutate func(*session.Config, *Config)) *testHarness {
	store := qastore.NewMemoryStore()
	searcher, _ := qa.NewSearcher(store)
	writer, _ := qa.NewCacheWriter(store, searcher)
	curator, _ := qa.NewCurator(store)

	emb := &fakeEmbedder{vectors: make(map[string][]float32)}
	gen := &fakeGenerator{answer: "generated answer"}

	sessCfg := &session.Config{
		Embedder:        emb,
		Matcher:         searcher,
		Writer:          writer,
		Generator:       gen,
		InactivityDelay: 24 * time.Hour, // far beyond any test run
	}
	reg := prometheus.NewRegistry()
	srvCfg := &Config{Registry: reg}
	if mutate != nil {
		mutate(sessCfg, srvCfg)
	}

	mgr, _ := session.NewManager(sessCfg)
	srv, _ := New(&Deps{Sessions: mgr, Store: store, Curator: curator}, srvCfg)

	return &testHarness{Server: srv, store: store, embedder: emb, gen: gen, registry: reg}
}

// newTestServer returns a bare wired Server for tests that only poke
// individual handlers.
func newTestServer() *Server {
	return newTestHarness(nil).Server
}
