package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/pollon-ai/pollon-go/internal/embedder"
	"github.com/pollon-ai/pollon-go/internal/logging"
	"github.com/pollon-ai/pollon-go/internal/provider"
	"github.com/pollon-ai/pollon-go/internal/qa"
	"github.com/pollon-ai/pollon-go/internal/qaindex"
	"github.com/pollon-ai/pollon-go/internal/server"
	"github.com/pollon-ai/pollon-go/internal/session"
	"github.com/pollon-ai/pollon-go/internal/tracing"
)

// NewServeCmd constructs the `pollon serve` command, which starts the HTTP
// server exposing the chat and curation API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Pollon HTTP server",
		Long: `Start the Pollon HTTP server on localhost.

The server exposes a REST/SSE API: chat sessions for students, the cached
question tree and answer curation for teachers, plus health, readiness, and
Prometheus metrics endpoints.

Examples:
  pollon serve
  pollon serve --port 9090
  MODEL_PROVIDER=azure pollon serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			gen, err := provider.NewGenerator(chatModel)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			store, err := openStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = store.Close() }()

			searcher, err := qa.NewSearcher(store)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			// The linear scan is the default matcher; a Qdrant index replaces
			// it when QDRANT_HOST is set.
			var matcher qa.Matcher = searcher
			var index *qaindex.Index
			if qaindex.Enabled() {
				index, err = qaindex.New(ctx, qaindex.ConfigFromEnv(embeddingDimensions()), store)
				if err != nil {
					return fmt.Errorf("serve: failed to initialise qdrant index: %w", err)
				}
				defer func() { _ = index.Close() }()
				matcher = index
				log.Info("qdrant similarity index enabled")
			}

			writer, err := qa.NewCacheWriter(store, matcher)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			curator, err := qa.NewCurator(store)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			sessions, err := session.NewManager(&session.Config{
				Embedder:  emb,
				Matcher:   matcher,
				Writer:    writer,
				Generator: &chatGenerator{gen: gen},
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pingers := []server.Pinger{
				server.NewEmbedderPinger(emb, embeddingBackend()),
				server.NewModelPinger(chatModel, string(providerCfg.Backend)),
			}
			if p, ok := store.(interface {
				Ping(ctx context.Context) error
			}); ok {
				pingers = append(pingers, server.NewStorePinger(p))
			}
			if index != nil {
				pingers = append(pingers, server.NewQdrantPinger(index.Client()))
			}

			srv, err := server.New(
				&server.Deps{Sessions: sessions, Store: store, Curator: curator},
				&server.Config{
					Host:    host,
					Port:    port,
					Logger:  log,
					Pingers: pingers,
					APIKey:  os.Getenv("POLLON_API_KEY"),
				},
			)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
