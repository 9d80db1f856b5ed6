package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pollon-ai/pollon-go/internal/embedder"
	"github.com/pollon-ai/pollon-go/internal/logging"
	"github.com/pollon-ai/pollon-go/internal/provider"
	"github.com/pollon-ai/pollon-go/internal/qa"
)

// NewAskCmd constructs the `pollon ask` command: a one-shot question against
// the cache, falling back to the model on a miss. Generated answers are
// cached so the CLI can be used to pre-seed the classroom cache.
func NewAskCmd() *cobra.Command {
	var noStore bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against the cache, generating on a miss",
		Long: `Ask a single question. The semantic cache is searched first; on a miss the
configured model answers and the new pair is cached for future students.

Examples:
  pollon ask "What is photosynthesis?"
  pollon ask --no-store "What is osmosis?"
  MODEL_PROVIDER=azure pollon ask "Why is the sky blue?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("ask: question must not be empty")
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ask: failed to initialise embedder: %w", err)
			}

			store, err := openStore(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = store.Close() }()

			searcher, err := qa.NewSearcher(store)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			embedding, err := emb.Embed(ctx, question)
			if err != nil {
				return fmt.Errorf("ask: failed to embed question: %w", err)
			}

			match, err := searcher.FindBestMatch(ctx, embedding, "")
			if err != nil {
				return fmt.Errorf("ask: cache search failed: %w", err)
			}
			if match != nil {
				fmt.Println(match.Answer)
				fmt.Fprintf(cmd.ErrOrStderr(), "(cached answer, question %s)\n", match.ID)
				return nil
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}
			gen, err := provider.NewGenerator(chatModel)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			answer, err := gen.Complete(ctx, nil, question)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Println(answer)

			if noStore {
				return nil
			}
			writer, err := qa.NewCacheWriter(store, searcher)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			id, err := writer.StoreQuestion(ctx, question, answer, embedding, "")
			if err != nil {
				return fmt.Errorf("ask: failed to cache answer: %w", err)
			}
			if id != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "(cached as question %s)\n", id)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not cache the generated answer")

	return cmd
}
