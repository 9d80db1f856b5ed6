package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pollon-ai/pollon-go/internal/logging"
	"github.com/pollon-ai/pollon-go/internal/qa"
)

// NewCurateCmd constructs the `pollon curate` command, which overwrites the
// answer of one cached question in place. The question text and its embedding
// are never touched.
func NewCurateCmd() *cobra.Command {
	var parent string
	var answer string
	var actor string

	cmd := &cobra.Command{
		Use:   "curate [question-id]",
		Short: "Overwrite the answer of a cached question",
		Long: `Overwrite the answer of a cached question. The replacement answer comes
from --answer or from stdin. Follow-ups are addressed with --parent.

The actor id is recorded on the record for audit.

Examples:
  pollon curate 7f3a... --actor teacher-7 --answer "A clearer explanation."
  cat better-answer.txt | pollon curate 7f3a... --actor teacher-7
  pollon curate 91bc... --parent 7f3a... --actor teacher-7 --answer "..."`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if actor == "" {
				return fmt.Errorf("curate: --actor is required for the audit trail")
			}

			newAnswer := answer
			if newAnswer == "" {
				stat, err := os.Stdin.Stat()
				if err != nil {
					return fmt.Errorf("curate: failed to stat stdin: %w", err)
				}
				if (stat.Mode() & os.ModeCharDevice) == 0 {
					data, err := io.ReadAll(os.Stdin)
					if err != nil {
						return fmt.Errorf("curate: failed to read stdin: %w", err)
					}
					newAnswer = strings.TrimSpace(string(data))
				}
			}
			if newAnswer == "" {
				return fmt.Errorf("curate: provide --answer or pipe the replacement answer via stdin")
			}

			store, err := openStore(log)
			if err != nil {
				return fmt.Errorf("curate: %w", err)
			}
			defer func() { _ = store.Close() }()

			curator, err := qa.NewCurator(store)
			if err != nil {
				return fmt.Errorf("curate: %w", err)
			}

			ref := qa.RootRef(args[0])
			if parent != "" {
				ref = qa.FollowUpRef(parent, args[0])
			}
			if err := curator.OverwriteAnswer(ctx, ref, newAnswer, actor); err != nil {
				return fmt.Errorf("curate: %w", err)
			}

			fmt.Println("answer updated")
			return nil
		},
	}

	cmd.Flags().StringVar(&parent, "parent", "", "Root question id when curating a follow-up")
	cmd.Flags().StringVar(&answer, "answer", "", "Replacement answer text (stdin is used when omitted)")
	cmd.Flags().StringVar(&actor, "actor", "", "Actor id recorded on the edit (required)")

	return cmd
}
