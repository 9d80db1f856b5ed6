package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pollon-ai/pollon-go/internal/logging"
)

// NewQuestionsCmd constructs the `pollon questions` command, which prints the
// cached question tree: roots in insertion order, each with its follow-ups.
func NewQuestionsCmd() *cobra.Command {
	var showAnswers bool

	cmd := &cobra.Command{
		Use:   "questions",
		Short: "List the cached question tree",
		Long: `List every cached question: root questions in insertion order, each
followed by its follow-up questions.

Examples:
  pollon questions
  pollon questions --answers`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			store, err := openStore(log)
			if err != nil {
				return fmt.Errorf("questions: %w", err)
			}
			defer func() { _ = store.Close() }()

			roots, err := store.List(ctx, "")
			if err != nil {
				return fmt.Errorf("questions: %w", err)
			}
			if len(roots) == 0 {
				fmt.Println("the question cache is empty")
				return nil
			}

			for _, root := range roots {
				printQuestion(cmd, "", root.ID, root.Question, root.Answer, root.EditedBy, showAnswers)
				followups, err := store.List(ctx, root.ID)
				if err != nil {
					return fmt.Errorf("questions: follow-ups of %s: %w", root.ID, err)
				}
				for _, f := range followups {
					printQuestion(cmd, "  ", f.ID, f.Question, f.Answer, f.EditedBy, showAnswers)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showAnswers, "answers", false, "Print answers as well as questions")

	return cmd
}

// printQuestion prints one record at the given indent level.
func printQuestion(cmd *cobra.Command, indent, id, question, answer, editedBy string, showAnswer bool) {
	edited := ""
	if editedBy != "" {
		edited = fmt.Sprintf(" (curated by %s)", editedBy)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s%s  %s%s\n", indent, id, question, edited)
	if showAnswer {
		fmt.Fprintf(cmd.OutOrStdout(), "%s    %s\n", indent, answer)
	}
}
