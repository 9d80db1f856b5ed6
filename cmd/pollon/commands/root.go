// Package commands defines all Cobra CLI commands for the pollon binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/pollon-ai/pollon-go/internal/audit"
	"github.com/pollon-ai/pollon-go/internal/config"
	"github.com/pollon-ai/pollon-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pollon",
		Short: "Pollon — a classroom assistant with a semantic question cache",
		Long: `Pollon is a classroom chatbot backend. Student questions are answered
from a semantic cache when a similar question was already asked, and by the
configured language model otherwise; new answers are cached for the next
student. Teachers can review and curate every cached answer.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.pollon/config.yaml).
See 'pollon --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.pollon/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewCurateCmd(),
		NewQuestionsCmd(),
		NewVersionCmd(),
	)

	return root
}
