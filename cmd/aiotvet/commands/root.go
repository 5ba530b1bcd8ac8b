// Package commands defines the Cobra CLI commands for the aiotvet binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/aiotvet-go/internal/audit"
	"github.com/54b3r/aiotvet-go/internal/config"
	"github.com/54b3r/aiotvet-go/internal/logging"
)

// configPath holds the --config flag value.
var configPath string

// NewRootCmd constructs the root command all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aiotvet",
		Short: "AiOtvet: knowledge-grounded customer support with operator handoff",
		Long: `AiOtvet answers customer messages from a company knowledge base and hands
dialogs it cannot answer confidently to human operators.

Configuration is read from the environment, an optional .env file and an
optional YAML file (~/.aiotvet/config.yaml). Environment variables win.
See 'aiotvet --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			// Rebuild the logger: LOG_LEVEL and LOG_FORMAT may come from YAML.
			log = logging.New()
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(cmd.Context(), log, cmd.CommandPath(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.aiotvet/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewKBCmd(),
		NewAskCmd(),
		NewOperatorCmd(),
		NewVersionCmd(),
	)
	return root
}
