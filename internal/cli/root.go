package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"gamepulse/internal/logger"
)

// NewRootCmd creates the gamepulse command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gamepulse",
		Short: "GamePulse live athlete telemetry service",
		Long: `gamepulse runs the live telemetry API and provides the provisioning
commands operators need: schema migration, password hashing and coach
accounts.

Configuration is read from the environment (and an optional .env file).`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Logs go to stderr so command output stays pipeable; serve
			// replaces this once its config is loaded.
			slog.SetDefault(logger.New(cmd.ErrOrStderr(), os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newHashPasswordCmd())
	rootCmd.AddCommand(newUserCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
