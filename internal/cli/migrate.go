package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gamepulse/internal/config"
	"gamepulse/internal/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema if it is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.EnsureSchema(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}
}

func openDatabase(cmd *cobra.Command) (*database.DB, error) {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return nil, err
	}

	return database.New(cmd.Context(), cfg.URL, cfg.MaxConns, cfg.MinConns)
}
