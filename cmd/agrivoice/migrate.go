package main

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/amruthjakku/AgriVoice/internal/config"
	"github.com/amruthjakku/AgriVoice/internal/interaction"
)

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the interactions schema (postgres and supabase backends)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if databaseURL == "" {
				databaseURL = cfg.DatabaseURL
			}
			if databaseURL == "" {
				return errors.New("migrate needs --database-url or DATABASE_URL")
			}
			if err := interaction.Migrate(cmd.Context(), databaseURL); err != nil {
				return err
			}
			log.Info().Msg("schema up to date")
			return nil
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string, e.g. the Supabase project database (default DATABASE_URL)")
	return cmd
}
