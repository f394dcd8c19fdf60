package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	pgstore "posledger/backend/internal/store/postgres"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pg, err := pgstore.New(ctx, a.cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pg.Close()

			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			a.log.Info("schema applied")
			return nil
		},
	}
}
