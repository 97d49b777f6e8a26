package main

import (
	"context"
	"errors"

	"github.com/and161185/idcore/internal/migrate"
	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command tree.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}
	cmd.AddCommand(
		migrateStep("up", "Apply all pending migrations", migrate.Up),
		migrateStep("down", "Roll back the latest migration", migrate.Down),
		migrateStep("status", "Print migration status", migrate.Status),
	)
	return cmd
}

func migrateStep(use, short string, fn func(ctx context.Context, dsn string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errors.New("database.dsn is required")
			}
			if err := fn(cmd.Context(), cfg.Database.DSN); err != nil {
				return err
			}
			cmd.Printf("migrate %s: done\n", use)
			return nil
		},
	}
}
