package main

import (
	"LendLedger/internal/observability"
	"LendLedger/internal/persistence"

	"github.com/spf13/cobra"
)

func migrateCommand(load configLoader) *cobra.Command {
	c := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	run := func(up bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := requireDB(cfg); err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			log := observability.NewLogger("migrate")
			migrator := persistence.NewMigrator(db)
			if up {
				if err := migrator.Up(cmd.Context()); err != nil {
					return err
				}
				log.Info().Msg("all migrations applied")
				return nil
			}
			if err := migrator.Down(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("last migration rolled back")
			return nil
		}
	}

	c.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: run(true)},
		&cobra.Command{Use: "down", Short: "Roll back the last migration", Args: cobra.NoArgs, RunE: run(false)},
	)
	return c
}
