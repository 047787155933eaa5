package main

import (
	"LendLedger/internal/observability"
	"LendLedger/internal/persistence"
	"LendLedger/internal/projection"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func projectionsCommand(load configLoader) *cobra.Command {
	c := &cobra.Command{
		Use:   "projections",
		Short: "Manage read-model projections",
	}

	c.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Truncate projections and rebuild them from the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := requireDB(cfg); err != nil {
				return err
			}
			price, err := cfg.Ledger.Price()
			if err != nil {
				return err
			}

			db, err := openDB(cmd.Context(), cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			worker := projection.NewProjectionWorker(db, nil, cfg.Ledger.RiskParams(), price,
				observability.NewMetrics(prometheus.NewRegistry()))
			n, err := worker.Rebuild(cmd.Context(), persistence.NewEventLogReader(db))
			if err != nil {
				return err
			}

			log := observability.NewLogger("projections")
			log.Info().Int64("events", n).Int64("last_sequence", worker.LastSequence()).Msg("projections rebuilt")
			return nil
		},
	})
	return c
}
