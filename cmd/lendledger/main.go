package main

import (
	"LendLedger/internal/config"
	"LendLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "lendledger",
		Short:         "Collateralised lending ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	load := func() (config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, err
		}
		zerolog.SetGlobalLevel(observability.ParseLogLevel(cfg.LogLevel))
		return cfg, nil
	}

	root.AddCommand(serveCommand(load), migrateCommand(load), projectionsCommand(load))
	return root
}

type configLoader func() (config.Config, error)

// openDB opens and pings Postgres.
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func requireDB(cfg config.Config) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn (or LEND_POSTGRES_DSN) is required")
	}
	return nil
}
