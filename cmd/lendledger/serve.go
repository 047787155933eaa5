package main

import (
	"LendLedger/internal/config"
	"LendLedger/internal/core"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/persistence"
	"LendLedger/internal/projection"
	"LendLedger/internal/query"
	"LendLedger/internal/server"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger with its HTTP, gRPC, NATS and Postgres surfaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	log := observability.NewLogger("main")
	log.Info().Msg("LendLedger starting")

	ledgerAddr, err := cfg.Ledger.LedgerAddress()
	if err != nil {
		return err
	}
	price, err := cfg.Ledger.Price()
	if err != nil {
		return err
	}
	liquidity, err := cfg.Ledger.Liquidity()
	if err != nil {
		return err
	}

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	defer healthChecker.Shutdown()

	// --- Postgres ---
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = openDB(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		log.Info().Msg("Postgres connected")

		if err := persistence.NewMigrator(db).Up(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	} else {
		log.Warn().Msg("no postgres_dsn: event log, projections and durable dedup disabled")
	}

	// --- NATS ---
	var js jetstream.JetStream
	if cfg.NATSURL != "" {
		nc, stream, err := ingestion.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(ctx, stream); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		js = stream
	} else {
		log.Warn().Msg("no nats_url: command ingestion and outbound events disabled")
	}

	// --- Channels ---
	// persist blocks (backpressure), publish and its fan-out drop when full
	var persistChan chan core.CoreOutput
	if db != nil {
		persistChan = make(chan core.CoreOutput, cfg.Channels.PersistSize)
	}
	var publishChan, projectionChan, outboundChan chan core.CoreOutput
	if db != nil || js != nil {
		publishChan = make(chan core.CoreOutput, cfg.Channels.PublishSize)
	}
	if db != nil {
		projectionChan = make(chan core.CoreOutput, cfg.Channels.ProjectionSize)
	}
	if js != nil {
		outboundChan = make(chan core.CoreOutput, cfg.Channels.PublishSize)
	}

	// --- Tokens + engine ---
	base := ledger.NewToken(ledger.AssetBase, cfg.Ledger.BaseSymbol)
	quote := ledger.NewToken(ledger.AssetQuote, cfg.Ledger.QuoteSymbol)

	engine, err := core.NewEngine(core.EngineConfig{
		LedgerAddress: ledgerAddr,
		InitialPrice:  price,
		RiskParams:    cfg.Ledger.RiskParams(),
	}, base.Bind(ledgerAddr), quote.Bind(ledgerAddr), persistChan, publishChan, metrics)
	if err != nil {
		return err
	}

	// --- Recovery ---
	if db != nil {
		replayed, err := persistence.ReplayEventLog(ctx, persistence.NewEventLogReader(db), engine)
		if err != nil {
			return fmt.Errorf("event log replay: %w", err)
		}
		if replayed > 0 {
			log.Info().Int64("events", replayed).Int64("sequence", engine.Sequence()).Msg("state restored from event log")
		}
		if restored := engine.Price(); !restored.Eq(price) {
			log.Warn().
				Str("configured", price.Dec()).
				Str("restored", restored.Dec()).
				Msg("initial_price ignored: using the price from the event log")
		}
	}
	if err := seedLedger(engine, base, quote, ledgerAddr, liquidity); err != nil {
		return err
	}

	// --- Dedup ---
	var durable ingestion.DurableChecker
	if db != nil {
		durable = persistence.NewPostgresCommandChecker(db)
	}
	dedup, err := ingestion.NewDeduplicator(cfg.Dedup.LRUCapacity, durable, metrics)
	if err != nil {
		return err
	}
	if db != nil && cfg.Dedup.WarmCount > 0 {
		ids, err := persistence.NewPostgresCommandChecker(db).RecentCommandIDs(ctx, cfg.Dedup.WarmCount)
		if err != nil {
			log.Warn().Err(err).Msg("dedup warm-up failed")
		} else {
			dedup.Warm(ids)
			log.Info().Int("commands", len(ids)).Msg("dedup LRU warmed")
		}
	}

	// --- API ---
	qs := query.NewQueryService(engine, base, quote, db)
	srv, err := server.New(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		Engine:  engine,
		Query:   qs,
		Tokens:  query.NewTokenService(qs, cfg.Ledger.Faucet),
		Health:  healthChecker,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	// --- NATS consumer ---
	var rawChan chan ingestion.RawMessage
	if js != nil {
		rawChan = make(chan ingestion.RawMessage, cfg.Channels.CommandSize)
		subscriber := ingestion.NewNATSSubscriber(js, rawChan)
		if err := subscriber.Subscribe(ctx); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer subscriber.Stop()
	}

	// --- Start goroutines ---
	g, gctx := errgroup.WithContext(ctx)

	if db != nil {
		persistWorker := persistence.NewPersistenceWorker(
			persistence.NewEventLogWriter(db, metrics), persistChan,
			cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout, metrics)
		g.Go(func() error { return ignoreCanceled(persistWorker.Run(gctx)) })

		projWorker := projection.NewProjectionWorker(db, projectionChan, cfg.Ledger.RiskParams(), engine.Price(), metrics)
		g.Go(func() error { return ignoreCanceled(projWorker.Run(gctx)) })
	}

	if publishChan != nil {
		g.Go(func() error {
			fanOut(gctx, publishChan, metrics, projectionChan, outboundChan)
			return nil
		})
	}

	if js != nil {
		publisher := ingestion.NewOutboundPublisher(js, outboundChan, metrics)
		g.Go(func() error { return ignoreCanceled(publisher.Run(gctx)) })

		dispatcher := ingestion.NewDispatcher(engine, dedup, metrics)
		g.Go(func() error { return ignoreCanceled(dispatcher.Run(gctx, rawChan)) })
	}

	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTP(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, log) })
	g.Go(func() error {
		reportChannels(gctx, metrics, map[string]chan core.CoreOutput{
			"persist":    persistChan,
			"publish":    publishChan,
			"projection": projectionChan,
			"outbound":   outboundChan,
		})
		return nil
	})

	// Mark service as ready after all goroutines started
	healthChecker.SetReady(true)
	log.Info().
		Int64("sequence", engine.Sequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("LendLedger ready")

	err = g.Wait()
	healthChecker.SetReady(false)
	if err != nil {
		log.Error().Err(err).Msg("shutdown after failure")
		return err
	}
	log.Info().Int64("sequence", engine.Sequence()).Msg("LendLedger shutdown complete")
	return nil
}

// seedLedger mints the ledger's token holdings. Collateral it already
// holds in restored positions is minted back to it, and quote liquidity is
// reduced by outstanding debt.
func seedLedger(engine *core.Engine, base, quote *ledger.Token, ledgerAddr common.Address, liquidity *uint256.Int) error {
	stats := engine.Stats()
	if err := base.Mint(ledgerAddr, stats.TotalCollateral); err != nil {
		return fmt.Errorf("mint base collateral: %w", err)
	}
	available := new(uint256.Int)
	if liquidity.Gt(stats.TotalDebt) {
		available.Sub(liquidity, stats.TotalDebt)
	}
	if err := quote.Mint(ledgerAddr, available); err != nil {
		return fmt.Errorf("mint quote liquidity: %w", err)
	}
	return nil
}

// fanOut copies every published output to each non-nil destination and
// drops it for destinations that are full.
func fanOut(ctx context.Context, in <-chan core.CoreOutput, metrics *observability.Metrics, outs ...chan core.CoreOutput) {
	for {
		select {
		case <-ctx.Done():
			return
		case output, ok := <-in:
			if !ok {
				return
			}
			for _, out := range outs {
				if out == nil {
					continue
				}
				select {
				case out <- output:
				default:
					metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func reportChannels(ctx context.Context, metrics *observability.Metrics, chans map[string]chan core.CoreOutput) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, ch := range chans {
				if ch != nil {
					metrics.SetChannelMetrics(name, len(ch), cap(ch))
				}
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
