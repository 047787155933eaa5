package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LendLedger.
type Metrics struct {
	// --- Core ---
	CoreOpsApplied  *prometheus.CounterVec
	CoreOpsRejected *prometheus.CounterVec
	CoreOpDuration  *prometheus.HistogramVec
	CoreSequence    prometheus.Gauge
	Positions       prometheus.Gauge
	Liquidatable    prometheus.Gauge
	Price           prometheus.Gauge

	// --- Liquidation ---
	Liquidations         prometheus.Counter
	CollateralSeized     prometheus.Counter
	DebtCovered          prometheus.Counter
	CompensationFailures *prometheus.CounterVec

	// --- Channels ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Ingestion ---
	CommandsReceived  *prometheus.CounterVec
	CommandDuplicates *prometheus.CounterVec
	DedupLRUSize      prometheus.Gauge
	DedupTier2Errors  prometheus.Counter
	EventsPublished   *prometheus.CounterVec
	PublishErrors     prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionErrors    *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreOpsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_core_ops_applied_total",
			Help: "Ledger operations committed",
		}, []string{"op"}),

		CoreOpsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_core_ops_rejected_total",
			Help: "Ledger operations aborted, by error kind",
		}, []string{"op", "kind"}),

		CoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_core_op_duration_seconds",
			Help:    "Time to apply a single operation in core",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_core_sequence",
			Help: "Current global sequence number",
		}),

		Positions: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_positions",
			Help: "Accounts with a committed position",
		}),

		Liquidatable: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_liquidatable_positions",
			Help: "Positions with debt and health factor below 100 at the last scan",
		}),

		Price: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_price",
			Help: "Current base price in quote units",
		}),

		Liquidations: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_liquidations_total",
			Help: "Liquidations settled",
		}),

		CollateralSeized: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_collateral_seized_total",
			Help: "Base asset seized by liquidators (whole units)",
		}),

		DebtCovered: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_debt_covered_total",
			Help: "Quote debt repaid by liquidators (whole units)",
		}),

		CompensationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_compensation_failures_total",
			Help: "Reverse transfers that failed after an aborted operation",
		}, []string{"op"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		CommandsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_commands_received_total",
			Help: "Commands received from NATS, by outcome",
		}, []string{"op", "outcome"}),

		CommandDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_command_duplicates_total",
			Help: "Duplicate commands caught (lru/postgres)",
		}, []string{"tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_events_published_total",
			Help: "Events published to NATS",
		}, []string{"event_type"}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_publish_errors_total",
			Help: "NATS publish failures",
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ProjectionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_projection_errors_total",
			Help: "Projection update failures",
		}, []string{"projection"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_query_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"route"}),
	}
}

// SetChannelMetrics updates channel occupancy metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}
