package config

import (
	"LendLedger/internal/state"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Values are resolved as
// defaults, then the optional YAML file, then LEND_* environment variables.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	// Empty disables persistence, projections and durable dedup.
	PostgresDSN string `yaml:"postgres_dsn"`
	// Empty disables command ingestion and outbound events.
	NATSURL string `yaml:"nats_url"`

	Channels    ChannelConfig     `yaml:"channels"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Ledger      LedgerConfig      `yaml:"ledger"`
}

type ChannelConfig struct {
	PersistSize    int `yaml:"persist_size"`
	PublishSize    int `yaml:"publish_size"`
	ProjectionSize int `yaml:"projection_size"`
	CommandSize    int `yaml:"command_size"`
}

type PersistenceConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

type DedupConfig struct {
	LRUCapacity int `yaml:"lru_capacity"`
	// Command ids loaded from the event log into the LRU at boot.
	WarmCount int `yaml:"warm_count"`
}

// LedgerConfig describes the single ledger instance. Amounts are decimal
// strings in whole units ("2000", "0.5"); they are scaled to 18 decimals.
type LedgerConfig struct {
	Address        string     `yaml:"address"`
	BaseSymbol     string     `yaml:"base_symbol"`
	QuoteSymbol    string     `yaml:"quote_symbol"`
	InitialPrice   string     `yaml:"initial_price"`
	QuoteLiquidity string     `yaml:"quote_liquidity"`
	Faucet         bool       `yaml:"faucet"`
	Risk           RiskConfig `yaml:"risk"`
}

type RiskConfig struct {
	ThresholdPercent        uint64 `yaml:"threshold_percent"`
	LiquidationBonusPercent uint64 `yaml:"liquidation_bonus_percent"`
	Precision               uint64 `yaml:"precision"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":9090",
		MetricsAddr: ":9091",
		LogLevel:    "info",
		Channels: ChannelConfig{
			PersistSize:    1024,
			PublishSize:    2048,
			ProjectionSize: 2048,
			CommandSize:    4096,
		},
		Persistence: PersistenceConfig{
			BatchSize:    50,
			FlushTimeout: 10 * time.Millisecond,
		},
		Dedup: DedupConfig{
			LRUCapacity: 100_000,
			WarmCount:   10_000,
		},
		Ledger: LedgerConfig{
			Address:        "0x1000000000000000000000000000000000000001",
			BaseSymbol:     "WETH",
			QuoteSymbol:    "USDC",
			InitialPrice:   "2000",
			QuoteLiquidity: "1000000",
			Risk: RiskConfig{
				ThresholdPercent:        state.DefaultRiskParams.ThresholdPercent,
				LiquidationBonusPercent: state.DefaultRiskParams.LiquidationBonusPercent,
				Precision:               state.DefaultRiskParams.Precision,
			},
		},
	}
}

// Load resolves the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	strs := map[string]*string{
		"LEND_HTTP_ADDR":       &cfg.HTTPAddr,
		"LEND_GRPC_ADDR":       &cfg.GRPCAddr,
		"LEND_METRICS_ADDR":    &cfg.MetricsAddr,
		"LEND_LOG_LEVEL":       &cfg.LogLevel,
		"LEND_POSTGRES_DSN":    &cfg.PostgresDSN,
		"LEND_NATS_URL":        &cfg.NATSURL,
		"LEND_LEDGER_ADDRESS":  &cfg.Ledger.Address,
		"LEND_INITIAL_PRICE":   &cfg.Ledger.InitialPrice,
		"LEND_QUOTE_LIQUIDITY": &cfg.Ledger.QuoteLiquidity,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LEND_PERSIST_CHAN_SIZE":    &cfg.Channels.PersistSize,
		"LEND_PUBLISH_CHAN_SIZE":    &cfg.Channels.PublishSize,
		"LEND_PROJECTION_CHAN_SIZE": &cfg.Channels.ProjectionSize,
		"LEND_COMMAND_CHAN_SIZE":    &cfg.Channels.CommandSize,
		"LEND_PERSIST_BATCH_SIZE":   &cfg.Persistence.BatchSize,
		"LEND_DEDUP_LRU_CAPACITY":   &cfg.Dedup.LRUCapacity,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("LEND_PERSIST_FLUSH_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("LEND_PERSIST_FLUSH_TIMEOUT: %w", err)
		}
		cfg.Persistence.FlushTimeout = d
	}
	if v, ok := os.LookupEnv("LEND_FAUCET"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("LEND_FAUCET: %w", err)
		}
		cfg.Ledger.Faucet = b
	}
	return nil
}

func (cfg *Config) normalize() {
	cfg.HTTPAddr = strings.TrimSpace(cfg.HTTPAddr)
	cfg.GRPCAddr = strings.TrimSpace(cfg.GRPCAddr)
	cfg.MetricsAddr = strings.TrimSpace(cfg.MetricsAddr)
	cfg.PostgresDSN = strings.TrimSpace(cfg.PostgresDSN)
	cfg.NATSURL = strings.TrimSpace(cfg.NATSURL)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Ledger.Address = strings.TrimSpace(cfg.Ledger.Address)
	cfg.Ledger.InitialPrice = strings.TrimSpace(cfg.Ledger.InitialPrice)
	cfg.Ledger.QuoteLiquidity = strings.TrimSpace(cfg.Ledger.QuoteLiquidity)
}

// Validate checks every field that the process relies on at boot.
func (cfg Config) Validate() error {
	var errs []error
	if cfg.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if cfg.Channels.PersistSize <= 0 || cfg.Channels.PublishSize <= 0 ||
		cfg.Channels.ProjectionSize <= 0 || cfg.Channels.CommandSize <= 0 {
		errs = append(errs, errors.New("channel sizes must be > 0"))
	}
	if cfg.Persistence.BatchSize <= 0 {
		errs = append(errs, errors.New("persistence.batch_size must be > 0"))
	}
	if cfg.Persistence.FlushTimeout <= 0 {
		errs = append(errs, errors.New("persistence.flush_timeout must be > 0"))
	}
	if cfg.Dedup.LRUCapacity <= 0 {
		errs = append(errs, errors.New("dedup.lru_capacity must be > 0"))
	}
	if cfg.Dedup.WarmCount < 0 {
		errs = append(errs, errors.New("dedup.warm_count must be >= 0"))
	}

	if addr, err := cfg.Ledger.LedgerAddress(); err != nil {
		errs = append(errs, err)
	} else if addr == (common.Address{}) {
		errs = append(errs, errors.New("ledger.address must not be the zero address"))
	}
	if price, err := cfg.Ledger.Price(); err != nil {
		errs = append(errs, fmt.Errorf("ledger.initial_price: %w", err))
	} else if price.IsZero() {
		errs = append(errs, errors.New("ledger.initial_price must be > 0"))
	}
	if _, err := cfg.Ledger.Liquidity(); err != nil {
		errs = append(errs, fmt.Errorf("ledger.quote_liquidity: %w", err))
	}
	if err := state.ValidateRiskParams(cfg.Ledger.RiskParams()); err != nil {
		errs = append(errs, fmt.Errorf("ledger.risk: %w", err))
	}
	return errors.Join(errs...)
}

// LedgerAddress parses the ledger module address.
func (l LedgerConfig) LedgerAddress() (common.Address, error) {
	if !common.IsHexAddress(l.Address) {
		return common.Address{}, fmt.Errorf("ledger.address: invalid address %q", l.Address)
	}
	return common.HexToAddress(l.Address), nil
}

// Price returns the boot price scaled to 18 decimals.
func (l LedgerConfig) Price() (*uint256.Int, error) {
	return ParseWad(l.InitialPrice)
}

// Liquidity returns the quote amount minted to the ledger at boot.
func (l LedgerConfig) Liquidity() (*uint256.Int, error) {
	if l.QuoteLiquidity == "" {
		return new(uint256.Int), nil
	}
	return ParseWad(l.QuoteLiquidity)
}

func (l LedgerConfig) RiskParams() state.RiskParams {
	return state.RiskParams{
		ThresholdPercent:        l.Risk.ThresholdPercent,
		LiquidationBonusPercent: l.Risk.LiquidationBonusPercent,
		Precision:               l.Risk.Precision,
	}
}

// ParseWad converts a non-negative whole-unit decimal string into its
// 18-decimal integer form. More than 18 fractional digits is an error.
func ParseWad(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", s)
	}
	scaled := d.Shift(18)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%s has more than 18 decimals", s)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%s does not fit in 256 bits", s)
	}
	return v, nil
}
