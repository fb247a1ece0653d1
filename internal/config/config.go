// Package config defines the top-level configuration for the imbalancer and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by IMB_* environment variables.
type Config struct {
	Oracle   OracleConfig   `toml:"oracle"`
	Detector DetectorConfig `toml:"detector"`
	Strategy StrategyConfig `toml:"strategy"`
	Exchange ExchangeConfig `toml:"exchange"`
	Account  AccountConfig  `toml:"account"`
	Backtest BacktestConfig `toml:"backtest"`
	Binance  BinanceConfig  `toml:"binance"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Symbol   string         `toml:"symbol"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// OracleConfig holds volatility oracle parameters.
type OracleConfig struct {
	UpdatePeriod        duration `toml:"update_period"`
	Lookback            duration `toml:"lookback"`
	PriceChangeModifier float64  `toml:"price_change_modifier"`
	SpeedModifier       float64  `toml:"speed_modifier"`
}

// DetectorConfig holds imbalance detector parameters.
type DetectorConfig struct {
	FineRetention             duration `toml:"fine_retention"`
	CoarseBucket              duration `toml:"coarse_bucket"`
	CoarseRetention           duration `toml:"coarse_retention"`
	MinDuration               duration `toml:"min_duration"`
	MinCompleteTime           duration `toml:"min_complete_time"`
	CompleteTimeModifier      float64  `toml:"complete_time_modifier"`
	MinPotentialCompleteTime  duration `toml:"min_potential_complete_time"`
	PotentialCompleteModifier float64  `toml:"potential_complete_modifier"`
	MaxValidImbalancePart     float64  `toml:"max_valid_imbalance_part"`
	ReturnedPricePartition    float64  `toml:"returned_price_partition"`
	CounterLookback           duration `toml:"counter_lookback"`
}

// StrategyConfig holds strategy engine parameters. Stages must equal the
// length of TakeProfitFractions.
type StrategyConfig struct {
	Stages              int       `toml:"stages"`
	TakeProfitFractions []float64 `toml:"take_profit_fractions"`
	StopLossModifier    float64   `toml:"stop_loss_modifier"`
	MaxPositionLiveTime duration  `toml:"max_position_live_time"`
}

// ExchangeConfig holds exchange simulator parameters.
type ExchangeConfig struct {
	FeeRate float64 `toml:"fee_rate"`
}

// AccountConfig holds the simulated account parameters.
type AccountConfig struct {
	Balance          float64 `toml:"balance"`
	RiskPercentage   float64 `toml:"risk_percentage"`
	CreditMultiplier float64 `toml:"credit_multiplier"`
}

// BacktestConfig holds backtest-mode inputs.
type BacktestConfig struct {
	CSVPath string `toml:"csv_path"`
}

// BinanceConfig holds the live kline feed parameters for monitor mode.
type BinanceConfig struct {
	WsHost   string `toml:"ws_host"`
	Interval string `toml:"interval"`
}

// PostgresConfig holds PostgreSQL connection parameters. Leave DSN and Host
// empty to run without persistence.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Leave Addr empty to run
// without the candle cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the run
// archiver. Leave Bucket empty to skip archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Oracle: OracleConfig{
			UpdatePeriod:        duration{1 * time.Minute},
			Lookback:            duration{30 * time.Minute},
			PriceChangeModifier: 0.02,
			SpeedModifier:       1e-7,
		},
		Detector: DetectorConfig{
			FineRetention:             duration{30 * time.Minute},
			CoarseBucket:              duration{5 * time.Minute},
			CoarseRetention:           duration{12 * time.Hour},
			MinDuration:               duration{1 * time.Minute},
			MinCompleteTime:           duration{1 * time.Minute},
			CompleteTimeModifier:      1.0,
			MinPotentialCompleteTime:  duration{30 * time.Second},
			PotentialCompleteModifier: 1.0,
			MaxValidImbalancePart:     0.5,
			ReturnedPricePartition:    0.5,
			CounterLookback:           duration{2 * time.Hour},
		},
		Strategy: StrategyConfig{
			Stages:              2,
			TakeProfitFractions: []float64{0.25, 0.5},
			StopLossModifier:    0.25,
			MaxPositionLiveTime: duration{4 * time.Hour},
		},
		Exchange: ExchangeConfig{
			FeeRate: 0.00036,
		},
		Account: AccountConfig{
			Balance:          10_000,
			RiskPercentage:   1.0,
			CreditMultiplier: 6,
		},
		Binance: BinanceConfig{
			WsHost:   "wss://stream.binance.com:9443",
			Interval: "1m",
		},
		Postgres: PostgresConfig{
			Host:          "",
			Port:          5432,
			Database:      "imbalancer",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Symbol:   "BTCUSDT",
		Mode:     "backtest",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"backtest": true,
	"monitor":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: backtest, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Symbol == "" {
		errs = append(errs, "symbol must not be empty")
	}

	// Oracle
	if c.Oracle.UpdatePeriod.Duration <= 0 {
		errs = append(errs, "oracle: update_period must be positive")
	}
	if c.Oracle.Lookback.Duration <= 0 {
		errs = append(errs, "oracle: lookback must be positive")
	}
	if c.Oracle.PriceChangeModifier <= 0 {
		errs = append(errs, "oracle: price_change_modifier must be > 0")
	}
	if c.Oracle.SpeedModifier <= 0 {
		errs = append(errs, "oracle: speed_modifier must be > 0")
	}

	// Detector
	if c.Detector.FineRetention.Duration <= 0 {
		errs = append(errs, "detector: fine_retention must be positive")
	}
	if c.Detector.CoarseBucket.Duration <= 0 {
		errs = append(errs, "detector: coarse_bucket must be positive")
	}
	if c.Detector.CoarseRetention.Duration < c.Detector.FineRetention.Duration {
		errs = append(errs, "detector: coarse_retention must not be shorter than fine_retention")
	}
	if c.Detector.MaxValidImbalancePart <= 0 || c.Detector.MaxValidImbalancePart > 1 {
		errs = append(errs, "detector: max_valid_imbalance_part must be in (0, 1]")
	}
	if c.Detector.ReturnedPricePartition <= 0 || c.Detector.ReturnedPricePartition > 1 {
		errs = append(errs, "detector: returned_price_partition must be in (0, 1]")
	}
	if c.Detector.CompleteTimeModifier <= 0 {
		errs = append(errs, "detector: complete_time_modifier must be > 0")
	}
	if c.Detector.PotentialCompleteModifier <= 0 {
		errs = append(errs, "detector: potential_complete_modifier must be > 0")
	}

	// Strategy — the stage count and the fraction list must agree.
	if len(c.Strategy.TakeProfitFractions) == 0 {
		errs = append(errs, "strategy: take_profit_fractions must not be empty")
	}
	if c.Strategy.Stages != len(c.Strategy.TakeProfitFractions) {
		errs = append(errs, fmt.Sprintf("strategy: stages (%d) must equal len(take_profit_fractions) (%d)",
			c.Strategy.Stages, len(c.Strategy.TakeProfitFractions)))
	}
	for i := 1; i < len(c.Strategy.TakeProfitFractions); i++ {
		if c.Strategy.TakeProfitFractions[i] <= c.Strategy.TakeProfitFractions[i-1] {
			errs = append(errs, "strategy: take_profit_fractions must be strictly increasing")
			break
		}
	}
	for _, f := range c.Strategy.TakeProfitFractions {
		if f <= 0 || f > 1 {
			errs = append(errs, "strategy: take_profit_fractions must be in (0, 1]")
			break
		}
	}
	if c.Strategy.StopLossModifier <= 0 {
		errs = append(errs, "strategy: stop_loss_modifier must be > 0")
	}
	if c.Strategy.MaxPositionLiveTime.Duration <= 0 {
		errs = append(errs, "strategy: max_position_live_time must be positive")
	}

	// Exchange / account
	if c.Exchange.FeeRate < 0 {
		errs = append(errs, "exchange: fee_rate must not be negative")
	}
	if c.Account.Balance <= 0 {
		errs = append(errs, "account: balance must be > 0")
	}
	if c.Account.RiskPercentage <= 0 {
		errs = append(errs, "account: risk_percentage must be > 0")
	}
	if c.Account.CreditMultiplier <= 0 {
		errs = append(errs, "account: credit_multiplier must be > 0")
	}

	// Mode-specific inputs
	if strings.ToLower(c.Mode) == "backtest" && c.Backtest.CSVPath == "" {
		errs = append(errs, "backtest: csv_path is required for backtest mode")
	}
	if strings.ToLower(c.Mode) == "monitor" && c.Binance.WsHost == "" {
		errs = append(errs, "binance: ws_host is required for monitor mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
