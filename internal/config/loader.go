package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies IMB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known IMB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject connection secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "IMB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "IMB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "IMB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "IMB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "IMB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "IMB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "IMB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "IMB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "IMB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "IMB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "IMB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "IMB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "IMB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "IMB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "IMB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "IMB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "IMB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "IMB_S3_REGION")
	setStr(&cfg.S3.Bucket, "IMB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "IMB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "IMB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "IMB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "IMB_S3_FORCE_PATH_STYLE")

	// ── Binance ──
	setStr(&cfg.Binance.WsHost, "IMB_BINANCE_WS_HOST")
	setStr(&cfg.Binance.Interval, "IMB_BINANCE_INTERVAL")

	// ── Backtest ──
	setStr(&cfg.Backtest.CSVPath, "IMB_BACKTEST_CSV_PATH")

	// ── Oracle ──
	setDuration(&cfg.Oracle.UpdatePeriod, "IMB_ORACLE_UPDATE_PERIOD")
	setDuration(&cfg.Oracle.Lookback, "IMB_ORACLE_LOOKBACK")
	setFloat64(&cfg.Oracle.PriceChangeModifier, "IMB_ORACLE_PRICE_CHANGE_MODIFIER")
	setFloat64(&cfg.Oracle.SpeedModifier, "IMB_ORACLE_SPEED_MODIFIER")

	// ── Account ──
	setFloat64(&cfg.Account.Balance, "IMB_ACCOUNT_BALANCE")
	setFloat64(&cfg.Account.RiskPercentage, "IMB_ACCOUNT_RISK_PERCENTAGE")
	setFloat64(&cfg.Account.CreditMultiplier, "IMB_ACCOUNT_CREDIT_MULTIPLIER")

	// ── Top-level ──
	setStr(&cfg.Symbol, "IMB_SYMBOL")
	setStr(&cfg.Mode, "IMB_MODE")
	setStr(&cfg.LogLevel, "IMB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
