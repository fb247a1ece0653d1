package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
symbol = "ETHUSDT"

[oracle]
update_period = "30s"

[strategy]
stages = 3
take_profit_fractions = [0.2, 0.4, 0.6]

[backtest]
csv_path = "candles.csv"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Symbol != "ETHUSDT" {
		t.Errorf("expected symbol from file, got %q", cfg.Symbol)
	}
	if cfg.Oracle.UpdatePeriod.Duration != 30*time.Second {
		t.Errorf("expected update_period 30s, got %s", cfg.Oracle.UpdatePeriod.Duration)
	}
	if cfg.Strategy.Stages != 3 || len(cfg.Strategy.TakeProfitFractions) != 3 {
		t.Errorf("expected 3 stages from file, got %d with %d fractions",
			cfg.Strategy.Stages, len(cfg.Strategy.TakeProfitFractions))
	}
	// Untouched fields keep their defaults.
	if cfg.Mode != "backtest" {
		t.Errorf("expected default mode, got %q", cfg.Mode)
	}
	if cfg.Exchange.FeeRate != 0.00036 {
		t.Errorf("expected default fee rate, got %v", cfg.Exchange.FeeRate)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
[backtest]
csv_path = "candles.csv"
`)

	t.Setenv("IMB_SYMBOL", "SOLUSDT")
	t.Setenv("IMB_POSTGRES_HOST", "db.internal")
	t.Setenv("IMB_POSTGRES_PORT", "6432")
	t.Setenv("IMB_REDIS_TLS_ENABLED", "true")
	t.Setenv("IMB_ORACLE_UPDATE_PERIOD", "2m")
	t.Setenv("IMB_ACCOUNT_BALANCE", "2500.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Symbol != "SOLUSDT" {
		t.Errorf("expected env symbol, got %q", cfg.Symbol)
	}
	if cfg.Postgres.Host != "db.internal" || cfg.Postgres.Port != 6432 {
		t.Errorf("expected env postgres settings, got %s:%d", cfg.Postgres.Host, cfg.Postgres.Port)
	}
	if !cfg.Redis.TLSEnabled {
		t.Error("expected env redis tls override")
	}
	if cfg.Oracle.UpdatePeriod.Duration != 2*time.Minute {
		t.Errorf("expected env update period 2m, got %s", cfg.Oracle.UpdatePeriod.Duration)
	}
	if cfg.Account.Balance != 2500.5 {
		t.Errorf("expected env balance 2500.5, got %v", cfg.Account.Balance)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}
