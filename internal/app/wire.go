package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/okarpov/imbalancer/internal/backtest"
	s3blob "github.com/okarpov/imbalancer/internal/blob/s3"
	cacheredis "github.com/okarpov/imbalancer/internal/cache/redis"
	"github.com/okarpov/imbalancer/internal/config"
	"github.com/okarpov/imbalancer/internal/detector"
	"github.com/okarpov/imbalancer/internal/domain"
	"github.com/okarpov/imbalancer/internal/store/postgres"
	"github.com/okarpov/imbalancer/internal/strategy"
)

// Dependencies holds the wired infrastructure. Every field may be nil: the
// modes degrade to in-memory/log-only operation when a backend is not
// configured.
type Dependencies struct {
	Imbalances  domain.ImbalanceStore
	Positions   domain.PositionStore
	CandleCache domain.CandleCache
	Archiver    *s3blob.Archiver
}

// Wire builds the optional infrastructure from config. The returned cleanup
// closes everything that was opened, in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire postgres migrations: %w", err)
			}
		}
		deps.Imbalances = postgres.NewImbalanceStore(pg.Pool())
		deps.Positions = postgres.NewPositionStore(pg.Pool())
		logger.Info("postgres stores wired")
	}

	if cfg.Redis.Addr != "" {
		rc, err := cacheredis.New(ctx, cacheredis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.CandleCache = cacheredis.NewCandleCache(rc)
		logger.Info("redis candle cache wired")
	}

	if cfg.S3.Bucket != "" {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc))
		logger.Info("s3 archiver wired", slog.String("bucket", cfg.S3.Bucket))
	}

	return deps, cleanup, nil
}

// detectorConfig maps the file configuration onto the detector's parameters.
func detectorConfig(cfg *config.Config) detector.Config {
	return detector.Config{
		PriceChangeModifier:       cfg.Oracle.PriceChangeModifier,
		SpeedModifier:             cfg.Oracle.SpeedModifier,
		FineRetention:             cfg.Detector.FineRetention.Duration,
		CoarseBucket:              cfg.Detector.CoarseBucket.Duration,
		CoarseRetention:           cfg.Detector.CoarseRetention.Duration,
		MinDuration:               cfg.Detector.MinDuration.Duration,
		MinCompleteTime:           cfg.Detector.MinCompleteTime.Duration,
		CompleteTimeModifier:      cfg.Detector.CompleteTimeModifier,
		MinPotentialCompleteTime:  cfg.Detector.MinPotentialCompleteTime.Duration,
		PotentialCompleteModifier: cfg.Detector.PotentialCompleteModifier,
		MaxValidImbalancePart:     cfg.Detector.MaxValidImbalancePart,
		ReturnedPricePartition:    cfg.Detector.ReturnedPricePartition,
		CounterLookback:           cfg.Detector.CounterLookback.Duration,
	}
}

// runnerConfig maps the file configuration onto one backtest run.
func runnerConfig(cfg *config.Config) backtest.Config {
	return backtest.Config{
		Symbol:             cfg.Symbol,
		OracleUpdatePeriod: cfg.Oracle.UpdatePeriod.Duration,
		OracleLookback:     cfg.Oracle.Lookback.Duration,
		Detector:           detectorConfig(cfg),
		Strategy: strategy.Config{
			TakeProfitFractions: cfg.Strategy.TakeProfitFractions,
			StopLossModifier:    cfg.Strategy.StopLossModifier,
			MaxPositionLiveTime: cfg.Strategy.MaxPositionLiveTime.Duration,
		},
		FeeRate:          cfg.Exchange.FeeRate,
		Balance:          cfg.Account.Balance,
		RiskPercentage:   cfg.Account.RiskPercentage,
		CreditMultiplier: cfg.Account.CreditMultiplier,
	}
}
