// Package backtest drives the full tick pipeline over an ordered candle
// sequence and summarizes the result.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/okarpov/imbalancer/internal/detector"
	"github.com/okarpov/imbalancer/internal/domain"
	"github.com/okarpov/imbalancer/internal/exchange"
	"github.com/okarpov/imbalancer/internal/market"
	"github.com/okarpov/imbalancer/internal/strategy"
)

// Config assembles the per-component configurations for one run.
type Config struct {
	Symbol string

	OracleUpdatePeriod time.Duration
	OracleLookback     time.Duration

	Detector detector.Config
	Strategy strategy.Config

	FeeRate          float64
	Balance          float64
	RiskPercentage   float64
	CreditMultiplier float64
}

// Runner wires oracle → detector → strategy → simulator and replays candles
// through them in strictly increasing timestamp order, one full pipeline pass
// per candle.
type Runner struct {
	cfg      Config
	oracle   *market.Oracle
	detector *detector.Detector
	strategy *strategy.Engine
	exchange *exchange.Simulator
	account  *exchange.Account
	logger   *slog.Logger
}

// NewRunner builds a fresh pipeline from the config. Each run should use a
// fresh Runner; replaying the same candle sequence through a fresh instance
// yields identical results.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	acct := exchange.NewAccount(cfg.Balance, cfg.RiskPercentage, cfg.CreditMultiplier)
	ex := exchange.NewSimulator(acct, cfg.FeeRate, logger)
	det := detector.New(cfg.Detector, logger)
	oracle := market.NewOracle(cfg.OracleUpdatePeriod, cfg.OracleLookback, logger)
	oracle.Subscribe(det.Calibrate)
	eng := strategy.New(cfg.Strategy, det, ex, acct, logger)

	return &Runner{
		cfg:      cfg,
		oracle:   oracle,
		detector: det,
		strategy: eng,
		exchange: ex,
		account:  acct,
		logger:   logger.With(slog.String("component", "backtest")),
	}
}

// Run replays the candles through the pipeline and returns the report. It
// rejects out-of-order samples and aborts on a strategy invariant violation.
func (r *Runner) Run(ctx context.Context, candles []domain.Candle) (Report, error) {
	runID := uuid.NewString()
	initial := r.account.Balance()

	var last time.Time
	for i, c := range candles {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		if !last.IsZero() && !c.Time.After(last) {
			return Report{}, fmt.Errorf("backtest: candle %d at %s: %w", i, c.Time, domain.ErrOutOfOrderSample)
		}
		last = c.Time

		r.oracle.OnTick(c)
		r.detector.OnTick(c)
		if err := r.strategy.OnTick(c); err != nil {
			return Report{}, fmt.Errorf("backtest: tick %d: %w", i, err)
		}
		r.exchange.OnTick(c)
	}

	report := buildReport(runID, r.cfg.Symbol, candles, initial, r.account.Balance(),
		r.detector.Completed(), r.exchange.Positions())

	r.logger.Info("run finished",
		slog.String("run_id", runID),
		slog.Int("candles", len(candles)),
		slog.Int("imbalances", len(report.Imbalances)),
		slog.Int("positions", len(report.Positions)),
		slog.Float64("final_balance", report.FinalBalance),
	)
	return report, nil
}

// Imbalances exposes the detector's completed history.
func (r *Runner) Imbalances() []domain.Imbalance {
	return r.detector.Completed()
}

// Positions exposes all positions produced so far.
func (r *Runner) Positions() []domain.Position {
	return r.exchange.Positions()
}
