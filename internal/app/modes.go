package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okarpov/imbalancer/internal/backtest"
	"github.com/okarpov/imbalancer/internal/detector"
	"github.com/okarpov/imbalancer/internal/domain"
	"github.com/okarpov/imbalancer/internal/feed"
	"github.com/okarpov/imbalancer/internal/market"
)

// BacktestMode replays the configured CSV through a fresh pipeline, persists
// the results when stores are wired, and archives the report when S3 is
// wired.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	candles, err := a.loadCandles(ctx, deps)
	if err != nil {
		return err
	}

	runner := backtest.NewRunner(runnerConfig(a.cfg), a.logger)
	report, err := runner.Run(ctx, candles)
	if err != nil {
		return err
	}

	if deps.Imbalances != nil {
		if err := deps.Imbalances.CreateBatch(ctx, report.RunID, report.Imbalances); err != nil {
			return err
		}
	}
	if deps.Positions != nil {
		if err := deps.Positions.CreateBatch(ctx, report.RunID, report.Positions); err != nil {
			return err
		}
	}
	if deps.Archiver != nil {
		if err := deps.Archiver.ArchiveRun(ctx, report); err != nil {
			return err
		}
	}

	a.logger.InfoContext(ctx, "backtest complete",
		slog.String("run_id", report.RunID),
		slog.Int("trades", report.Trades),
		slog.Float64("win_rate", report.WinRate),
		slog.Float64("total_pnl", report.TotalPnL),
		slog.Float64("final_balance", report.FinalBalance),
	)
	return nil
}

// loadCandles reads the CSV source and keeps the candle cache in sync when
// one is wired: a cached copy of the exact range is authoritative, otherwise
// the parsed candles are written through for later consumers.
func (a *App) loadCandles(ctx context.Context, deps *Dependencies) ([]domain.Candle, error) {
	src := feed.NewCSVSource(a.cfg.Backtest.CSVPath)
	candles, err := src.Load()
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 || deps.CandleCache == nil {
		return candles, nil
	}

	from, to := candles[0].Time, candles[len(candles)-1].Time
	if cached, cacheErr := deps.CandleCache.GetRange(ctx, a.cfg.Symbol, from, to); cacheErr == nil {
		return cached, nil
	} else if !errors.Is(cacheErr, domain.ErrNotFound) {
		a.logger.WarnContext(ctx, "candle cache read failed", slog.String("error", cacheErr.Error()))
	}
	if cacheErr := deps.CandleCache.PutRange(ctx, a.cfg.Symbol, from, to, candles); cacheErr != nil {
		a.logger.WarnContext(ctx, "candle cache write failed", slog.String("error", cacheErr.Error()))
	}
	return candles, nil
}

// MonitorMode runs the oracle and detector against the live Binance kline
// stream and records completed imbalances as they happen. The feed goroutine
// hands samples over a channel so the pipeline still consumes them strictly
// in order.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	oracle := market.NewOracle(a.cfg.Oracle.UpdatePeriod.Duration, a.cfg.Oracle.Lookback.Duration, a.logger)
	det := detector.New(detectorConfig(a.cfg), a.logger)
	oracle.Subscribe(det.Calibrate)

	// One monitor session is treated as one run for persistence purposes.
	runID := "monitor-" + time.Now().UTC().Format("20060102T150405Z")

	candleCh := make(chan domain.Candle, 32)
	wsFeed := feed.NewBinanceWS(
		a.cfg.Binance.WsHost,
		a.cfg.Symbol,
		a.cfg.Binance.Interval,
		func(ctx context.Context, c domain.Candle) {
			select {
			case candleCh <- c:
			case <-ctx.Done():
			}
		},
		a.logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer wsFeed.Close()
		return wsFeed.Run(gctx)
	})
	g.Go(func() error {
		var last time.Time
		seen := 0
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case c := <-candleCh:
				if !last.IsZero() && !c.Time.After(last) {
					// Reconnects can replay the last kline.
					continue
				}
				last = c.Time

				oracle.OnTick(c)
				det.OnTick(c)

				completed := det.Completed()
				for _, imb := range completed[seen:] {
					a.logger.InfoContext(gctx, "imbalance detected",
						slog.String("type", string(imb.Type)),
						slog.Float64("size", imb.Size()),
						slog.Int64("duration_ms", imb.Duration()),
					)
					if deps.Imbalances != nil {
						if err := deps.Imbalances.Create(gctx, runID, imb); err != nil {
							a.logger.WarnContext(gctx, "persist imbalance failed", slog.String("error", err.Error()))
						}
					}
				}
				seen = len(completed)
			}
		}
	})
	return g.Wait()
}
