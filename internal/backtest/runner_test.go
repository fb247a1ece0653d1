package backtest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/okarpov/imbalancer/internal/detector"
	"github.com/okarpov/imbalancer/internal/domain"
	"github.com/okarpov/imbalancer/internal/strategy"
)

var base = time.UnixMilli(1_600_000_200_000).UTC()

func candleAt(offset time.Duration, high, low float64) domain.Candle {
	return domain.Candle{Time: base.Add(offset), High: high, Low: low, Volume: 1}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRunnerConfig() Config {
	return Config{
		Symbol:             "BTCUSDT",
		OracleUpdatePeriod: 50 * time.Second,
		OracleLookback:     30 * time.Minute,
		Detector: detector.Config{
			PriceChangeModifier:       0.02,
			SpeedModifier:             1e-7,
			FineRetention:             30 * time.Minute,
			CoarseBucket:              5 * time.Minute,
			CoarseRetention:           12 * time.Hour,
			MinDuration:               time.Second,
			MinCompleteTime:           time.Minute,
			CompleteTimeModifier:      1.0,
			MinPotentialCompleteTime:  time.Second,
			PotentialCompleteModifier: 1.0,
			MaxValidImbalancePart:     0.5,
			ReturnedPricePartition:    0.5,
			CounterLookback:           2 * time.Hour,
		},
		Strategy: strategy.Config{
			TakeProfitFractions: []float64{0.25, 0.5},
			StopLossModifier:    0.25,
			MaxPositionLiveTime: 4 * time.Hour,
		},
		FeeRate:          0.00036,
		Balance:          10_000,
		RiskPercentage:   1.0,
		CreditMultiplier: 6,
	}
}

// scenario is a flat half hour that calibrates the oracle, an upward
// dislocation, a quiet entry window, and a slide back down through both
// take-profit levels.
func scenario() []domain.Candle {
	var candles []domain.Candle
	for i := 0; i <= 30; i++ {
		candles = append(candles, candleAt(time.Duration(i)*time.Minute, 20050, 19950))
	}
	candles = append(candles,
		candleAt(31*time.Minute, 20600, 20500),
		candleAt(32*time.Minute, 20560, 20540),
		candleAt(33*time.Minute, 20450, 20400),
		candleAt(34*time.Minute, 20300, 20250),
	)
	return candles
}

func TestRunnerEndToEnd(t *testing.T) {
	r := NewRunner(testRunnerConfig(), testLogger())
	report, err := r.Run(context.Background(), scenario())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(report.Imbalances) != 1 {
		t.Fatalf("expected 1 completed imbalance, got %d", len(report.Imbalances))
	}
	imb := report.Imbalances[0]
	if imb.Type != domain.ImbalanceUp {
		t.Errorf("expected UP imbalance, got %s", imb.Type)
	}
	if imb.StartPrice != 19950 || imb.EndPrice != 20600 {
		t.Errorf("expected imbalance 19950 -> 20600, got %v -> %v", imb.StartPrice, imb.EndPrice)
	}

	if report.Trades != 2 {
		t.Fatalf("expected 2 trades, got %d", report.Trades)
	}
	if report.Wins != 2 || report.Losses != 0 {
		t.Errorf("expected 2 wins 0 losses, got %d and %d", report.Wins, report.Losses)
	}
	if report.WinRate != 1.0 {
		t.Errorf("expected win rate 1.0, got %v", report.WinRate)
	}
	if report.FinalBalance <= report.InitialBalance {
		t.Errorf("expected a profitable run, initial %v final %v", report.InitialBalance, report.FinalBalance)
	}
	if report.TotalPnL <= 0 {
		t.Errorf("expected positive total pnl, got %v", report.TotalPnL)
	}
	if report.TotalFees <= 0 {
		t.Errorf("expected fees accrued, got %v", report.TotalFees)
	}

	if report.Candles != 35 {
		t.Errorf("expected 35 candles, got %d", report.Candles)
	}
	if !report.From.Equal(base) || !report.To.Equal(base.Add(34*time.Minute)) {
		t.Errorf("expected range [%s, %s], got [%s, %s]", base, base.Add(34*time.Minute), report.From, report.To)
	}
	if report.RunID == "" {
		t.Error("expected a generated run ID")
	}
}

func TestRunnerDeterministic(t *testing.T) {
	candles := scenario()

	r1 := NewRunner(testRunnerConfig(), testLogger())
	rep1, err := r1.Run(context.Background(), candles)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	r2 := NewRunner(testRunnerConfig(), testLogger())
	rep2, err := r2.Run(context.Background(), candles)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if rep1.FinalBalance != rep2.FinalBalance {
		t.Errorf("final balances differ: %v vs %v", rep1.FinalBalance, rep2.FinalBalance)
	}
	if rep1.Trades != rep2.Trades || rep1.Wins != rep2.Wins {
		t.Errorf("trade counts differ: %d/%d vs %d/%d", rep1.Trades, rep1.Wins, rep2.Trades, rep2.Wins)
	}
	if len(rep1.Imbalances) != len(rep2.Imbalances) {
		t.Errorf("imbalance counts differ: %d vs %d", len(rep1.Imbalances), len(rep2.Imbalances))
	}
}

func TestRunnerRejectsOutOfOrderSamples(t *testing.T) {
	candles := []domain.Candle{
		candleAt(0, 20050, 19950),
		candleAt(time.Minute, 20050, 19950),
		candleAt(time.Minute, 20050, 19950),
	}

	r := NewRunner(testRunnerConfig(), testLogger())
	_, err := r.Run(context.Background(), candles)
	if !errors.Is(err, domain.ErrOutOfOrderSample) {
		t.Fatalf("expected ErrOutOfOrderSample, got %v", err)
	}
}

func TestRunnerHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(testRunnerConfig(), testLogger())
	_, err := r.Run(ctx, scenario())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
