package detector

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/okarpov/imbalancer/internal/domain"
)

// base is aligned to a 5-minute boundary so coarse bucket starts are
// predictable.
var base = time.UnixMilli(1_600_000_200_000).UTC()

func candleAt(offset time.Duration, high, low float64) domain.Candle {
	return domain.Candle{Time: base.Add(offset), High: high, Low: low, Volume: 1}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		PriceChangeModifier:       0.02,
		SpeedModifier:             1e-7,
		FineRetention:             30 * time.Minute,
		CoarseBucket:              5 * time.Minute,
		CoarseRetention:           12 * time.Hour,
		MinDuration:               time.Second,
		MinCompleteTime:           2 * time.Second,
		CompleteTimeModifier:      1.0,
		MinPotentialCompleteTime:  time.Second,
		PotentialCompleteModifier: 1.0,
		MaxValidImbalancePart:     0.5,
		ReturnedPricePartition:    0.5,
		CounterLookback:           2 * time.Hour,
	}
}

// calibrated returns a detector with priceThreshold 400 and speedThreshold
// 0.002, matching an average price of 20000.
func calibrated(t *testing.T) *Detector {
	t.Helper()
	d := New(testConfig(), testLogger())
	d.Calibrate(0.005, 20000, base)
	price, speed := d.Thresholds()
	if price != 400 || speed != 0.002 {
		t.Fatalf("expected thresholds (400, 0.002), got (%v, %v)", price, speed)
	}
	return d
}

func TestCalibrateZeroVolatilityUnsetsThresholds(t *testing.T) {
	d := New(testConfig(), testLogger())
	d.Calibrate(0.005, 20000, base)
	d.Calibrate(0, 20000, base)

	price, speed := d.Thresholds()
	if price != 0 || speed != 0 {
		t.Errorf("expected thresholds unset on zero volatility, got (%v, %v)", price, speed)
	}
}

func TestDetectorStaysWaitWithoutCalibration(t *testing.T) {
	d := New(testConfig(), testLogger())

	d.OnTick(candleAt(0, 20000, 19900))
	d.OnTick(candleAt(5*time.Second, 20500, 20300))

	if d.State() != domain.StateWait {
		t.Errorf("expected WAIT without thresholds, got %s", d.State())
	}
	if d.Current() != nil {
		t.Errorf("expected no current imbalance, got %+v", d.Current())
	}
}

func TestDetectUpImbalance(t *testing.T) {
	d := calibrated(t)

	d.OnTick(candleAt(0, 20000, 19900))
	d.OnTick(candleAt(5*time.Second, 20500, 20300))

	if d.State() != domain.StateProgress {
		t.Fatalf("expected PROGRESS, got %s", d.State())
	}
	imb := d.Current()
	if imb == nil {
		t.Fatal("expected a current imbalance")
	}
	if imb.Type != domain.ImbalanceUp {
		t.Errorf("expected UP, got %s", imb.Type)
	}
	if imb.StartTime != base.UnixMilli() || imb.StartPrice != 19900 {
		t.Errorf("expected start (%d, 19900), got (%d, %v)", base.UnixMilli(), imb.StartTime, imb.StartPrice)
	}
	if imb.EndTime != base.Add(5*time.Second).UnixMilli() || imb.EndPrice != 20500 {
		t.Errorf("expected end (+5s, 20500), got (%d, %v)", imb.EndTime, imb.EndPrice)
	}
	if imb.Size() != 600 {
		t.Errorf("expected size 600, got %v", imb.Size())
	}
	if imb.Duration() != 5000 {
		t.Errorf("expected duration 5000ms, got %d", imb.Duration())
	}
	if imb.ID == "" {
		t.Error("expected a generated imbalance ID")
	}
}

func TestDetectDownImbalance(t *testing.T) {
	d := calibrated(t)

	d.OnTick(candleAt(0, 20100, 20000))
	d.OnTick(candleAt(5*time.Second, 19700, 19500))

	if d.State() != domain.StateProgress {
		t.Fatalf("expected PROGRESS, got %s", d.State())
	}
	imb := d.Current()
	if imb.Type != domain.ImbalanceDown {
		t.Errorf("expected DOWN, got %s", imb.Type)
	}
	if imb.StartPrice != 20100 || imb.EndPrice != 19500 {
		t.Errorf("expected start 20100 end 19500, got %v and %v", imb.StartPrice, imb.EndPrice)
	}
}

// The refinement walk collects every qualifying start between the provisional
// one and the local extreme; the fastest surviving candidate wins, not the
// largest.
func TestDetectPicksFastestSurvivingCandidate(t *testing.T) {
	d := calibrated(t)

	d.OnTick(candleAt(0, 19920, 19880))
	d.OnTick(candleAt(2*time.Second, 19930, 19900))
	d.OnTick(candleAt(4*time.Second, 19980, 19950))
	d.OnTick(candleAt(9*time.Second, 20480, 20420))

	if d.State() != domain.StateProgress {
		t.Fatalf("expected PROGRESS, got %s", d.State())
	}
	imb := d.Current()
	// Candidate sizes: 600 (9s), 580 (7s), 530 (5s). All pass the 0.75
	// cutoff; 530/5s has the highest speed.
	if imb.StartPrice != 19950 {
		t.Errorf("expected fastest candidate start price 19950, got %v", imb.StartPrice)
	}
	if imb.StartTime != base.Add(4*time.Second).UnixMilli() {
		t.Errorf("expected start at +4s, got %d", imb.StartTime)
	}
	if imb.Size() != 530 {
		t.Errorf("expected size 530, got %v", imb.Size())
	}
}

// A fast but small candidate below three quarters of the largest size is
// discarded in favor of a slower, larger one.
func TestDetectSizeCutoffDiscardsSmallFastCandidate(t *testing.T) {
	d := calibrated(t)

	d.OnTick(candleAt(0, 19840, 19800))
	d.OnTick(candleAt(6*time.Second, 20020, 19990))
	d.OnTick(candleAt(8*time.Second, 20420, 20370))

	if d.State() != domain.StateProgress {
		t.Fatalf("expected PROGRESS, got %s", d.State())
	}
	imb := d.Current()
	// The nearest candidate (size 430, 2s) is faster but under 0.75 x 620.
	if imb.StartPrice != 19800 {
		t.Errorf("expected large candidate start price 19800, got %v", imb.StartPrice)
	}
	if imb.Size() != 620 {
		t.Errorf("expected size 620, got %v", imb.Size())
	}
}

func TestDetectRejectsShortDuration(t *testing.T) {
	cfg := testConfig()
	cfg.MinDuration = 10 * time.Second
	d := New(cfg, testLogger())
	d.Calibrate(0.005, 20000, base)

	d.OnTick(candleAt(0, 20000, 19900))
	d.OnTick(candleAt(5*time.Second, 20500, 20300))

	if d.State() != domain.StateWait {
		t.Errorf("expected WAIT for a move shorter than min duration, got %s", d.State())
	}
}

func TestDetectRejectsWideBoundaryCandle(t *testing.T) {
	d := calibrated(t)

	// Start candle range 350 >= size/2 (600/2 = 300).
	d.OnTick(candleAt(0, 20250, 19900))
	d.OnTick(candleAt(5*time.Second, 20500, 20400))

	if d.State() != domain.StateWait {
		t.Errorf("expected WAIT with a wide start candle, got %s", d.State())
	}
}

// A prior opposite move of comparable size inside the counter lookback
// disqualifies the candidate.
func TestDetectCounterImbalanceGuard(t *testing.T) {
	d := calibrated(t)

	// One coarse bucket fully before the start, near the prospective end
	// price.
	d.OnTick(candleAt(-5*time.Minute, 20450, 20440))
	d.OnTick(candleAt(0, 19940, 19900))
	d.OnTick(candleAt(5*time.Second, 20350, 20310))

	if d.State() != domain.StateWait {
		t.Fatalf("expected WAIT with counter-imbalance history, got %s", d.State())
	}

	// The same move with no history is accepted.
	d2 := calibrated(t)
	d2.OnTick(candleAt(0, 19940, 19900))
	d2.OnTick(candleAt(5*time.Second, 20350, 20310))
	if d2.State() != domain.StateProgress {
		t.Errorf("expected PROGRESS without counter-imbalance history, got %s", d2.State())
	}
}

func TestAdvanceExtendsExtreme(t *testing.T) {
	d := calibrated(t)

	d.OnTick(candleAt(0, 20000, 19900))
	d.OnTick(candleAt(5*time.Second, 20500, 20300))
	d.OnTick(candleAt(8*time.Second, 20600, 20450))

	imb := d.Current()
	if imb.EndPrice != 20600 {
		t.Errorf("expected extreme extended to 20600, got %v", imb.EndPrice)
	}
	if imb.EndTime != base.Add(8*time.Second).UnixMilli() {
		t.Errorf("expected end time at +8s, got %d", imb.EndTime)
	}
	if d.State() != domain.StateProgress {
		t.Errorf("expected PROGRESS after extension, got %s", d.State())
	}
}

func TestPotentialEndPointAndCompletion(t *testing.T) {
	d := calibrated(t)

	d.OnTick(candleAt(0, 20000, 19900))
	d.OnTick(candleAt(5*time.Second, 20500, 20300))

	// Silence guard: completeAfter = max(5000 x 1.0, 2000) = 5000ms.
	// Potential guard: possible = 5000 / (600/400) = 3333ms.
	d.OnTick(candleAt(9*time.Second, 20450, 20430))
	if d.State() != domain.StatePotentialEndPoint {
		t.Fatalf("expected POTENTIAL_END_POINT at +9s, got %s", d.State())
	}

	d.OnTick(candleAt(11*time.Second, 20350, 20300))
	if d.State() != domain.StateCompleted {
		t.Fatalf("expected COMPLETED at +11s, got %s", d.State())
	}
	imb := d.Current()
	if imb.CompleteTime != base.Add(11*time.Second).UnixMilli() {
		t.Errorf("expected complete time at +11s, got %d", imb.CompleteTime)
	}

	// The next tick archives the completed imbalance and resets to WAIT.
	d.OnTick(candleAt(12*time.Second, 20400, 20380))
	if d.State() == domain.StateCompleted {
		t.Error("expected reset after COMPLETED")
	}
	completed := d.Completed()
	if len(completed) != 1 {
		t.Fatalf("expected 1 completed imbalance, got %d", len(completed))
	}
	got := completed[0]
	if got.StartPrice != 19900 || got.EndPrice != 20500 {
		t.Errorf("expected completed start 19900 end 20500, got %v and %v", got.StartPrice, got.EndPrice)
	}
	if got.EndTime < got.StartTime {
		t.Error("completed imbalance end time precedes start time")
	}
	if got.Size() <= 0 {
		t.Errorf("completed imbalance size must be positive, got %v", got.Size())
	}
}

func TestPotentialEndPointRejectsDeepPullback(t *testing.T) {
	d := calibrated(t)

	d.OnTick(candleAt(0, 20000, 19900))
	d.OnTick(candleAt(5*time.Second, 20500, 20300))

	// Pullback of 20500 - 20090 = 410 exceeds 0.5 x 600 = 300; a pulled-back
	// quiet market is not a usable end point.
	d.OnTick(candleAt(9*time.Second, 20100, 20080))
	if d.State() != domain.StateProgress {
		t.Errorf("expected PROGRESS on deep pullback, got %s", d.State())
	}
}

// Replaying the same sequence through a fresh detector yields the same
// result.
func TestDetectorDeterministic(t *testing.T) {
	seq := []domain.Candle{
		candleAt(0, 20000, 19900),
		candleAt(5*time.Second, 20500, 20300),
		candleAt(9*time.Second, 20450, 20430),
		candleAt(11*time.Second, 20350, 20300),
		candleAt(12*time.Second, 20400, 20380),
	}

	run := func() (domain.ImbalanceState, []domain.Imbalance) {
		d := calibrated(t)
		for _, c := range seq {
			d.OnTick(c)
		}
		return d.State(), d.Completed()
	}

	s1, c1 := run()
	s2, c2 := run()
	if s1 != s2 {
		t.Errorf("states differ across runs: %s vs %s", s1, s2)
	}
	if len(c1) != len(c2) {
		t.Fatalf("completed counts differ: %d vs %d", len(c1), len(c2))
	}
	for i := range c1 {
		if c1[i].StartPrice != c2[i].StartPrice || c1[i].EndPrice != c2[i].EndPrice ||
			c1[i].StartTime != c2[i].StartTime || c1[i].EndTime != c2[i].EndTime {
			t.Errorf("completed imbalance %d differs across runs", i)
		}
	}
}

func TestQualifiesSpeedScaling(t *testing.T) {
	d := calibrated(t)

	tests := []struct {
		name    string
		change  float64
		elapsed int64
		want    bool
	}{
		{"below price threshold", 400, 1000, false},
		{"at threshold boundary", 400.0001, math.MaxInt32, false},
		{"fast and large", 600, 5000, true},
		{"large but glacial", 600, 1_000_000, false},
		{"zero elapsed", 600, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.qualifies(tt.change, tt.elapsed); got != tt.want {
				t.Errorf("qualifies(%v, %d) = %v, want %v", tt.change, tt.elapsed, got, tt.want)
			}
		})
	}
}
