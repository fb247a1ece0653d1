package market

import (
	"testing"
	"time"

	"github.com/okarpov/imbalancer/internal/domain"
)

// base is aligned to a 5-minute boundary so coarse bucket starts are
// predictable.
var base = time.UnixMilli(1_600_000_200_000).UTC()

func candle(offset time.Duration, high, low float64) domain.Candle {
	return domain.Candle{Time: base.Add(offset), High: high, Low: low, Volume: 1}
}

func TestFineWindowEviction(t *testing.T) {
	w := NewFineWindow(10 * time.Minute)

	w.Add(candle(0, 101, 100))
	w.Add(candle(5*time.Minute, 102, 101))
	w.Add(candle(12*time.Minute, 103, 102))

	samples := w.Samples()
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples after eviction, got %d", len(samples))
	}
	if !samples[0].Time.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("expected oldest surviving sample at +5m, got %s", samples[0].Time)
	}
}

func TestFineWindowKeepsSampleAtCutoff(t *testing.T) {
	w := NewFineWindow(10 * time.Minute)

	w.Add(candle(0, 101, 100))
	w.Add(candle(10*time.Minute, 102, 101))

	// Exactly at the retention boundary is not before the cutoff.
	if w.Len() != 2 {
		t.Fatalf("expected sample exactly at retention to survive, got %d samples", w.Len())
	}
}

func TestFineWindowLastWinsOnEqualTimestamp(t *testing.T) {
	w := NewFineWindow(10 * time.Minute)

	w.Add(candle(time.Minute, 101, 100))
	w.Add(candle(time.Minute, 105, 104))

	if w.Len() != 1 {
		t.Fatalf("expected overwrite, got %d samples", w.Len())
	}
	if got := w.Samples()[0].High; got != 105 {
		t.Errorf("expected latest sample to win, got high %v", got)
	}
}

func TestCoarseWindowBucketing(t *testing.T) {
	w := NewCoarseWindow(5*time.Minute, time.Hour)

	w.Add(candle(0, 101, 99))
	w.Add(candle(2*time.Minute, 103, 100))
	w.Add(candle(6*time.Minute, 102, 98))

	buckets := w.Buckets()
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}

	first := buckets[0]
	if !first.Start.Equal(base) {
		t.Errorf("expected first bucket start %s, got %s", base, first.Start)
	}
	if first.High != 103 || first.Low != 99 {
		t.Errorf("expected first bucket high=103 low=99, got high=%v low=%v", first.High, first.Low)
	}
	if first.Volume != 2 {
		t.Errorf("expected first bucket volume 2, got %v", first.Volume)
	}

	second := buckets[1]
	if !second.Start.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("expected second bucket start at +5m, got %s", second.Start)
	}
	if second.High != 102 || second.Low != 98 {
		t.Errorf("expected second bucket high=102 low=98, got high=%v low=%v", second.High, second.Low)
	}
}

func TestCoarseWindowBetweenAndSince(t *testing.T) {
	w := NewCoarseWindow(5*time.Minute, time.Hour)

	w.Add(candle(0, 101, 99))
	w.Add(candle(5*time.Minute, 102, 100))
	w.Add(candle(10*time.Minute, 103, 101))

	from := base.UnixMilli()
	to := base.Add(10 * time.Minute).UnixMilli()
	between := w.Between(from, to)
	if len(between) != 2 {
		t.Fatalf("expected 2 buckets in [from, to), got %d", len(between))
	}

	since := w.Since(base.Add(5 * time.Minute).UnixMilli())
	if len(since) != 2 {
		t.Fatalf("expected 2 buckets since +5m, got %d", len(since))
	}
	if !since[0].Start.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("expected first since-bucket at +5m, got %s", since[0].Start)
	}
}

func TestCoarseWindowEviction(t *testing.T) {
	w := NewCoarseWindow(5*time.Minute, 30*time.Minute)

	w.Add(candle(0, 101, 99))
	w.Add(candle(40*time.Minute, 102, 100))

	buckets := w.Buckets()
	if len(buckets) != 1 {
		t.Fatalf("expected old bucket evicted, got %d buckets", len(buckets))
	}
	if !buckets[0].Start.Equal(base.Add(40 * time.Minute)) {
		t.Errorf("expected surviving bucket at +40m, got %s", buckets[0].Start)
	}
}
