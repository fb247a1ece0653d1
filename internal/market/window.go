// Package market provides the time-bounded sample windows the detector scans
// and the volatility oracle that calibrates its thresholds.
package market

import (
	"time"

	"github.com/okarpov/imbalancer/internal/domain"
)

// FineWindow is a short-retention, per-sample sliding buffer. Samples are
// kept in timestamp order; everything older than the retention relative to
// the newest sample is evicted on Add.
type FineWindow struct {
	retention time.Duration
	samples   []domain.Candle
}

// NewFineWindow creates a fine window with the given retention.
func NewFineWindow(retention time.Duration) *FineWindow {
	return &FineWindow{retention: retention}
}

// Add appends a sample and evicts expired ones. A sample with the same
// timestamp as the newest overwrites it (last-wins feed contract).
func (w *FineWindow) Add(c domain.Candle) {
	if n := len(w.samples); n > 0 && w.samples[n-1].Time.Equal(c.Time) {
		w.samples[n-1] = c
	} else {
		w.samples = append(w.samples, c)
	}

	cutoff := c.Time.Add(-w.retention)
	i := 0
	for i < len(w.samples) && w.samples[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0:0], w.samples[i:]...)
	}
}

// Samples returns the buffered samples in ascending timestamp order. The
// slice is the window's own storage and must not be mutated.
func (w *FineWindow) Samples() []domain.Candle {
	return w.samples
}

// Len returns the number of buffered samples.
func (w *FineWindow) Len() int {
	return len(w.samples)
}

// Bucket is one fixed-duration aggregate of fine samples: max high, min low,
// summed volume.
type Bucket struct {
	Start  time.Time
	High   float64
	Low    float64
	Volume float64
}

// CoarseWindow aggregates samples into fixed-size time buckets and retains
// them for a longer horizon than the fine window.
type CoarseWindow struct {
	bucketSize time.Duration
	retention  time.Duration
	buckets    []Bucket
}

// NewCoarseWindow creates a coarse window with the given bucket size and
// retention.
func NewCoarseWindow(bucketSize, retention time.Duration) *CoarseWindow {
	return &CoarseWindow{bucketSize: bucketSize, retention: retention}
}

// Add folds a sample into the bucket covering its timestamp, creating the
// bucket if needed, and evicts buckets past the retention horizon.
func (w *CoarseWindow) Add(c domain.Candle) {
	start := c.Time.Truncate(w.bucketSize)

	if n := len(w.buckets); n > 0 && w.buckets[n-1].Start.Equal(start) {
		b := &w.buckets[n-1]
		if c.High > b.High {
			b.High = c.High
		}
		if c.Low < b.Low {
			b.Low = c.Low
		}
		b.Volume += c.Volume
	} else {
		w.buckets = append(w.buckets, Bucket{
			Start:  start,
			High:   c.High,
			Low:    c.Low,
			Volume: c.Volume,
		})
	}

	cutoff := c.Time.Add(-w.retention)
	i := 0
	for i < len(w.buckets) && w.buckets[i].Start.Add(w.bucketSize).Before(cutoff) {
		i++
	}
	if i > 0 {
		w.buckets = append(w.buckets[:0:0], w.buckets[i:]...)
	}
}

// Between returns the buckets whose start lies in [from, to), both in Unix
// milliseconds.
func (w *CoarseWindow) Between(from, to int64) []Bucket {
	var out []Bucket
	for _, b := range w.buckets {
		ms := b.Start.UnixMilli()
		if ms >= from && ms < to {
			out = append(out, b)
		}
	}
	return out
}

// Since returns the buckets whose start is at or after the given Unix
// millisecond timestamp.
func (w *CoarseWindow) Since(from int64) []Bucket {
	var out []Bucket
	for _, b := range w.buckets {
		if b.Start.UnixMilli() >= from {
			out = append(out, b)
		}
	}
	return out
}

// Buckets returns all retained buckets in ascending order.
func (w *CoarseWindow) Buckets() []Bucket {
	return w.buckets
}
