// Package domain holds the core data model shared by the market windows,
// detector, strategy, and exchange simulator, together with the narrow
// interfaces through which the surrounding layers (feeds, stores, caches,
// blob storage) are consumed.
package domain

import "time"

// Candle is a single timestamped high/low/volume observation. It is the unit
// the whole pipeline consumes; candles must arrive in strictly increasing
// timestamp order.
type Candle struct {
	Time   time.Time
	High   float64
	Low    float64
	Volume float64
}

// AvgPrice returns the midpoint of the candle's range.
func (c Candle) AvgPrice() float64 {
	return (c.High + c.Low) / 2
}

// UnixMilli returns the candle timestamp in Unix milliseconds. All detector
// time arithmetic is done in milliseconds, so speeds are $/ms.
func (c Candle) UnixMilli() int64 {
	return c.Time.UnixMilli()
}
