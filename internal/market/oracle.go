package market

import (
	"log/slog"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/okarpov/imbalancer/internal/domain"
)

// Listener receives recalibrated volatility and average-price figures. A zero
// value for either means "not yet calibrated" and listeners must suspend
// anything that would divide by them.
type Listener func(volatility, average float64, ts time.Time)

// Oracle recomputes trailing volatility and average price on a fixed
// wall-clock period and pushes the result to its listeners. It keeps its own
// trailing sample window, independent of the detector's.
type Oracle struct {
	updatePeriod time.Duration
	window       *FineWindow
	listeners    []Listener
	lastUpdate   time.Time
	logger       *slog.Logger
}

// NewOracle creates an Oracle that recalibrates every updatePeriod over a
// trailing lookback window.
func NewOracle(updatePeriod, lookback time.Duration, logger *slog.Logger) *Oracle {
	return &Oracle{
		updatePeriod: updatePeriod,
		window:       NewFineWindow(lookback),
		logger:       logger.With(slog.String("component", "oracle")),
	}
}

// Subscribe registers a listener for future calibrations.
func (o *Oracle) Subscribe(l Listener) {
	o.listeners = append(o.listeners, l)
}

// OnTick records the sample and, when the update period has elapsed,
// recomputes the trailing figures and notifies all listeners.
func (o *Oracle) OnTick(c domain.Candle) {
	o.window.Add(c)

	if !o.lastUpdate.IsZero() && c.Time.Sub(o.lastUpdate) <= o.updatePeriod {
		return
	}

	volatility, average := o.compute()
	for _, l := range o.listeners {
		l(volatility, average, c.Time)
	}
	o.lastUpdate = c.Time

	o.logger.Debug("recalibrated",
		slog.Float64("volatility", volatility),
		slog.Float64("average", average),
		slog.Int("samples", o.window.Len()),
	)
}

// compute returns the trailing volatility and average price. With fewer than
// two samples both are 0, which downstream treats as "thresholds unset".
func (o *Oracle) compute() (volatility, average float64) {
	samples := o.window.Samples()
	if len(samples) < 2 {
		return 0, 0
	}

	avgPrices := make([]float64, len(samples))
	for i, s := range samples {
		avgPrices[i] = s.AvgPrice()
	}
	average, err := stats.Mean(avgPrices)
	if err != nil || average == 0 {
		return 0, 0
	}

	ranges := make([]float64, len(samples))
	for i, s := range samples {
		ranges[i] = (s.High - s.Low) / average
	}
	volatility, err = stats.Mean(ranges)
	if err != nil {
		return 0, 0
	}
	return volatility, average
}
