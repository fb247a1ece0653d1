// Package detector implements the adaptive-threshold imbalance detection
// state machine: a backward scan over the fine window with multi-candidate
// start refinement, and time-guarded transitions through PROGRESS,
// POTENTIAL_END_POINT, and COMPLETED.
package detector

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/okarpov/imbalancer/internal/domain"
	"github.com/okarpov/imbalancer/internal/market"
)

// sizeCutoffRatio keeps only candidates whose size is at least this fraction
// of the largest candidate's size.
const sizeCutoffRatio = 0.75

// counterRetraceRatio is the fraction of imbalance size the price may have
// already retraced before the start without invalidating the candidate.
const counterRetraceRatio = 0.25

// Config holds the detector's tunable parameters. Durations are wall-clock;
// internally all arithmetic is in milliseconds.
type Config struct {
	// PriceChangeModifier scales the trailing average price into the price
	// threshold; SpeedModifier scales it into the speed threshold ($/ms).
	PriceChangeModifier float64
	SpeedModifier       float64

	FineRetention   time.Duration
	CoarseBucket    time.Duration
	CoarseRetention time.Duration

	MinDuration               time.Duration
	MinCompleteTime           time.Duration
	CompleteTimeModifier      float64
	MinPotentialCompleteTime  time.Duration
	PotentialCompleteModifier float64

	// MaxValidImbalancePart is the fraction of size the price may pull back
	// from the extreme while still counting as a potential end point.
	MaxValidImbalancePart float64
	// ReturnedPricePartition is the retrace fraction past which a coarse
	// bucket since the extreme disqualifies the potential end point.
	ReturnedPricePartition float64
	// CounterLookback is how far before the start the coarse window is
	// checked for an opposite move of comparable size.
	CounterLookback time.Duration
}

// Detector owns the two sliding windows and the imbalance state machine. It
// processes one ordered sample per OnTick and exposes the current state, the
// current imbalance, and the completed history.
type Detector struct {
	cfg    Config
	fine   *market.FineWindow
	coarse *market.CoarseWindow
	logger *slog.Logger

	priceThreshold float64
	speedThreshold float64

	state     domain.ImbalanceState
	current   *domain.Imbalance
	completed []domain.Imbalance
}

// New creates a Detector in WAIT with unset thresholds.
func New(cfg Config, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		fine:   market.NewFineWindow(cfg.FineRetention),
		coarse: market.NewCoarseWindow(cfg.CoarseBucket, cfg.CoarseRetention),
		logger: logger.With(slog.String("component", "detector")),
		state:  domain.StateWait,
	}
}

// Calibrate receives fresh oracle figures and derives the price and speed
// thresholds. Zero volatility or average leaves both thresholds unset, which
// keeps the detector in WAIT.
func (d *Detector) Calibrate(volatility, average float64, _ time.Time) {
	if volatility == 0 || average == 0 {
		d.priceThreshold = 0
		d.speedThreshold = 0
		return
	}
	d.priceThreshold = average * d.cfg.PriceChangeModifier
	d.speedThreshold = average * d.cfg.SpeedModifier
}

// State returns the current state machine state.
func (d *Detector) State() domain.ImbalanceState {
	return d.state
}

// Current returns the imbalance in progress, or nil in WAIT.
func (d *Detector) Current() *domain.Imbalance {
	return d.current
}

// Completed returns the history of completed imbalances.
func (d *Detector) Completed() []domain.Imbalance {
	return d.completed
}

// Thresholds returns the calibrated price and speed thresholds.
func (d *Detector) Thresholds() (price, speed float64) {
	return d.priceThreshold, d.speedThreshold
}

// OnTick feeds one sample through the windows and the state machine.
func (d *Detector) OnTick(c domain.Candle) {
	d.fine.Add(c)
	d.coarse.Add(c)

	if d.state == domain.StateCompleted {
		d.completed = append(d.completed, *d.current)
		d.current = nil
		d.state = domain.StateWait
	}

	if d.priceThreshold == 0 || d.speedThreshold == 0 {
		return
	}

	switch d.state {
	case domain.StateWait:
		d.detect(c)
	case domain.StateProgress, domain.StatePotentialEndPoint:
		d.advance(c)
	}
}

// qualifies reports whether a raw price change over elapsed milliseconds
// passes the price and speed tests. The speed threshold is scaled down by
// priceThreshold/priceChange, so larger dislocations qualify at lower literal
// speeds.
func (d *Detector) qualifies(priceChange float64, elapsed int64) bool {
	if priceChange <= d.priceThreshold || elapsed <= 0 {
		return false
	}
	speed := priceChange / float64(elapsed)
	return speed > d.speedThreshold*d.priceThreshold/priceChange
}

// candidate is one possible imbalance start paired against the current
// sample.
type candidate struct {
	idx        int
	startTime  int64
	startPrice float64
	size       float64
	duration   int64
}

func (c candidate) speed() float64 {
	if c.duration <= 0 {
		return 0
	}
	return c.size / float64(c.duration)
}

// detect runs the WAIT-state backward scan: fix a provisional direction and
// start at the nearest qualifying sample, refine the start backward to the
// local extreme, then select the best surviving candidate.
func (d *Detector) detect(c domain.Candle) {
	samples := d.fine.Samples()
	now := c.UnixMilli()

	provIdx := -1
	var dir domain.ImbalanceType
	for i := len(samples) - 2; i >= 0; i-- {
		p := samples[i]
		elapsed := now - p.UnixMilli()
		upChange := c.High - p.Low
		downChange := p.High - c.Low
		upOK := d.qualifies(upChange, elapsed)
		downOK := d.qualifies(downChange, elapsed)
		if !upOK && !downOK {
			continue
		}
		if upOK && downOK {
			// Both directions qualify at this sample: the larger raw move wins.
			if upChange >= downChange {
				dir = domain.ImbalanceUp
			} else {
				dir = domain.ImbalanceDown
			}
		} else if upOK {
			dir = domain.ImbalanceUp
		} else {
			dir = domain.ImbalanceDown
		}
		provIdx = i
		break
	}
	if provIdx < 0 {
		return
	}

	cands := d.refine(samples, provIdx, dir, c, now)

	var maxSize float64
	for _, cd := range cands {
		if cd.size > maxSize {
			maxSize = cd.size
		}
	}

	var best *candidate
	for i := range cands {
		cd := cands[i]
		if cd.size < sizeCutoffRatio*maxSize {
			continue
		}
		if !d.isValid(cd, dir, c, samples) {
			continue
		}
		if best == nil || cd.speed() > best.speed() {
			best = &cands[i]
		}
	}
	if best == nil {
		return
	}

	imb := domain.Imbalance{
		ID:         uuid.NewString(),
		StartTime:  best.startTime,
		StartPrice: best.startPrice,
		EndTime:    now,
		Type:       dir,
	}
	if dir == domain.ImbalanceUp {
		imb.EndPrice = c.High
	} else {
		imb.EndPrice = c.Low
	}
	d.current = &imb
	d.state = domain.StateProgress

	d.logger.Debug("imbalance started",
		slog.String("type", string(dir)),
		slog.Float64("size", imb.Size()),
		slog.Int64("duration_ms", imb.Duration()),
	)
}

// refine collects the provisional candidate plus every earlier start, within
// the sub-window between the provisional start and the local extreme reached
// before it, that also passes the price/speed test against the current
// sample. The local extreme is found by walking backward while each sample
// extends the running extreme; the first non-extending sample stops the walk.
func (d *Detector) refine(samples []domain.Candle, provIdx int, dir domain.ImbalanceType, c domain.Candle, now int64) []candidate {
	mk := func(i int) candidate {
		p := samples[i]
		cd := candidate{idx: i, startTime: p.UnixMilli(), duration: now - p.UnixMilli()}
		if dir == domain.ImbalanceUp {
			cd.startPrice = p.Low
			cd.size = c.High - p.Low
		} else {
			cd.startPrice = p.High
			cd.size = p.High - c.Low
		}
		return cd
	}

	cands := []candidate{mk(provIdx)}

	extreme := cands[0].startPrice
	lowIdx := provIdx
	for j := provIdx - 1; j >= 0; j-- {
		p := samples[j]
		if dir == domain.ImbalanceUp {
			if p.Low >= extreme {
				break
			}
			extreme = p.Low
		} else {
			if p.High <= extreme {
				break
			}
			extreme = p.High
		}
		lowIdx = j
	}

	for j := lowIdx; j < provIdx; j++ {
		p := samples[j]
		elapsed := now - p.UnixMilli()
		var change float64
		if dir == domain.ImbalanceUp {
			change = c.High - p.Low
		} else {
			change = p.High - c.Low
		}
		if d.qualifies(change, elapsed) {
			cands = append(cands, mk(j))
		}
	}
	return cands
}

// isValid applies the candidate validity filter: minimum duration, boundary
// candle ranges below half the size, the monotonic extremum invariant over
// the interior, and the counter-imbalance guard over the coarse window.
func (d *Detector) isValid(cd candidate, dir domain.ImbalanceType, c domain.Candle, samples []domain.Candle) bool {
	if cd.duration <= d.cfg.MinDuration.Milliseconds() {
		return false
	}

	start := samples[cd.idx]
	if start.High-start.Low >= cd.size/2 {
		return false
	}
	if c.High-c.Low >= cd.size/2 {
		return false
	}

	var endPrice float64
	if dir == domain.ImbalanceUp {
		endPrice = c.High
	} else {
		endPrice = c.Low
	}
	for i := cd.idx + 1; i < len(samples)-1; i++ {
		if dir == domain.ImbalanceUp && samples[i].High > endPrice {
			return false
		}
		if dir == domain.ImbalanceDown && samples[i].Low < endPrice {
			return false
		}
	}

	// Only buckets lying fully before the start: the bucket spanning the
	// start sample also aggregates the move itself.
	from := cd.startTime - d.cfg.CounterLookback.Milliseconds()
	bucketMs := d.cfg.CoarseBucket.Milliseconds()
	for _, b := range d.coarse.Between(from, cd.startTime) {
		if b.Start.UnixMilli()+bucketMs > cd.startTime {
			continue
		}
		if dir == domain.ImbalanceUp && b.High > endPrice-counterRetraceRatio*cd.size {
			return false
		}
		if dir == domain.ImbalanceDown && b.Low < endPrice+counterRetraceRatio*cd.size {
			return false
		}
	}
	return true
}

// advance handles PROGRESS and POTENTIAL_END_POINT: extend the extreme, or
// complete after the silence guard, or (from PROGRESS) flag a potential end
// point. Neither state returns to WAIT directly.
func (d *Detector) advance(c domain.Candle) {
	now := c.UnixMilli()
	imb := *d.current

	extended := false
	if imb.Type == domain.ImbalanceUp && c.High > imb.EndPrice {
		imb.EndPrice = c.High
		extended = true
	} else if imb.Type == domain.ImbalanceDown && c.Low < imb.EndPrice {
		imb.EndPrice = c.Low
		extended = true
	}
	if extended {
		imb.EndTime = now
		d.current = &imb
		d.state = domain.StateProgress
		return
	}

	sinceExtreme := now - imb.EndTime
	completeAfter := float64(imb.Duration()) * d.cfg.CompleteTimeModifier
	if m := float64(d.cfg.MinCompleteTime.Milliseconds()); m > completeAfter {
		completeAfter = m
	}
	if float64(sinceExtreme) > completeAfter {
		imb.CompleteTime = now
		d.current = &imb
		d.state = domain.StateCompleted
		d.logger.Info("imbalance completed",
			slog.String("type", string(imb.Type)),
			slog.Float64("size", imb.Size()),
			slog.Int64("duration_ms", imb.Duration()),
		)
		return
	}

	if d.state == domain.StateProgress && d.isPotentialEndPoint(imb, c, sinceExtreme) {
		d.state = domain.StatePotentialEndPoint
	}
}

// isPotentialEndPoint checks the three-part provisional end condition: enough
// silence relative to the imbalance's strength, the price still near the
// extreme, and no coarse bucket since the extreme having retraced past the
// returned-price partition.
func (d *Detector) isPotentialEndPoint(imb domain.Imbalance, c domain.Candle, sinceExtreme int64) bool {
	size := imb.Size()
	if size <= 0 || d.priceThreshold <= 0 {
		return false
	}

	possible := float64(imb.Duration()) / (size / d.priceThreshold) * d.cfg.PotentialCompleteModifier
	if m := float64(d.cfg.MinPotentialCompleteTime.Milliseconds()); m > possible {
		possible = m
	}
	if float64(sinceExtreme) < possible {
		return false
	}

	pullback := imb.EndPrice - c.AvgPrice()
	if imb.Type == domain.ImbalanceDown {
		pullback = c.AvgPrice() - imb.EndPrice
	}
	if pullback > d.cfg.MaxValidImbalancePart*size {
		return false
	}

	for _, b := range d.coarse.Since(imb.EndTime) {
		if imb.Type == domain.ImbalanceUp && b.Low < imb.EndPrice-d.cfg.ReturnedPricePartition*size {
			return false
		}
		if imb.Type == domain.ImbalanceDown && b.High > imb.EndPrice+d.cfg.ReturnedPricePartition*size {
			return false
		}
	}
	return true
}
