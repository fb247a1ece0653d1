// Package strategy implements the decision state machine that consumes
// detector state transitions and drives staged contrarian entries, breakeven
// management, and timeout exits through the exchange simulator.
package strategy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/okarpov/imbalancer/internal/detector"
	"github.com/okarpov/imbalancer/internal/domain"
	"github.com/okarpov/imbalancer/internal/exchange"
)

// State is the strategy engine's state machine state.
type State string

const (
	StateWaitImbalance       State = "WAIT_IMBALANCE"
	StateEntryPointSearch    State = "ENTRY_POINT_SEARCH"
	StatePositionsOpened     State = "POSITIONS_OPENED"
	StateWaitPositionsClosed State = "WAIT_POSITIONS_CLOSED"
)

// Config holds the strategy's tunable parameters. The number of entry stages
// is the length of TakeProfitFractions.
type Config struct {
	// TakeProfitFractions, one per stage in increasing order, are the
	// fractions of imbalance size at which each stage takes profit.
	TakeProfitFractions []float64
	// StopLossModifier places the single shared stop-loss at
	// endPrice ± size × modifier.
	StopLossModifier float64
	// MaxPositionLiveTime force-closes any position older than this at the
	// current average price.
	MaxPositionLiveTime time.Duration
}

// Engine reacts to detector state each tick: it waits for an imbalance, times
// the entry off the potential end point, opens N staged contrarian market
// orders, and manages the tail of the trade.
type Engine struct {
	cfg      Config
	detector *detector.Detector
	exchange *exchange.Simulator
	account  *exchange.Account
	logger   *slog.Logger

	state State
}

// New creates an Engine in WAIT_IMBALANCE.
func New(cfg Config, det *detector.Detector, ex *exchange.Simulator, acct *exchange.Account, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		detector: det,
		exchange: ex,
		account:  acct,
		logger:   logger.With(slog.String("component", "strategy")),
		state:    StateWaitImbalance,
	}
}

// State returns the current state machine state.
func (e *Engine) State() State {
	return e.state
}

// OnTick advances the state machine one step. It runs after the detector and
// before the simulator in the tick pipeline. A returned error is a state
// invariant violation and must abort the run.
func (e *Engine) OnTick(c domain.Candle) error {
	switch e.state {
	case StateWaitImbalance:
		if e.detector.State() == domain.StateProgress {
			e.state = StateEntryPointSearch
		}
	case StateEntryPointSearch:
		switch e.detector.State() {
		case domain.StatePotentialEndPoint:
			return e.enter(c)
		case domain.StateProgress:
			// Still running; keep waiting for the potential end point.
		default:
			e.state = StateWaitImbalance
		}
	case StatePositionsOpened:
		e.exchange.CloseAged(c, e.cfg.MaxPositionLiveTime)
		e.manageStages(c)
	case StateWaitPositionsClosed:
		e.exchange.CloseAged(c, e.cfg.MaxPositionLiveTime)
		if len(e.exchange.OpenPositions()) == 0 {
			e.state = StateWaitImbalance
		}
	}
	return nil
}

// enter opens one market order per stage, contrarian to the imbalance:
// SHORT against UP, LONG against DOWN. Each stage has its own take-profit
// fraction; the stop-loss is shared.
func (e *Engine) enter(c domain.Candle) error {
	if len(e.exchange.OpenPositions()) > 0 {
		return fmt.Errorf("strategy: entry requested with positions open: %w", domain.ErrPositionAlreadyOpen)
	}

	imb := e.detector.Current()
	size := imb.Size()
	n := len(e.cfg.TakeProfitFractions)
	money := e.account.PositionSize() / float64(n)

	var orderType domain.OrderType
	var stopLoss float64
	if imb.Type == domain.ImbalanceUp {
		orderType = domain.OrderShort
		stopLoss = imb.EndPrice + size*e.cfg.StopLossModifier
	} else {
		orderType = domain.OrderLong
		stopLoss = imb.EndPrice - size*e.cfg.StopLossModifier
	}

	for _, frac := range e.cfg.TakeProfitFractions {
		var takeProfit float64
		if imb.Type == domain.ImbalanceUp {
			takeProfit = imb.EndPrice - frac*size
		} else {
			takeProfit = imb.EndPrice + frac*size
		}
		e.exchange.PlaceOrder(domain.Order{
			Type:            orderType,
			Execution:       domain.ExecutionMarket,
			Price:           c.AvgPrice(),
			TakeProfitPrice: takeProfit,
			StopLossPrice:   stopLoss,
			MoneyAmount:     money,
			CreateTime:      c.Time,
		}, c)
	}

	e.logger.Info("entered against imbalance",
		slog.String("imbalance", string(imb.Type)),
		slog.String("side", string(orderType)),
		slog.Int("stages", n),
		slog.Float64("money_per_stage", money),
		slog.Float64("stop_loss", stopLoss),
	)

	if n == 1 {
		e.state = StateWaitPositionsClosed
	} else {
		e.state = StatePositionsOpened
	}
	return nil
}

// manageStages watches the staged exits: when every stage is gone the trade
// is over; when exactly one stage remains and its profit covers twice its
// combined fees, the stop-loss moves to breakeven and the engine only waits
// for the close.
func (e *Engine) manageStages(c domain.Candle) {
	open := e.exchange.OpenPositions()
	if len(open) == 0 {
		e.state = StateWaitImbalance
		return
	}
	if len(open) != 1 {
		return
	}

	p := open[0]
	profit := p.ProfitAt(c.AvgPrice())
	fees := p.OpenFee + p.CloseFee
	if profit <= 2*fees {
		return
	}

	be := breakeven(p)
	if err := e.exchange.SetStopLoss(p.ID, be); err != nil {
		e.logger.Warn("breakeven stop move failed", slog.String("error", err.Error()))
		return
	}
	e.logger.Info("stop moved to breakeven",
		slog.Float64("open_price", p.OpenPrice),
		slog.Float64("breakeven", be),
	)
	e.state = StateWaitPositionsClosed
}

// breakeven is the exit price at which the position nets zero after both
// fees, using the current provisional close fee.
func breakeven(p *domain.Position) float64 {
	feePerAsset := (p.OpenFee + p.CloseFee) / p.AmountInAsset
	if p.Order.Type == domain.OrderLong {
		return p.OpenPrice + feePerAsset
	}
	return p.OpenPrice - feePerAsset
}
