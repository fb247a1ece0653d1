package exchange

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/okarpov/imbalancer/internal/domain"
)

// Simulator fills orders and settles PnL against tick data. Opening a
// position subtracts the open fee from the account; closing adds
// profitLoss − closeFee. Fees are amount × notionalPrice × feeRate, computed
// independently at open and close.
type Simulator struct {
	account *Account
	feeRate float64
	logger  *slog.Logger

	resting []*domain.Order
	open    []*domain.Position
	closed  []domain.Position
}

// NewSimulator creates a Simulator settling into the given account at the
// given fixed fee rate.
func NewSimulator(account *Account, feeRate float64, logger *slog.Logger) *Simulator {
	return &Simulator{
		account: account,
		feeRate: feeRate,
		logger:  logger.With(slog.String("component", "exchange")),
	}
}

// PlaceOrder accepts an order from the strategy. Market orders fill
// immediately at the current tick's average price; limit orders rest until
// their price is reachable.
func (s *Simulator) PlaceOrder(o domain.Order, c domain.Candle) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Execution == domain.ExecutionMarket {
		s.fill(&o, c.AvgPrice(), c.Time)
		return
	}
	s.resting = append(s.resting, &o)
}

// CancelOrder marks a resting order cancelled; it will be dropped on the
// next tick scan.
func (s *Simulator) CancelOrder(id string) error {
	for _, o := range s.resting {
		if o.ID == id {
			o.Cancelled = true
			return nil
		}
	}
	return domain.ErrOrderNotFound
}

// OnTick matches resting limit orders against the tick, then evaluates every
// open position for a take-profit or stop-loss crossing; positions that do
// not cross have their provisional close price and fee re-marked.
func (s *Simulator) OnTick(c domain.Candle) {
	s.matchResting(c)
	s.evaluatePositions(c)
}

func (s *Simulator) matchResting(c domain.Candle) {
	var keep []*domain.Order
	for _, o := range s.resting {
		if o.Cancelled || o.Filled {
			continue
		}
		executable := (o.Type == domain.OrderLong && c.Low <= o.Price) ||
			(o.Type == domain.OrderShort && c.High >= o.Price)
		if executable {
			s.fill(o, o.Price, c.Time)
			continue
		}
		keep = append(keep, o)
	}
	s.resting = keep
}

func (s *Simulator) fill(o *domain.Order, price float64, ts time.Time) {
	o.Filled = true
	amount := o.MoneyAmount / price
	openFee := amount * price * s.feeRate
	s.account.UpdateBalance(-openFee)

	p := &domain.Position{
		ID:              uuid.NewString(),
		Order:           *o,
		OpenPrice:       price,
		OpenTime:        ts,
		TakeProfitPrice: o.TakeProfitPrice,
		StopLossPrice:   o.StopLossPrice,
		AmountInAsset:   amount,
		OpenFee:         openFee,
		IsOpen:          true,
	}
	s.open = append(s.open, p)

	s.logger.Debug("position opened",
		slog.String("type", string(o.Type)),
		slog.Float64("price", price),
		slog.Float64("amount", amount),
		slog.Float64("open_fee", openFee),
	)
}

func (s *Simulator) evaluatePositions(c domain.Candle) {
	var stillOpen []*domain.Position
	for _, p := range s.open {
		closePrice, crossed := crossing(p, c)
		if crossed {
			s.close(p, closePrice, c.Time)
			continue
		}
		// Provisional mark at the favorable extreme, for reporting only.
		if p.Order.Type == domain.OrderLong {
			p.ClosePrice = c.High
		} else {
			p.ClosePrice = c.Low
		}
		p.CloseFee = p.AmountInAsset * p.ClosePrice * s.feeRate
		stillOpen = append(stillOpen, p)
	}
	s.open = stillOpen
}

// crossing returns the exact exit price if the tick's range crosses the
// position's take-profit or stop-loss.
func crossing(p *domain.Position, c domain.Candle) (float64, bool) {
	if p.Order.Type == domain.OrderLong {
		if c.High >= p.TakeProfitPrice {
			return p.TakeProfitPrice, true
		}
		if c.Low <= p.StopLossPrice {
			return p.StopLossPrice, true
		}
		return 0, false
	}
	if c.Low <= p.TakeProfitPrice {
		return p.TakeProfitPrice, true
	}
	if c.High >= p.StopLossPrice {
		return p.StopLossPrice, true
	}
	return 0, false
}

func (s *Simulator) close(p *domain.Position, price float64, ts time.Time) {
	p.ClosePrice = price
	p.CloseTime = ts
	p.CloseFee = p.AmountInAsset * price * s.feeRate
	p.IsOpen = false

	pnl := p.RealizedPnL()
	s.account.UpdateBalance(pnl - p.CloseFee)
	s.closed = append(s.closed, *p)

	s.logger.Debug("position closed",
		slog.String("type", string(p.Order.Type)),
		slog.Float64("close_price", price),
		slog.Float64("pnl", pnl),
		slog.Float64("close_fee", p.CloseFee),
		slog.Float64("balance", s.account.Balance()),
	)
}

// CloseAged force-closes every open position older than maxAge at the
// current tick's average price, regardless of TP/SL.
func (s *Simulator) CloseAged(c domain.Candle, maxAge time.Duration) {
	var stillOpen []*domain.Position
	for _, p := range s.open {
		if c.Time.Sub(p.OpenTime) > maxAge {
			s.close(p, c.AvgPrice(), c.Time)
			continue
		}
		stillOpen = append(stillOpen, p)
	}
	s.open = stillOpen
}

// SetStopLoss moves the stop-loss of an open position.
func (s *Simulator) SetStopLoss(id string, price float64) error {
	for _, p := range s.open {
		if p.ID == id {
			p.StopLossPrice = price
			return nil
		}
	}
	return domain.ErrNotFound
}

// OpenPositions returns the currently open positions.
func (s *Simulator) OpenPositions() []*domain.Position {
	return s.open
}

// Positions returns all positions produced by the run, closed first, then
// any still open.
func (s *Simulator) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(s.closed)+len(s.open))
	out = append(out, s.closed...)
	for _, p := range s.open {
		out = append(out, *p)
	}
	return out
}

// Account returns the ledger the simulator settles into.
func (s *Simulator) Account() *Account {
	return s.account
}
