package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/okarpov/imbalancer/internal/domain"
)

// Report is the outbound summary of one run: the completed imbalances, every
// position (open and closed), and aggregate figures. Money aggregates are
// rounded to 2 dp through decimal arithmetic so the serialized report is
// stable; the core ledger itself stays in float64.
type Report struct {
	RunID   string    `json:"run_id"`
	Symbol  string    `json:"symbol"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Candles int       `json:"candles"`

	InitialBalance float64 `json:"initial_balance"`
	FinalBalance   float64 `json:"final_balance"`

	Trades    int     `json:"trades"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	WinRate   float64 `json:"win_rate"`
	TotalPnL  float64 `json:"total_pnl"`
	TotalFees float64 `json:"total_fees"`

	Imbalances []domain.Imbalance `json:"imbalances"`
	Positions  []domain.Position  `json:"positions"`
}

func buildReport(runID, symbol string, candles []domain.Candle, initial, final float64, imbs []domain.Imbalance, positions []domain.Position) Report {
	rep := Report{
		RunID:          runID,
		Symbol:         symbol,
		Candles:        len(candles),
		InitialBalance: initial,
		FinalBalance:   final,
		Imbalances:     imbs,
		Positions:      positions,
	}
	if len(candles) > 0 {
		rep.From = candles[0].Time
		rep.To = candles[len(candles)-1].Time
	}

	pnl := decimal.Zero
	fees := decimal.Zero
	for _, p := range positions {
		if p.IsOpen {
			continue
		}
		rep.Trades++
		net := p.NetPnL()
		if net > 0 {
			rep.Wins++
		} else {
			rep.Losses++
		}
		pnl = pnl.Add(decimal.NewFromFloat(p.RealizedPnL()))
		fees = fees.Add(decimal.NewFromFloat(p.OpenFee)).Add(decimal.NewFromFloat(p.CloseFee))
	}
	if rep.Trades > 0 {
		rep.WinRate = float64(rep.Wins) / float64(rep.Trades)
	}
	rep.TotalPnL = pnl.Round(2).InexactFloat64()
	rep.TotalFees = fees.Round(2).InexactFloat64()
	return rep
}
