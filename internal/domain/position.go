package domain

import "time"

// Position is opened when an order fills. While open, ClosePrice and CloseFee
// are provisional marks recomputed against each tick; they freeze when the
// position closes.
type Position struct {
	ID              string
	Order           Order
	OpenPrice       float64
	OpenTime        time.Time
	TakeProfitPrice float64
	StopLossPrice   float64
	ClosePrice      float64
	CloseTime       time.Time
	AmountInAsset   float64
	OpenFee         float64
	CloseFee        float64
	IsOpen          bool
}

// ProfitAt returns the PnL of the position if it were closed at price,
// excluding fees.
func (p Position) ProfitAt(price float64) float64 {
	if p.Order.Type == OrderLong {
		return (price - p.OpenPrice) * p.AmountInAsset
	}
	return (p.OpenPrice - price) * p.AmountInAsset
}

// RealizedPnL is the fee-exclusive profit of a closed position.
func (p Position) RealizedPnL() float64 {
	return p.ProfitAt(p.ClosePrice)
}

// NetPnL is the realized profit after both fees.
func (p Position) NetPnL() float64 {
	return p.RealizedPnL() - p.OpenFee - p.CloseFee
}
