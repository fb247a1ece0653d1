package domain

import (
	"testing"
	"time"
)

func TestImbalanceSizeAndSpeed(t *testing.T) {
	up := Imbalance{StartTime: 0, StartPrice: 19900, EndTime: 5000, EndPrice: 20500, Type: ImbalanceUp}
	if up.Size() != 600 {
		t.Errorf("expected UP size 600, got %v", up.Size())
	}
	if up.Duration() != 5000 {
		t.Errorf("expected duration 5000ms, got %d", up.Duration())
	}
	if up.Speed() != 0.12 {
		t.Errorf("expected speed 0.12 per ms, got %v", up.Speed())
	}

	down := Imbalance{StartTime: 0, StartPrice: 20500, EndTime: 5000, EndPrice: 19900, Type: ImbalanceDown}
	if down.Size() != 600 {
		t.Errorf("expected DOWN size 600, got %v", down.Size())
	}

	degenerate := Imbalance{StartTime: 1000, EndTime: 1000}
	if degenerate.Speed() != 0 {
		t.Errorf("expected zero speed for zero duration, got %v", degenerate.Speed())
	}
}

func TestCandleAvgPrice(t *testing.T) {
	c := Candle{Time: time.UnixMilli(1_600_000_200_000), High: 20050, Low: 19950}
	if c.AvgPrice() != 20000 {
		t.Errorf("expected average 20000, got %v", c.AvgPrice())
	}
	if c.UnixMilli() != 1_600_000_200_000 {
		t.Errorf("expected millisecond timestamp preserved, got %d", c.UnixMilli())
	}
}

func TestPositionProfit(t *testing.T) {
	long := Position{
		Order:         Order{Type: OrderLong},
		OpenPrice:     20000,
		ClosePrice:    21000,
		AmountInAsset: 1.5,
		OpenFee:       10.8,
		CloseFee:      11.34,
	}
	if long.ProfitAt(20500) != 750 {
		t.Errorf("expected long profit 750 at 20500, got %v", long.ProfitAt(20500))
	}
	if long.RealizedPnL() != 1500 {
		t.Errorf("expected realized pnl 1500, got %v", long.RealizedPnL())
	}
	if got := long.NetPnL(); got != 1500-10.8-11.34 {
		t.Errorf("expected net pnl after fees, got %v", got)
	}

	short := Position{
		Order:         Order{Type: OrderShort},
		OpenPrice:     20000,
		ClosePrice:    19000,
		AmountInAsset: 2,
	}
	if short.RealizedPnL() != 2000 {
		t.Errorf("expected short pnl 2000, got %v", short.RealizedPnL())
	}
	if short.ProfitAt(20500) != -1000 {
		t.Errorf("expected short loss -1000 at 20500, got %v", short.ProfitAt(20500))
	}
}
