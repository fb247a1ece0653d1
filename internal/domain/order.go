package domain

import "time"

// OrderType is the direction of the simulated position the order opens.
type OrderType string

const (
	OrderLong  OrderType = "LONG"
	OrderShort OrderType = "SHORT"
)

// ExecutionType selects how the simulator fills the order.
type ExecutionType string

const (
	ExecutionMarket ExecutionType = "MARKET"
	ExecutionLimit  ExecutionType = "LIMIT"
)

// Order is created by the strategy engine and consumed, filled, or cancelled
// exclusively by the exchange simulator.
type Order struct {
	ID              string
	Type            OrderType
	Execution       ExecutionType
	Price           float64
	TakeProfitPrice float64
	StopLossPrice   float64
	MoneyAmount     float64
	CreateTime      time.Time
	Filled          bool
	Cancelled       bool
}
