// Package exchange simulates an exchange for backtesting: it fills orders,
// evaluates take-profit and stop-loss crossings against each tick, and
// settles fees and PnL into the account ledger.
package exchange

// Account tracks the simulated balance and derives position sizing from it.
// Balance is only mutated through UpdateBalance, and only by the simulator.
// It may go negative from cumulative losses; no clamping is applied.
type Account struct {
	balance          float64
	riskPercentage   float64
	creditMultiplier float64
}

// NewAccount creates an Account with the starting balance, risk fraction,
// and leverage multiplier.
func NewAccount(balance, riskPercentage, creditMultiplier float64) *Account {
	return &Account{
		balance:          balance,
		riskPercentage:   riskPercentage,
		creditMultiplier: creditMultiplier,
	}
}

// Balance returns the current balance.
func (a *Account) Balance() float64 {
	return a.balance
}

// PositionSize is balance × risk × leverage, recomputed from the current
// balance at every entry.
func (a *Account) PositionSize() float64 {
	return a.balance * a.riskPercentage * a.creditMultiplier
}

// UpdateBalance applies a fee or PnL delta.
func (a *Account) UpdateBalance(delta float64) {
	a.balance += delta
}
