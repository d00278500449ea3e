package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Wallet is the paper-trading ledger for one venue: a base-asset balance
// and a quote-currency balance. Fees are charged in quote currency at the
// venue's taker rate. The quote balance is clamped to zero on underflow —
// a known approximation tolerating rounding artifacts from repeated
// simulated trading, not an error condition.
type Wallet struct {
	Base  decimal.Decimal
	Quote decimal.Decimal

	feeRate decimal.Decimal
}

// NewWallet creates a wallet holding startingQuote of quote currency and no
// base asset. feeRate is the venue's taker fee (0.01 = 1%).
func NewWallet(startingQuote, feeRate decimal.Decimal) *Wallet {
	return &Wallet{
		Quote:   startingQuote,
		feeRate: feeRate,
	}
}

// FeeRate returns the wallet's taker fee rate.
func (w *Wallet) FeeRate() decimal.Decimal {
	return w.feeRate
}

// Rebalance halves the quote balance and converts the other half into base
// at the given price. Intended to run exactly once, the first time a
// reference price is observed; the caller owns that gating.
func (w *Wallet) Rebalance(price decimal.Decimal) {
	half := w.Quote.Div(two)
	w.Base = half.Div(price)
	w.Quote = half
}

// Buy credits base and debits quote by cost plus fee.
func (w *Wallet) Buy(amount, price decimal.Decimal) {
	cost := amount.Mul(price)
	fee := cost.Mul(w.feeRate)

	w.Base = w.Base.Add(amount)
	w.Quote = w.Quote.Sub(cost.Add(fee))
	if w.Quote.IsNegative() {
		w.Quote = decimal.Zero
	}
}

// Sell debits base and credits quote by proceeds minus fee.
func (w *Wallet) Sell(amount, price decimal.Decimal) {
	proceeds := amount.Mul(price)
	fee := proceeds.Mul(w.feeRate)

	w.Base = w.Base.Sub(amount)
	w.Quote = w.Quote.Add(proceeds.Sub(fee))
}

func (w *Wallet) String() string {
	return fmt.Sprintf("base=%s quote=%s", w.Base, w.Quote)
}
