package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/crosswire-trading/crosswire/internal/book"
)

// Quote is one venue's best bid/ask as of its most recently applied book
// update. A nil side means that side of the book is empty — never a price
// of zero. The entries are copies; holders never share memory with the
// adapter's live book.
type Quote struct {
	Bid *book.Entry
	Ask *book.Entry
}

// Complete reports whether both sides of the book are populated. The
// decision engine only compares complete quotes.
func (q Quote) Complete() bool {
	return q.Bid != nil && q.Ask != nil
}

// Venue is the capability set every trading venue exposes to the decision
// engine: a name, a taker fee, a stream of best-quote snapshots, and the
// persistent-liquidity feedback hooks. Adapters additionally have Subscribe
// and Run methods, but the engine never needs those.
type Venue interface {
	// Name identifies the venue in logs and journal keys.
	Name() string

	// Fee returns the venue's taker fee as a rate (0.01 = 1%).
	Fee() decimal.Decimal

	// Quotes returns the stream of refreshed best bid/ask pairs, one per
	// successfully decoded inbound message.
	Quotes() <-chan Quote

	// ApplyPersistentBuy feeds a simulated buy back into the venue's book
	// as a depletion of the resting best-ask amount. No-op when
	// persistent-liquidity mode is disabled.
	ApplyPersistentBuy(amount, price decimal.Decimal)

	// ApplyPersistentSell is the sell-side counterpart, depleting the
	// resting best bid.
	ApplyPersistentSell(amount, price decimal.Decimal)
}

// Runner is implemented by adapters that need a long-lived processing
// goroutine alongside the engine.
type Runner interface {
	Run(ctx context.Context)
}

// FeedClient is the transport surface a venue adapter consumes. Satisfied
// by *WSClient; tests substitute a channel-backed fake.
type FeedClient interface {
	Send(data []byte)
	Inbound() <-chan []byte
	OnReconnect(fn func())
}
