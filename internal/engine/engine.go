package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crosswire-trading/crosswire/internal/venue"
)

var two = decimal.NewFromInt(2)

// Skip reasons returned by a single engine pass. None of them mutate any
// wallet; the loop simply moves on to the next event.
var (
	ErrIncompleteBooks = errors.New("not every venue has a two-sided book")
	ErrSameVenue       = errors.New("best ask and best bid on the same venue")
	ErrNoSpread        = errors.New("spread not positive")
	ErrFeedUnhealthy   = errors.New("feed health gate blocked the trade")
	ErrZeroAmount      = errors.New("tradable amount is zero")
	ErrNotProfitable   = errors.New("fees consume the spread")
)

// FeedGate gates trade execution on feed quality. Satisfied by
// venue.Health; nil disables gating.
type FeedGate interface {
	Record(venue string)
	CanTrade(venue string) bool
}

// Trade describes one executed paper trade: a buy on one venue paired with
// a sell on another.
type Trade struct {
	BuyVenue  string
	SellVenue string
	Amount    decimal.Decimal
	BuyPrice  decimal.Decimal
	SellPrice decimal.Decimal

	// Total is the combined value of both wallets at the reference price;
	// PL is Total over twice the starting value, minus one.
	Total decimal.Decimal
	PL    decimal.Decimal

	Timestamp time.Time
}

// Engine is the arbitrage decision loop. On every merged quote event it
// picks the cheapest ask and richest bid across venues, sizes a trade
// against liquidity and wallet balances, and — when profitable after fees —
// applies it to both paper wallets.
//
// The engine exclusively owns the wallets; nothing else mutates them.
type Engine struct {
	mux     *Mux
	venues  []venue.Venue
	wallets []*Wallet
	gate    FeedGate

	startingValue decimal.Decimal
	initialized   bool

	trades chan Trade
}

// New creates an Engine. venues and wallets are parallel slices in mux
// venue order. startingValue is the per-wallet starting quote budget, used
// for the P&L denominator.
func New(mux *Mux, venues []venue.Venue, wallets []*Wallet, gate FeedGate, startingValue decimal.Decimal) *Engine {
	return &Engine{
		mux:           mux,
		venues:        venues,
		wallets:       wallets,
		gate:          gate,
		startingValue: startingValue,
		trades:        make(chan Trade, 256),
	}
}

// Trades returns the stream of executed paper trades.
func (e *Engine) Trades() <-chan Trade {
	return e.trades
}

// Run drives one engine pass per merged quote event. It blocks until ctx
// is cancelled; feed errors never terminate the loop.
func (e *Engine) Run(ctx context.Context) {
	log.Printf("engine: initialized, starting")

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.mux.Events():
			if e.gate != nil {
				e.gate.Record(e.venues[ev.Venue].Name())
			}
			e.step()
		}
	}
}

// step runs one decision pass over the latest quotes. It returns nil when
// a trade was executed, or the skip reason otherwise.
func (e *Engine) step() error {
	quotes := e.mux.Quotes()
	for _, q := range quotes {
		if !q.Complete() {
			return ErrIncompleteBooks
		}
	}

	// The first complete pass fixes the reference price (first venue's
	// best bid) and splits each wallet's budget into half quote, half
	// base.
	if !e.initialized {
		ref := quotes[0].Bid.Price
		for i, w := range e.wallets {
			w.Rebalance(ref)
			log.Printf("engine: %s wallet rebalanced: %s", e.venues[i].Name(), w)
		}
		e.initialized = true
	}

	// Buy where the ask is globally cheapest, sell where the bid is
	// globally richest. Strict comparisons keep ties on the
	// earlier-indexed venue.
	buy, sell := 0, 0
	for i := 1; i < len(quotes); i++ {
		if quotes[i].Ask.Price.LessThan(quotes[buy].Ask.Price) {
			buy = i
		}
		if quotes[i].Bid.Price.GreaterThan(quotes[sell].Bid.Price) {
			sell = i
		}
	}
	if buy == sell {
		return ErrSameVenue
	}

	buyAsk := *quotes[buy].Ask
	sellBid := *quotes[sell].Bid

	if spread(buyAsk.Price, sellBid.Price).Sign() <= 0 {
		return ErrNoSpread
	}

	buyName, sellName := e.venues[buy].Name(), e.venues[sell].Name()
	if e.gate != nil && (!e.gate.CanTrade(buyName) || !e.gate.CanTrade(sellName)) {
		return ErrFeedUnhealthy
	}

	if buyAsk.Price.Sign() <= 0 {
		return ErrZeroAmount
	}

	// Size against resting liquidity on both legs and the base we hold on
	// the sell venue, then cap by the quote budget funding the buy leg.
	amount := decimal.Min(buyAsk.Amount, sellBid.Amount, e.wallets[sell].Base)
	budget := decimal.Min(e.wallets[buy].Quote, amount.Mul(buyAsk.Price))
	amount = budget.Div(buyAsk.Price)
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	buyFee, sellFee := e.venues[buy].Fee(), e.venues[sell].Fee()
	proceeds := amount.Mul(sellBid.Price)
	cost := amount.Mul(buyAsk.Price)
	net := proceeds.Sub(cost).Sub(proceeds.Mul(sellFee)).Sub(cost.Mul(buyFee))
	if net.Sign() <= 0 {
		return ErrNotProfitable
	}

	e.wallets[buy].Buy(amount, buyAsk.Price)
	e.wallets[sell].Sell(amount, sellBid.Price)

	e.venues[buy].ApplyPersistentBuy(amount, buyAsk.Price)
	e.venues[sell].ApplyPersistentSell(amount, sellBid.Price)

	// Reference price for P&L: the buy venue's current best bid. A
	// deliberate simplification, not a true mark price.
	ref := quotes[buy].Bid.Price
	total, pl := e.markToMarket(ref)

	log.Printf("engine: BUY  on %s amount=%s price=%s", buyName, amount, buyAsk.Price)
	log.Printf("engine: SELL on %s amount=%s price=%s", sellName, amount, sellBid.Price)
	log.Printf("engine: %s wallet %s", buyName, e.wallets[buy])
	log.Printf("engine: %s wallet %s", sellName, e.wallets[sell])
	log.Printf("engine: total balance %s, P&L %s%%", total, pl.Mul(decimal.NewFromInt(100)).StringFixed(4))

	trade := Trade{
		BuyVenue:  buyName,
		SellVenue: sellName,
		Amount:    amount,
		BuyPrice:  buyAsk.Price,
		SellPrice: sellBid.Price,
		Total:     total,
		PL:        pl,
		Timestamp: time.Now(),
	}
	select {
	case e.trades <- trade:
	default:
		// Trade stream observer is behind; the wallets are authoritative.
	}
	return nil
}

// spread is the normalized difference between a sell-side bid and a
// buy-side ask: (bid − ask) / midpoint.
func spread(ask, bid decimal.Decimal) decimal.Decimal {
	mid := bid.Add(ask).Div(two)
	if mid.IsZero() {
		return decimal.Zero
	}
	return bid.Sub(ask).Div(mid)
}

// markToMarket values both wallets at the reference price and derives the
// realized P&L against the combined starting budget.
func (e *Engine) markToMarket(ref decimal.Decimal) (total, pl decimal.Decimal) {
	total = decimal.Zero
	for _, w := range e.wallets {
		total = total.Add(w.Quote).Add(w.Base.Mul(ref))
	}
	pl = total.Div(e.startingValue.Mul(two)).Sub(decimal.NewFromInt(1))
	return total, pl
}
