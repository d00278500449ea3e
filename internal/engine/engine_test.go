package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crosswire-trading/crosswire/internal/book"
	"github.com/crosswire-trading/crosswire/internal/venue"
)

// fakeVenue is a channel-backed venue.Venue recording persistent-trade
// notifications.
type fakeVenue struct {
	name string
	fee  decimal.Decimal
	ch   chan venue.Quote

	mu    sync.Mutex
	buys  []fakeFill
	sells []fakeFill
}

type fakeFill struct {
	amount decimal.Decimal
	price  decimal.Decimal
}

func newFakeVenue(name, feePct string) *fakeVenue {
	return &fakeVenue{
		name: name,
		fee:  dec(feePct),
		ch:   make(chan venue.Quote, 64),
	}
}

func (f *fakeVenue) Name() string               { return f.name }
func (f *fakeVenue) Fee() decimal.Decimal       { return f.fee }
func (f *fakeVenue) Quotes() <-chan venue.Quote { return f.ch }

func (f *fakeVenue) ApplyPersistentBuy(amount, price decimal.Decimal) {
	f.mu.Lock()
	f.buys = append(f.buys, fakeFill{amount, price})
	f.mu.Unlock()
}

func (f *fakeVenue) ApplyPersistentSell(amount, price decimal.Decimal) {
	f.mu.Lock()
	f.sells = append(f.sells, fakeFill{amount, price})
	f.mu.Unlock()
}

func (f *fakeVenue) buyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buys)
}

func (f *fakeVenue) sellCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sells)
}

// quote builds a complete two-sided quote.
func quote(bidPrice, bidAmount, askPrice, askAmount string) venue.Quote {
	bid := book.Entry{Price: dec(bidPrice), Amount: dec(bidAmount)}
	ask := book.Entry{Price: dec(askPrice), Amount: dec(askAmount)}
	return venue.Quote{Bid: &bid, Ask: &ask}
}

// setupEngine wires an engine over two fake venues with the mux publication
// cells pre-seeded, bypassing the goroutine plumbing for deterministic
// single-pass tests.
func setupEngine(t *testing.T, feeA, feeB string, quotes ...venue.Quote) (*Engine, *fakeVenue, *fakeVenue) {
	t.Helper()

	va := newFakeVenue("venue-a", feeA)
	vb := newFakeVenue("venue-b", feeB)
	m := NewMux(va, vb)
	for i, q := range quotes {
		m.latest[i] = q
	}

	start := dec("1000")
	wallets := []*Wallet{
		NewWallet(start, va.fee),
		NewWallet(start, vb.fee),
	}

	eng := New(m, []venue.Venue{va, vb}, wallets, nil, start)
	return eng, va, vb
}

func TestEngine_BuysCheapestAskSellsRichestBid(t *testing.T) {
	// Venue A: ask 100 / bid 99. Venue B: ask 98 / bid 97.
	// The only valid direction is buy on B at 98, sell on A at 99.
	eng, va, vb := setupEngine(t, "0", "0",
		quote("99", "1", "100", "1"),
		quote("97", "1", "98", "1"),
	)

	if err := eng.step(); err != nil {
		t.Fatalf("expected trade, got skip: %v", err)
	}

	select {
	case tr := <-eng.Trades():
		if tr.BuyVenue != "venue-b" || tr.SellVenue != "venue-a" {
			t.Fatalf("wrong direction: buy %s sell %s", tr.BuyVenue, tr.SellVenue)
		}
		if !tr.BuyPrice.Equal(dec("98")) || !tr.SellPrice.Equal(dec("99")) {
			t.Fatalf("wrong prices: buy %s sell %s", tr.BuyPrice, tr.SellPrice)
		}
		if !tr.Amount.Equal(dec("1")) {
			t.Fatalf("wrong amount: %s", tr.Amount)
		}
	default:
		t.Fatal("no trade emitted")
	}

	if vb.buyCount() != 1 || va.sellCount() != 1 {
		t.Fatalf("persistent hooks: want 1 buy on B and 1 sell on A, got %d/%d",
			vb.buyCount(), va.sellCount())
	}
	if va.buyCount() != 0 || vb.sellCount() != 0 {
		t.Fatal("persistent hooks fired on the wrong venues")
	}
}

func TestEngine_RebalancesOnceOnFirstCompletePass(t *testing.T) {
	// Negative spread everywhere: no trade, but the first complete pass
	// still splits both wallets at the reference price (venue A's bid).
	eng, _, _ := setupEngine(t, "0", "0",
		quote("10", "1", "12", "1"),
		quote("9", "1", "11.5", "1"),
	)

	if err := eng.step(); err != ErrNoSpread {
		t.Fatalf("want ErrNoSpread, got %v", err)
	}

	for i, w := range eng.wallets {
		if !w.Base.Equal(dec("50")) {
			t.Errorf("wallet %d base: want 50, got %s", i, w.Base)
		}
		if !w.Quote.Equal(dec("500")) {
			t.Errorf("wallet %d quote: want 500, got %s", i, w.Quote)
		}
	}

	// A second pass must not rebalance again.
	if err := eng.step(); err != ErrNoSpread {
		t.Fatalf("want ErrNoSpread, got %v", err)
	}
	if !eng.wallets[0].Quote.Equal(dec("500")) {
		t.Errorf("second pass rebalanced again: quote %s", eng.wallets[0].Quote)
	}
}

func TestEngine_SkipsIncompleteBooks(t *testing.T) {
	ask := book.Entry{Price: dec("100"), Amount: dec("1")}
	eng, _, _ := setupEngine(t, "0", "0",
		venue.Quote{Ask: &ask}, // bid side missing
		quote("97", "1", "98", "1"),
	)

	if err := eng.step(); err != ErrIncompleteBooks {
		t.Fatalf("want ErrIncompleteBooks, got %v", err)
	}
	if eng.initialized {
		t.Fatal("wallets must not be rebalanced on an incomplete pass")
	}
	if !eng.wallets[0].Quote.Equal(dec("1000")) {
		t.Fatalf("wallet mutated on incomplete pass: %s", eng.wallets[0])
	}
}

func TestEngine_SkipsWhenBestPairOnSameVenue(t *testing.T) {
	// Venue B holds both the cheapest ask and the richest bid.
	eng, va, vb := setupEngine(t, "0", "0",
		quote("97", "1", "100", "1"),
		quote("99", "1", "98", "1"),
	)
	eng.initialized = true

	if err := eng.step(); err != ErrSameVenue {
		t.Fatalf("want ErrSameVenue, got %v", err)
	}
	if !eng.wallets[0].Quote.Equal(dec("1000")) || !eng.wallets[1].Quote.Equal(dec("1000")) {
		t.Fatal("wallets mutated on a same-venue pass")
	}
	if va.buyCount()+va.sellCount()+vb.buyCount()+vb.sellCount() != 0 {
		t.Fatal("persistent hooks fired on a skipped pass")
	}
}

func TestEngine_TieBreaksOnEarlierVenue(t *testing.T) {
	// Equal best asks: the earlier-indexed venue must win the buy side.
	eng, _, _ := setupEngine(t, "0", "0",
		quote("97", "5", "98", "5"),
		quote("99", "5", "98", "5"),
	)
	eng.initialized = true
	eng.wallets[1].Base = dec("5") // sell venue needs base to sell

	if err := eng.step(); err != nil {
		t.Fatalf("expected trade, got skip: %v", err)
	}

	tr := <-eng.Trades()
	if tr.BuyVenue != "venue-a" {
		t.Fatalf("tie-break: want buy on venue-a, got %s", tr.BuyVenue)
	}
	if tr.SellVenue != "venue-b" {
		t.Fatalf("tie-break: want sell on venue-b, got %s", tr.SellVenue)
	}
}

func TestEngine_SkipsWhenFeesConsumeSpread(t *testing.T) {
	// Raw spread $1 on a ~$100 notional with 0.5% fees per side: the
	// combined fee exceeds the gross edge, so nothing may execute.
	eng, _, _ := setupEngine(t, "0.005", "0.005",
		quote("101", "1", "103", "1"),
		quote("99", "1", "100", "1"),
	)
	eng.initialized = true
	eng.wallets[0].Base = dec("1")
	eng.wallets[0].Quote = dec("1000")
	eng.wallets[1].Quote = dec("1000")

	if err := eng.step(); err != ErrNotProfitable {
		t.Fatalf("want ErrNotProfitable, got %v", err)
	}
	if !eng.wallets[0].Base.Equal(dec("1")) || !eng.wallets[1].Quote.Equal(dec("1000")) {
		t.Fatal("wallets mutated on an unprofitable pass")
	}
}

func TestEngine_SkipsZeroAmount(t *testing.T) {
	// The sell venue holds no base, so nothing can be sold.
	eng, _, _ := setupEngine(t, "0", "0",
		quote("99", "1", "100", "1"),
		quote("97", "1", "98", "1"),
	)
	eng.initialized = true
	// wallets start with zero base by construction

	if err := eng.step(); err != ErrZeroAmount {
		t.Fatalf("want ErrZeroAmount, got %v", err)
	}
}

func TestEngine_SizesAgainstQuoteBudget(t *testing.T) {
	// Deep books, rich sell-side base, but the buy wallet only holds 49
	// quote: the buy leg must be fully funded, capping amount at 49/98.
	eng, _, _ := setupEngine(t, "0", "0",
		quote("99", "100", "100", "100"),
		quote("97", "100", "98", "100"),
	)
	eng.initialized = true
	eng.wallets[0].Base = dec("100")
	eng.wallets[1].Quote = dec("49")

	if err := eng.step(); err != nil {
		t.Fatalf("expected trade, got skip: %v", err)
	}

	tr := <-eng.Trades()
	want := dec("49").Div(dec("98"))
	if !tr.Amount.Equal(want) {
		t.Fatalf("amount: want %s, got %s", want, tr.Amount)
	}
	if !eng.wallets[1].Quote.Equal(decimal.Zero) {
		t.Fatalf("buy wallet quote: want 0, got %s", eng.wallets[1].Quote)
	}
}

// stubGate is a FeedGate with a fixed verdict.
type stubGate struct {
	allow bool
}

func (g *stubGate) Record(string) {}

func (g *stubGate) CanTrade(string) bool { return g.allow }

func TestEngine_GateBlocksExecution(t *testing.T) {
	eng, _, _ := setupEngine(t, "0", "0",
		quote("99", "1", "100", "1"),
		quote("97", "1", "98", "1"),
	)
	eng.initialized = true
	eng.wallets[0].Base = dec("1")
	eng.gate = &stubGate{allow: false}

	if err := eng.step(); err != ErrFeedUnhealthy {
		t.Fatalf("want ErrFeedUnhealthy, got %v", err)
	}
}

func TestEngine_RunExecutesOnMergedEvents(t *testing.T) {
	va := newFakeVenue("venue-a", "0")
	vb := newFakeVenue("venue-b", "0")
	m := NewMux(va, vb)

	start := dec("1000")
	wallets := []*Wallet{NewWallet(start, va.fee), NewWallet(start, vb.fee)}
	eng := New(m, []venue.Venue{va, vb}, wallets, nil, start)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go m.Run(ctx)
	go eng.Run(ctx)

	// First complete pair rebalances the wallets; the crossed quotes then
	// trigger a trade on a later event.
	va.ch <- quote("99", "10", "100", "10")
	vb.ch <- quote("97", "10", "98", "10")
	vb.ch <- quote("97", "10", "98", "10")

	select {
	case tr := <-eng.Trades():
		if tr.BuyVenue != "venue-b" || tr.SellVenue != "venue-a" {
			t.Fatalf("wrong direction: buy %s sell %s", tr.BuyVenue, tr.SellVenue)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a trade")
	}
}
