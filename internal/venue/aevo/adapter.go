package aevo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/crosswire-trading/crosswire/internal/book"
	"github.com/crosswire-trading/crosswire/internal/venue"
)

// DefaultURL is the Aevo production WebSocket endpoint.
const DefaultURL = "wss://ws.aevo.xyz"

// subscribeMsg is the Aevo order book subscription handshake.
type subscribeMsg struct {
	Op   string   `json:"op"`
	Data []string `json:"data"`
}

// --- Raw wire types ---

// rawEnvelope wraps every Aevo frame; non-book frames (acks, pings) carry
// no data payload.
type rawEnvelope struct {
	Channel string   `json:"channel"`
	Data    *rawBook `json:"data"`
}

// rawBook is the order book payload. Levels are [price, amount] string
// pairs; "snapshot" carries both sides, "update" a single level on one side.
type rawBook struct {
	Type string     `json:"type"`
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

// Adapter maintains the Aevo order book for one symbol and emits refreshed
// best bid/ask quotes. It implements venue.Venue.
type Adapter struct {
	ws         venue.FeedClient
	symbol     string
	fee        decimal.Decimal
	persistent bool

	// frames is the bounded queue between the network reader and the
	// book-applying consumer. Persistent-trade feedback is injected here
	// too, so simulated fills flow through the same path as real updates.
	frames chan []byte
	quotes chan venue.Quote

	mu   sync.Mutex
	book *book.Book
}

// New creates an Aevo adapter on the given transport. The fee is the taker
// rate (0.0008 = 8 bps). When persistent is false the persistent-trade
// hooks are no-ops.
func New(ws venue.FeedClient, symbol string, fee decimal.Decimal, persistent bool) *Adapter {
	a := &Adapter{
		ws:         ws,
		symbol:     symbol,
		fee:        fee,
		persistent: persistent,
		frames:     make(chan []byte, 1024),
		quotes:     make(chan venue.Quote, 256),
		book:       book.New(),
	}
	ws.OnReconnect(a.Subscribe)
	return a
}

// Name implements venue.Venue.
func (a *Adapter) Name() string { return "aevo" }

// Fee implements venue.Venue.
func (a *Adapter) Fee() decimal.Decimal { return a.fee }

// Quotes implements venue.Venue.
func (a *Adapter) Quotes() <-chan venue.Quote { return a.quotes }

// Subscribe sends the order book subscription for the adapter's symbol.
// It is re-invoked automatically after every reconnect.
func (a *Adapter) Subscribe() {
	msg, _ := json.Marshal(subscribeMsg{
		Op:   "subscribe",
		Data: []string{"orderbook:" + a.symbol},
	})
	a.ws.Send(msg)
}

// Run pumps transport frames into the bounded queue and applies them to the
// book, publishing a quote per decoded frame. It blocks until ctx is
// cancelled.
func (a *Adapter) Run(ctx context.Context) {
	go a.pump(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-a.frames:
			a.handleFrame(ctx, raw)
		}
	}
}

// pump forwards inbound transport frames into the frame queue. Both sends
// block: dropping a book update would desynchronise the mirror.
func (a *Adapter) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-a.ws.Inbound():
			if !ok {
				return
			}
			select {
			case a.frames <- raw:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *Adapter) handleFrame(ctx context.Context, raw []byte) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("aevo: invalid JSON, discarding frame: %v", err)
		return
	}
	if env.Data == nil {
		// Subscription ack or other non-book frame.
		return
	}

	upd, err := translate(env.Data)
	if err != nil {
		log.Printf("aevo: discarding frame: %v", err)
		return
	}
	if upd == nil {
		return
	}

	a.mu.Lock()
	a.book.Apply(upd)
	q := a.snapshotQuote()
	a.mu.Unlock()

	select {
	case a.quotes <- q:
	case <-ctx.Done():
	}
}

// translate maps a raw book payload to a normalised update. A "snapshot"
// replaces both sides; an "update" carries exactly one level on one side.
// Anything else is reported, never guessed at.
func translate(raw *rawBook) (book.Update, error) {
	switch raw.Type {
	case "snapshot":
		bids, err := parseLevels(raw.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := parseLevels(raw.Asks)
		if err != nil {
			return nil, err
		}
		return book.Snapshot{Bids: bids, Asks: asks}, nil
	case "update":
		switch {
		case len(raw.Asks) > 0:
			e, err := parseLevel(raw.Asks[0])
			if err != nil {
				return nil, err
			}
			return book.AskUpdate{Entry: e}, nil
		case len(raw.Bids) > 0:
			e, err := parseLevel(raw.Bids[0])
			if err != nil {
				return nil, err
			}
			return book.BidUpdate{Entry: e}, nil
		default:
			// Both sides empty: nothing to apply.
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("unrecognized book message type %q", raw.Type)
	}
}

func parseLevels(raw [][]string) ([]book.Entry, error) {
	entries := make([]book.Entry, 0, len(raw))
	for _, level := range raw {
		e, err := parseLevel(level)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// parseLevel decodes a [price, amount] string pair.
func parseLevel(level []string) (book.Entry, error) {
	if len(level) < 2 {
		return book.Entry{}, fmt.Errorf("malformed level %v", level)
	}
	price, err := decimal.NewFromString(level[0])
	if err != nil {
		return book.Entry{}, fmt.Errorf("bad price %q: %w", level[0], err)
	}
	amount, err := decimal.NewFromString(level[1])
	if err != nil {
		return book.Entry{}, fmt.Errorf("bad amount %q: %w", level[1], err)
	}
	return book.Entry{Price: price, Amount: amount}, nil
}

// snapshotQuote copies the current best levels. Callers hold a.mu.
func (a *Adapter) snapshotQuote() venue.Quote {
	var q venue.Quote
	if bid, ok := a.book.BestBid(); ok {
		q.Bid = &bid
	}
	if ask, ok := a.book.BestAsk(); ok {
		q.Ask = &ask
	}
	return q
}

// ApplyPersistentBuy implements venue.Venue: it synthesizes an ask-side
// depletion update so a simulated buy consumes resting liquidity exactly as
// a real fill would. The engine never buys more than the resting amount, so
// the remainder is non-negative; a remainder of zero removes the level.
func (a *Adapter) ApplyPersistentBuy(amount, price decimal.Decimal) {
	if !a.persistent {
		return
	}

	a.mu.Lock()
	ask, ok := a.book.BestAsk()
	a.mu.Unlock()
	if !ok {
		return
	}

	a.inject(&rawBook{
		Type: "update",
		Asks: [][]string{{price.String(), ask.Amount.Sub(amount).String()}},
	})
}

// ApplyPersistentSell is the bid-side counterpart of ApplyPersistentBuy.
func (a *Adapter) ApplyPersistentSell(amount, price decimal.Decimal) {
	if !a.persistent {
		return
	}

	a.mu.Lock()
	bid, ok := a.book.BestBid()
	a.mu.Unlock()
	if !ok {
		return
	}

	a.inject(&rawBook{
		Type: "update",
		Bids: [][]string{{price.String(), bid.Amount.Sub(amount).String()}},
	})
}

// inject feeds a synthetic book frame into the same queue the network
// reader fills, preserving per-venue ordering of real and simulated
// updates.
func (a *Adapter) inject(data *rawBook) {
	raw, err := json.Marshal(rawEnvelope{Channel: "orderbook:" + a.symbol, Data: data})
	if err != nil {
		log.Printf("aevo: failed to encode persistent update: %v", err)
		return
	}
	a.frames <- raw
}
