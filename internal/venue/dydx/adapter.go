package dydx

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

// DefaultURL is the dYdX v4 indexer WebSocket endpoint.
const DefaultURL = "wss://indexer.dydx.trade/v4/ws"

// subscribeMsg is the dYdX order book subscription handshake.
type subscribeMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	ID      string `json:"id"`
}

// --- Raw wire types ---

// rawMessage is a dYdX channel frame. Connection acks and non-book frames
// decode with empty contents and are ignored.
type rawMessage struct {
	Type     string      `json:"type"`
	Channel  string      `json:"channel"`
	ID       string      `json:"id"`
	Contents rawContents `json:"contents"`
}

type rawContents struct {
	Bids []rawLevel `json:"bids"`
	Asks []rawLevel `json:"asks"`
}

type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Adapter maintains the dYdX order book for one symbol and emits refreshed
// best bid/ask quotes. It implements venue.Venue.
type Adapter struct {
	ws         venue.FeedClient
	symbol     string
	fee        decimal.Decimal
	persistent bool

	// frames is the bounded queue between the network reader and the
	// book-applying consumer; persistent-trade feedback shares it.
	frames chan []byte
	quotes chan venue.Quote

	mu   sync.Mutex
	book *book.Book
}

// New creates a dYdX adapter on the given transport.
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
func (a *Adapter) Name() string { return "dydx" }

// Fee implements venue.Venue.
func (a *Adapter) Fee() decimal.Decimal { return a.fee }

// Quotes implements venue.Venue.
func (a *Adapter) Quotes() <-chan venue.Quote { return a.quotes }

// Subscribe sends the v4_orderbook subscription for the adapter's symbol.
// It is re-invoked automatically after every reconnect.
func (a *Adapter) Subscribe() {
	msg, _ := json.Marshal(subscribeMsg{
		Type:    "subscribe",
		Channel: "v4_orderbook",
		ID:      a.symbol,
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
	var msg rawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("dydx: invalid JSON, discarding frame: %v", err)
		return
	}

	upd, err := translate(msg.Contents)
	if err != nil {
		log.Printf("dydx: discarding frame: %v", err)
		return
	}
	if upd == nil {
		// Connection ack, subscription confirmation, or empty contents.
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

// translate maps frame contents to a normalised update: both sides present
// is a snapshot, a single side is a one-level update, both empty is
// ignored.
func translate(c rawContents) (book.Update, error) {
	hasBids, hasAsks := len(c.Bids) > 0, len(c.Asks) > 0

	switch {
	case hasBids && hasAsks:
		bids, err := parseLevels(c.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := parseLevels(c.Asks)
		if err != nil {
			return nil, err
		}
		return book.Snapshot{Bids: bids, Asks: asks}, nil
	case hasBids:
		e, err := parseLevel(c.Bids[0])
		if err != nil {
			return nil, err
		}
		return book.BidUpdate{Entry: e}, nil
	case hasAsks:
		e, err := parseLevel(c.Asks[0])
		if err != nil {
			return nil, err
		}
		return book.AskUpdate{Entry: e}, nil
	default:
		return nil, nil
	}
}

func parseLevels(raw []rawLevel) ([]book.Entry, error) {
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

func parseLevel(level rawLevel) (book.Entry, error) {
	price, err := decimal.NewFromString(level.Price)
	if err != nil {
		return book.Entry{}, fmt.Errorf("bad price %q: %w", level.Price, err)
	}
	size, err := decimal.NewFromString(level.Size)
	if err != nil {
		return book.Entry{}, fmt.Errorf("bad size %q: %w", level.Size, err)
	}
	return book.Entry{Price: price, Amount: size}, nil
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

// ApplyPersistentBuy implements venue.Venue: a simulated buy is re-injected
// as an ask-side depletion so later passes see the reduced liquidity.
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

	a.inject(rawContents{
		Asks: []rawLevel{{Price: price.String(), Size: ask.Amount.Sub(amount).String()}},
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

	a.inject(rawContents{
		Bids: []rawLevel{{Price: price.String(), Size: bid.Amount.Sub(amount).String()}},
	})
}

func (a *Adapter) inject(contents rawContents) {
	raw, err := json.Marshal(rawMessage{
		Type:     "channel_data",
		Channel:  "v4_orderbook",
		ID:       a.symbol,
		Contents: contents,
	})
	if err != nil {
		log.Printf("dydx: failed to encode persistent update: %v", err)
		return
	}
	a.frames <- raw
}
