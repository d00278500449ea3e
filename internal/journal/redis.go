package journal

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/crosswire-trading/crosswire/internal/engine"
)

// RedisClient abstracts the Redis operations used by the Journal.
// In production this is satisfied by Client; in tests by a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
	RPush(ctx context.Context, key string, values ...any) error
}

// Client wraps *redis.Client with the narrow surface the Journal needs.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis with the given settings.
func NewClient(addr, password string, db int) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (c *Client) HSet(ctx context.Context, key string, values ...any) error {
	return c.rdb.HSet(ctx, key, values...).Err()
}

func (c *Client) RPush(ctx context.Context, key string, values ...any) error {
	return c.rdb.RPush(ctx, key, values...).Err()
}

// quoteSnapshot holds the last-written best bid/ask for a venue so
// duplicate writes can be suppressed.
type quoteSnapshot struct {
	Bid string
	Ask string
}

// Journal persists the live state of a run into Redis:
//
//	Key:    quote:{venue}        — HSET fields bid, ask
//	Key:    trades               — RPUSH of executed-trade JSON records
//
// It consumes the multiplexer's observer tap and the engine's trade
// stream; both are drained without backpressure so the hot path is never
// stalled by Redis.
type Journal struct {
	client RedisClient
	venues []string // names indexed by mux venue index
	quotes <-chan engine.Event
	trades <-chan engine.Trade

	mu   sync.Mutex
	last map[string]quoteSnapshot // keyed by Redis key
}

// New creates a Journal. venues maps mux venue indexes to names; quotes is
// the mux tap and trades the engine trade stream.
func New(client RedisClient, venues []string, quotes <-chan engine.Event, trades <-chan engine.Trade) *Journal {
	return &Journal{
		client: client,
		venues: venues,
		quotes: quotes,
		trades: trades,
		last:   make(map[string]quoteSnapshot),
	}
}

// Run drains both feeds until ctx is cancelled.
func (j *Journal) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-j.quotes:
				if !ok {
					return
				}
				j.writeQuote(ctx, ev)
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case tr, ok := <-j.trades:
				if !ok {
					return
				}
				j.writeTrade(ctx, tr)
			}
		}
	}()

	wg.Wait()
}

// writeQuote persists a venue's best bid/ask, skipping writes when neither
// side changed. An empty side is written as an empty string, never zero.
func (j *Journal) writeQuote(ctx context.Context, ev engine.Event) {
	if ev.Venue < 0 || ev.Venue >= len(j.venues) {
		return
	}
	key := "quote:" + j.venues[ev.Venue]

	var bid, ask string
	if ev.Quote.Bid != nil {
		bid = ev.Quote.Bid.Price.String()
	}
	if ev.Quote.Ask != nil {
		ask = ev.Quote.Ask.Price.String()
	}

	j.mu.Lock()
	prev, exists := j.last[key]
	if exists && prev.Bid == bid && prev.Ask == ask {
		j.mu.Unlock()
		return
	}
	j.last[key] = quoteSnapshot{Bid: bid, Ask: ask}
	j.mu.Unlock()

	if err := j.client.HSet(ctx, key, "bid", bid, "ask", ask); err != nil {
		log.Printf("journal: quote write failed for %s: %v", key, err)
	}
}

// tradeRecord is the persisted form of an executed trade.
type tradeRecord struct {
	BuyVenue  string `json:"buy_venue"`
	SellVenue string `json:"sell_venue"`
	Amount    string `json:"amount"`
	BuyPrice  string `json:"buy_price"`
	SellPrice string `json:"sell_price"`
	Total     string `json:"total"`
	PL        string `json:"pl"`
	Ts        int64  `json:"ts"`
}

func (j *Journal) writeTrade(ctx context.Context, tr engine.Trade) {
	rec, err := json.Marshal(tradeRecord{
		BuyVenue:  tr.BuyVenue,
		SellVenue: tr.SellVenue,
		Amount:    tr.Amount.String(),
		BuyPrice:  tr.BuyPrice.String(),
		SellPrice: tr.SellPrice.String(),
		Total:     tr.Total.String(),
		PL:        tr.PL.String(),
		Ts:        tr.Timestamp.UnixMilli(),
	})
	if err != nil {
		log.Printf("journal: trade encode failed: %v", err)
		return
	}

	if err := j.client.RPush(ctx, "trades", rec); err != nil {
		log.Printf("journal: trade write failed: %v", err)
	}
}
