package book

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Entry is a single resting price level: how much is offered at what price.
type Entry struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Update is the normalised order book message applied to a Book. Exactly one
// concrete type is produced per inbound venue message:
//
//   - Snapshot replaces both sides wholesale.
//   - BidUpdate upserts (or removes, when Amount is zero) one bid level.
//   - AskUpdate does the same for the ask side.
type Update interface {
	isUpdate()
}

// Snapshot replaces the full book with the given levels.
type Snapshot struct {
	Bids []Entry
	Asks []Entry
}

// BidUpdate is a single-level change on the bid side. An Amount of zero
// removes the level at that price.
type BidUpdate struct {
	Entry
}

// AskUpdate is a single-level change on the ask side. An Amount of zero
// removes the level at that price.
type AskUpdate struct {
	Entry
}

func (Snapshot) isUpdate()  {}
func (BidUpdate) isUpdate() {}
func (AskUpdate) isUpdate() {}

// Book mirrors one venue's order book for a single symbol. Bids are kept
// sorted descending by price, asks ascending, with at most one entry per
// price on each side. The book holds whatever depth the venue sends; only
// the best level on each side is queried downstream.
type Book struct {
	bids []Entry // descending by price
	asks []Entry // ascending by price
}

// New returns an empty Book.
func New() *Book {
	return &Book{}
}

// Apply mutates the book according to the update. Snapshots replace both
// sides; level updates upsert or remove a single entry while preserving
// sort order.
func (b *Book) Apply(u Update) {
	switch u := u.(type) {
	case Snapshot:
		b.bids = sortSide(u.Bids, true)
		b.asks = sortSide(u.Asks, false)
	case BidUpdate:
		b.bids = upsert(b.bids, u.Entry, true)
	case AskUpdate:
		b.asks = upsert(b.asks, u.Entry, false)
	}
}

// BestBid returns the highest-priced bid, or false if the side is empty.
func (b *Book) BestBid() (Entry, bool) {
	if len(b.bids) == 0 {
		return Entry{}, false
	}
	return b.bids[0], true
}

// BestAsk returns the lowest-priced ask, or false if the side is empty.
func (b *Book) BestAsk() (Entry, bool) {
	if len(b.asks) == 0 {
		return Entry{}, false
	}
	return b.asks[0], true
}

// Depth returns the number of levels on each side.
func (b *Book) Depth() (bids, asks int) {
	return len(b.bids), len(b.asks)
}

// sortSide copies and sorts levels for a snapshot. Bids sort descending,
// asks ascending.
func sortSide(levels []Entry, descending bool) []Entry {
	side := make([]Entry, len(levels))
	copy(side, levels)
	sort.SliceStable(side, func(i, j int) bool {
		c := side[i].Price.Cmp(side[j].Price)
		if descending {
			return c > 0
		}
		return c < 0
	})
	return side
}

// upsert applies a single-level update to a sorted side. A zero amount
// removes the entry at that exact price (no-op if absent); otherwise the
// amount at an existing price is replaced, or a new entry is inserted at
// its sorted position.
func upsert(side []Entry, e Entry, descending bool) []Entry {
	i := sort.Search(len(side), func(i int) bool {
		c := side[i].Price.Cmp(e.Price)
		if descending {
			return c <= 0
		}
		return c >= 0
	})
	exists := i < len(side) && side[i].Price.Equal(e.Price)

	switch {
	case e.Amount.IsZero():
		if exists {
			side = append(side[:i], side[i+1:]...)
		}
	case exists:
		side[i].Amount = e.Amount
	default:
		side = append(side, Entry{})
		copy(side[i+1:], side[i:])
		side[i] = e
	}
	return side
}
