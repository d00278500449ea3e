package engine

import (
	"context"
	"sync"

	"github.com/crosswire-trading/crosswire/internal/venue"
)

// Event pairs a venue index with the quote that venue just published.
type Event struct {
	Venue int
	Quote venue.Quote
}

// Mux merges the quote streams of all registered venues into one event
// stream and retains the last-known quote per venue. Updates from a single
// venue are delivered strictly in arrival order; across venues there is no
// ordering relationship — venues are independent real-time systems.
type Mux struct {
	venues []venue.Venue

	// events drives the decision loop. Sends block so no quote is lost.
	events chan Event

	// latest is the per-venue publication cell: written only by that
	// venue's forwarder goroutine, read by copy elsewhere.
	mu     sync.RWMutex
	latest []venue.Quote

	// taps receive a best-effort copy of every event (journal, metrics).
	tapMu sync.RWMutex
	taps  []chan Event
}

// NewMux creates a Mux over the given venues. Venue index order is
// significant: it is the deterministic tie-break order for the engine.
func NewMux(venues ...venue.Venue) *Mux {
	return &Mux{
		venues: venues,
		events: make(chan Event, 1024),
		latest: make([]venue.Quote, len(venues)),
	}
}

// Events returns the merged event stream that drives the decision loop.
func (m *Mux) Events() <-chan Event {
	return m.events
}

// Tap returns a buffered observer channel receiving a copy of every event.
// Slow observers get events dropped; the decision stream is unaffected.
func (m *Mux) Tap() <-chan Event {
	ch := make(chan Event, 512)
	m.tapMu.Lock()
	m.taps = append(m.taps, ch)
	m.tapMu.Unlock()
	return ch
}

// Latest returns a copy of the venue's last-known quote.
func (m *Mux) Latest(i int) venue.Quote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest[i]
}

// Quotes returns a copy of every venue's last-known quote, indexed by
// venue.
func (m *Mux) Quotes() []venue.Quote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	quotes := make([]venue.Quote, len(m.latest))
	copy(quotes, m.latest)
	return quotes
}

// Run starts one forwarder goroutine per venue and blocks until ctx is
// cancelled.
func (m *Mux) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for i, v := range m.venues {
		wg.Add(1)
		go func(i int, ch <-chan venue.Quote) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case q, ok := <-ch:
					if !ok {
						return
					}
					m.publish(ctx, i, q)
				}
			}
		}(i, v.Quotes())
	}

	wg.Wait()
}

// publish records the quote in the venue's publication cell, then delivers
// the event downstream. The cell is swapped whole so a reader never sees a
// new bid paired with a stale ask.
func (m *Mux) publish(ctx context.Context, i int, q venue.Quote) {
	m.mu.Lock()
	m.latest[i] = q
	m.mu.Unlock()

	ev := Event{Venue: i, Quote: q}

	select {
	case m.events <- ev:
	case <-ctx.Done():
		return
	}

	m.tapMu.RLock()
	for _, ch := range m.taps {
		select {
		case ch <- ev:
		default:
			// Slow observer — drop.
		}
	}
	m.tapMu.RUnlock()
}
