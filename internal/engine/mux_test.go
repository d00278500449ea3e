package engine

import (
	"context"
	"testing"
	"time"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestMux_MergesAndRetainsLatest(t *testing.T) {
	va := newFakeVenue("venue-a", "0")
	vb := newFakeVenue("venue-b", "0")
	m := NewMux(va, vb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	qa := quote("99", "1", "100", "1")
	qb := quote("97", "2", "98", "2")
	va.ch <- qa
	vb.ch <- qb

	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		ev := recvEvent(t, m.Events())
		seen[ev.Venue] = true
	}
	if !seen[0] || !seen[1] {
		t.Fatalf("expected events from both venues, saw %v", seen)
	}

	if got := m.Latest(0); !got.Bid.Price.Equal(dec("99")) {
		t.Errorf("venue 0 latest bid: want 99, got %s", got.Bid.Price)
	}
	if got := m.Latest(1); !got.Ask.Price.Equal(dec("98")) {
		t.Errorf("venue 1 latest ask: want 98, got %s", got.Ask.Price)
	}

	quotes := m.Quotes()
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
	if !quotes[0].Complete() || !quotes[1].Complete() {
		t.Error("retained quotes should be complete")
	}
}

func TestMux_PreservesPerVenueOrder(t *testing.T) {
	va := newFakeVenue("venue-a", "0")
	m := NewMux(va)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	prices := []string{"10", "11", "12", "13"}
	for _, p := range prices {
		va.ch <- quote(p, "1", p, "1")
	}

	for _, p := range prices {
		ev := recvEvent(t, m.Events())
		if !ev.Quote.Bid.Price.Equal(dec(p)) {
			t.Fatalf("out of order: want bid %s, got %s", p, ev.Quote.Bid.Price)
		}
	}
}

func TestMux_TapReceivesCopies(t *testing.T) {
	va := newFakeVenue("venue-a", "0")
	m := NewMux(va)
	tap := m.Tap()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	va.ch <- quote("50", "1", "51", "1")

	// Both the decision stream and the tap observe the event.
	ev := recvEvent(t, m.Events())
	tapped := recvEvent(t, tap)

	if ev.Venue != tapped.Venue {
		t.Errorf("tap venue mismatch: %d vs %d", ev.Venue, tapped.Venue)
	}
	if !tapped.Quote.Bid.Price.Equal(dec("50")) {
		t.Errorf("tap bid: want 50, got %s", tapped.Quote.Bid.Price)
	}
}

func TestMux_QuotesReturnsACopy(t *testing.T) {
	va := newFakeVenue("venue-a", "0")
	vb := newFakeVenue("venue-b", "0")
	m := NewMux(va, vb)
	m.latest[0] = quote("10", "1", "11", "1")

	quotes := m.Quotes()
	quotes[0] = quote("999", "1", "999", "1")

	if !m.Latest(0).Bid.Price.Equal(dec("10")) {
		t.Error("mutating the returned slice leaked into the mux")
	}
}
