package venue

import (
	"sync"
	"time"
)

// HealthConfig holds tunable parameters for the feed-health gate.
type HealthConfig struct {
	// StaleThreshold is the maximum age of a venue's last quote before the
	// feed is considered stale.
	StaleThreshold time.Duration

	// CoolOff is the duration of continuous healthy data required after a
	// recovery before trading against the venue is re-enabled.
	CoolOff time.Duration
}

// DefaultHealthConfig returns defaults tuned for order book feeds.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		StaleThreshold: 30 * time.Second,
		CoolOff:        2 * time.Second,
	}
}

// feedState tracks quote freshness for a single venue.
type feedState struct {
	lastQuote time.Time
	// recoveredAt is set when a feed transitions from stale to fresh.
	// Trading is blocked until the cool-off has elapsed.
	recoveredAt time.Time
}

// Health gates paper-trade execution on feed quality. A venue is tradable
// only while its WebSocket circuit is closed, its last quote is fresh, the
// post-recovery cool-off has elapsed, and no manual halt is active.
type Health struct {
	cfg HealthConfig

	connMu sync.RWMutex
	conns  map[string]*WSClient

	mu    sync.RWMutex
	feeds map[string]*feedState

	haltMu sync.RWMutex
	halted bool

	nowFunc func() time.Time // injectable clock for testing
}

// NewHealth creates a feed-health gate.
func NewHealth(cfg HealthConfig) *Health {
	return &Health{
		cfg:     cfg,
		conns:   make(map[string]*WSClient),
		feeds:   make(map[string]*feedState),
		nowFunc: time.Now,
	}
}

// Watch registers a venue's WSClient so its circuit state is consulted.
func (h *Health) Watch(venue string, ws *WSClient) {
	h.connMu.Lock()
	h.conns[venue] = ws
	h.connMu.Unlock()
}

// ManualHalt blocks trading on every venue until Resume is called.
func (h *Health) ManualHalt() {
	h.haltMu.Lock()
	h.halted = true
	h.haltMu.Unlock()
}

// Resume clears a manual halt. Venues still need fresh data and an elapsed
// cool-off before CanTrade returns true.
func (h *Health) Resume() {
	h.haltMu.Lock()
	h.halted = false
	h.haltMu.Unlock()
}

// Record notes that the venue just published a quote. A quote arriving
// after a stale period starts the cool-off window, as does the first quote
// after startup.
func (h *Health) Record(venue string) {
	now := h.nowFunc()

	h.mu.Lock()
	fs, ok := h.feeds[venue]
	if !ok {
		fs = &feedState{recoveredAt: now}
		h.feeds[venue] = fs
	} else if now.Sub(fs.lastQuote) > h.cfg.StaleThreshold {
		fs.recoveredAt = now
	}
	fs.lastQuote = now
	h.mu.Unlock()
}

// CanTrade reports whether trades may be executed against the venue.
func (h *Health) CanTrade(venue string) bool {
	h.haltMu.RLock()
	if h.halted {
		h.haltMu.RUnlock()
		return false
	}
	h.haltMu.RUnlock()

	h.connMu.RLock()
	ws, ok := h.conns[venue]
	h.connMu.RUnlock()
	if ok && ws.Circuit() == CircuitOpen {
		return false
	}

	now := h.nowFunc()

	h.mu.RLock()
	fs, ok := h.feeds[venue]
	h.mu.RUnlock()

	if !ok {
		return false // no quote received yet
	}
	if now.Sub(fs.lastQuote) > h.cfg.StaleThreshold {
		return false
	}
	if now.Sub(fs.recoveredAt) < h.cfg.CoolOff {
		return false
	}
	return true
}
