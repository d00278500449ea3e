package venue

import (
	"context"
	"log"
	"math"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// CircuitState represents the health of the WebSocket connection. Consumers
// (the feed-health gate) read this to decide whether trading should be
// allowed against this venue.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota // healthy
	CircuitOpen                       // unhealthy — feed is down or reconnecting
)

// WSConfig holds tunable parameters for a WSClient.
type WSConfig struct {
	// Name prefixes log lines so concurrent venue feeds stay readable.
	Name string
	URL  string

	// Buffer sizes for the underlying TCP connection.
	ReadBufferSize  int
	WriteBufferSize int

	// QueueSize bounds the inbound frame queue. When the consumer falls
	// behind, reads block rather than drop: a dropped book update would
	// silently desynchronise the mirrored book state.
	QueueSize int

	// HeartbeatTimeout is the maximum duration of silence before the client
	// considers the connection dead and triggers a reconnect.
	HeartbeatTimeout time.Duration

	// Backoff parameters for reconnection.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	// Headers sent during the WebSocket handshake.
	Headers http.Header
}

// DefaultWSConfig returns defaults tuned for public order book feeds.
func DefaultWSConfig(name, url string) WSConfig {
	return WSConfig{
		Name:             name,
		URL:              url,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		QueueSize:        1024,
		HeartbeatTimeout: 30 * time.Second,
		BackoffInitial:   50 * time.Millisecond,
		BackoffMax:       5 * time.Second,
		BackoffFactor:    2.0,
	}
}

// WSClient is a resilient WebSocket connection manager for a single venue
// feed. It reconnects with exponential backoff, monitors heartbeats, and
// delivers inbound frames on a bounded queue with backpressure.
type WSClient struct {
	cfg WSConfig

	circuit atomic.Int32

	mu   sync.RWMutex
	conn *websocket.Conn

	// inbound carries raw frames to the single consumer (the venue
	// adapter). Delivery blocks when full.
	inbound chan []byte

	// outbox for sending messages through the connection.
	outbox chan []byte

	// onReconnect runs after each successful reconnection; adapters use it
	// to resend their subscription handshake.
	hookMu      sync.Mutex
	onReconnect func()

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSClient creates a WebSocket client. Call Connect to start.
func NewWSClient(cfg WSConfig) *WSClient {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &WSClient{
		cfg:     cfg,
		inbound: make(chan []byte, cfg.QueueSize),
		outbox:  make(chan []byte, 256),
		done:    make(chan struct{}),
	}
}

// Circuit returns the current connection health state.
func (ws *WSClient) Circuit() CircuitState {
	return CircuitState(ws.circuit.Load())
}

// Inbound returns the bounded queue of raw inbound frames.
func (ws *WSClient) Inbound() <-chan []byte {
	return ws.inbound
}

// OnReconnect registers fn to run after every successful reconnection.
func (ws *WSClient) OnReconnect(fn func()) {
	ws.hookMu.Lock()
	ws.onReconnect = fn
	ws.hookMu.Unlock()
}

// Send enqueues a message for delivery over the WebSocket connection.
func (ws *WSClient) Send(data []byte) {
	select {
	case ws.outbox <- data:
	default:
		log.Printf("%s: ws outbox full, dropping message (%d bytes)", ws.cfg.Name, len(data))
	}
}

// Connect establishes the connection and starts the read/write loops. If the
// initial dial fails it keeps retrying with backoff: a feed being down is
// never fatal. It returns only once connected, or with ctx.Err() when
// cancelled first.
func (ws *WSClient) Connect(ctx context.Context) error {
	ctx, ws.cancel = context.WithCancel(ctx)

	if err := ws.dial(ctx); err != nil {
		log.Printf("%s: initial connect failed: %v (retrying)", ws.cfg.Name, err)
		if !ws.reconnect(ctx, false) {
			return ctx.Err()
		}
	}
	ws.circuit.Store(int32(CircuitClosed))

	go ws.readLoop(ctx)
	go ws.writeLoop(ctx)

	return nil
}

// Close shuts down the client and its inbound queue.
func (ws *WSClient) Close() {
	if ws.cancel != nil {
		ws.cancel()
	}
	ws.mu.Lock()
	if ws.conn != nil {
		ws.conn.Close()
	}
	ws.mu.Unlock()

	close(ws.done)
}

// Done returns a channel that is closed when the client has fully shut down.
func (ws *WSClient) Done() <-chan struct{} {
	return ws.done
}

// dial establishes the WebSocket connection with TCP_NODELAY enabled.
func (ws *WSClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		ReadBufferSize:  ws.cfg.ReadBufferSize,
		WriteBufferSize: ws.cfg.WriteBufferSize,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	conn, _, err := dialer.DialContext(ctx, ws.cfg.URL, ws.cfg.Headers)
	if err != nil {
		return err
	}

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	return nil
}

// reconnect loops with exponential backoff until a connection is
// re-established or the context is cancelled. When fireHook is set, the
// registered reconnect hook runs after success so the adapter can
// resubscribe.
func (ws *WSClient) reconnect(ctx context.Context, fireHook bool) bool {
	ws.circuit.Store(int32(CircuitOpen))

	delay := ws.cfg.BackoffInitial
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := ws.dial(ctx); err != nil {
			log.Printf("%s: reconnect failed: %v (retry in %v)", ws.cfg.Name, err, delay)
			delay = time.Duration(math.Min(
				float64(delay)*ws.cfg.BackoffFactor,
				float64(ws.cfg.BackoffMax),
			))
			continue
		}

		ws.circuit.Store(int32(CircuitClosed))
		if fireHook {
			ws.hookMu.Lock()
			fn := ws.onReconnect
			ws.hookMu.Unlock()
			if fn != nil {
				fn()
			}
		}
		return true
	}
}

// readLoop reads frames and delivers them to the inbound queue, blocking
// when the consumer is behind. It also acts as the heartbeat monitor: if no
// frame arrives within HeartbeatTimeout, it triggers a reconnect.
func (ws *WSClient) readLoop(ctx context.Context) {
	for {
		ws.mu.RLock()
		c := ws.conn
		ws.mu.RUnlock()

		c.SetReadDeadline(time.Now().Add(ws.cfg.HeartbeatTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("%s: ws read error (triggering reconnect): %v", ws.cfg.Name, err)
			c.Close()
			if !ws.reconnect(ctx, true) {
				return
			}
			continue
		}

		select {
		case ws.inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop drains the outbox and writes messages to the connection.
func (ws *WSClient) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-ws.outbox:
			ws.mu.RLock()
			c := ws.conn
			ws.mu.RUnlock()
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("%s: ws write error: %v", ws.cfg.Name, err)
			}
		}
	}
}
