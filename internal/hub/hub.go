// Package hub tracks live client connections and reaps the unresponsive
// ones. It is the single owner of connection state: connections are created
// on accept, mutated through the hub's API, and destroyed on transport close
// or liveness timeout.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	sfotel "github.com/lunagrove/sqlforge/internal/otel"
	"github.com/lunagrove/sqlforge/internal/protocol"
)

// Conn is one registered client connection. It implements protocol.Sender.
type Conn struct {
	id string
	ws *websocket.Conn

	mu     sync.Mutex
	open   bool
	alive  bool
	topics map[string]struct{}
}

// ID returns the connection identifier assigned at registration.
func (c *Conn) ID() string { return c.id }

// Send writes a frame to the peer. Sending to a closed connection is a no-op
// that reports failure rather than an error; a failed write marks the
// connection closed so later sends short-circuit.
func (c *Conn) Send(ctx context.Context, frame protocol.Outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	if err := wsjson.Write(ctx, c.ws, frame); err != nil {
		c.open = false
		return false
	}
	return true
}

// Subscribe adds a topic to the connection's subscription set. Subscriptions
// are not used for filtering yet; the set exists for future fan-out.
func (c *Conn) Subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = struct{}{}
}

// Unsubscribe removes a topic from the subscription set.
func (c *Conn) Unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, topic)
}

// Topics returns a snapshot of the subscription set.
func (c *Conn) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

func (c *Conn) markAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = true
}

// checkAndClear returns the current liveness flag and clears it, in one step.
func (c *Conn) checkAndClear() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.alive
	c.alive = false
	return was
}

func (c *Conn) close(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()
	if wasOpen {
		_ = c.ws.Close(code, reason)
	}
}

// Hub is the connection registry.
type Hub struct {
	interval time.Duration
	logger   *slog.Logger
	metrics  *sfotel.Metrics

	mu    sync.RWMutex
	conns map[string]*Conn
}

// New creates a Hub with the given liveness sweep interval. A connection
// that answers no probe for two full intervals is reaped.
func New(interval time.Duration, logger *slog.Logger, metrics *sfotel.Metrics) *Hub {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		conns:    map[string]*Conn{},
	}
}

// Register assigns a fresh identifier to the transport and starts tracking
// it with liveness set to true.
func (h *Hub) Register(ws *websocket.Conn) *Conn {
	c := &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		open:   true,
		alive:  true,
		topics: map[string]struct{}{},
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ActiveConnections.Add(context.Background(), 1)
	}
	h.logger.Info("connection registered", "conn_id", c.id)
	return c
}

// Get looks up a connection by id.
func (h *Hub) Get(id string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// Unregister removes a connection. Idempotent; the transport is not closed
// here (callers close it when the read loop exits or the sweep reaps it).
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ActiveConnections.Add(context.Background(), -1)
	}
	h.logger.Info("connection unregistered", "conn_id", id)
}

// ForEach visits every registered connection. The snapshot is taken under
// the read lock so fn may call back into the hub.
func (h *Hub) ForEach(fn func(*Conn)) {
	h.mu.RLock()
	snapshot := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()
	for _, c := range snapshot {
		fn(c)
	}
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// MarkAlive records a probe acknowledgment from the peer.
func (h *Hub) MarkAlive(id string) {
	if c, ok := h.Get(id); ok {
		c.markAlive()
	}
}

// Start runs the liveness sweep until ctx is cancelled. Every interval, a
// connection whose flag is still cleared from the previous sweep is closed
// and removed; otherwise the flag is cleared and a ping probe is sent. The
// peer's pong sets the flag back through MarkAlive.
func (h *Hub) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.sweep(ctx)
			}
		}
	}()
}

func (h *Hub) sweep(ctx context.Context) {
	h.ForEach(func(c *Conn) {
		if !c.checkAndClear() {
			h.logger.Info("reaping unresponsive connection", "conn_id", c.id)
			c.close(websocket.StatusGoingAway, "liveness timeout")
			h.Unregister(c.id)
			if h.metrics != nil {
				h.metrics.ConnectionsReaped.Add(ctx, 1)
			}
			return
		}
		c.Send(ctx, protocol.NewOutbound(protocol.KindPing, nil, ""))
	})
}
