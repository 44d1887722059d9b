package alarm

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultPingIntervalMs keeps idle alarm sockets alive.
	DefaultPingIntervalMs = 30000

	wsWriteTimeout    = 10 * time.Second
	wsReadLimit       = 4096
	wsSendBufferSize  = 64
	wsPongGracePeriod = 2
)

var alarmUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsClient struct {
	hub  *WSHub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// WSHub fans alarm payloads out to connected WebSocket subscribers.
// Clients that error or fall behind are evicted rather than blocking
// the broadcast path.
type WSHub struct {
	mu           sync.RWMutex
	clients      map[*wsClient]bool
	pingInterval time.Duration
	maxClients   int
	logger       *slog.Logger
}

// NewWSHub creates the alarm broadcast hub. pingIntervalMs <= 0 uses
// the default; maxClients <= 0 means unlimited connections and
// accept-always delivery semantics.
func NewWSHub(pingIntervalMs, maxClients int) *WSHub {
	if pingIntervalMs <= 0 {
		pingIntervalMs = DefaultPingIntervalMs
	}
	return &WSHub{
		clients:      make(map[*wsClient]bool),
		pingInterval: time.Duration(pingIntervalMs) * time.Millisecond,
		maxClients:   maxClients,
		logger:       slog.Default().With("component", "alarm-ws"),
	}
}

// ServeHTTP lets the hub mount directly on a router.
func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades an HTTP request into an alarm subscription.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.maxClients > 0 && h.ClientCount() >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := alarmUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Alarm subscriber connected",
		"remote", conn.RemoteAddr().String(), "clients", count)

	go client.writePump()
	go client.readPump()
}

// Broadcast sends data to every connected client and returns how many
// accepted it. Clients with a full send buffer are evicted.
func (h *WSHub) Broadcast(data []byte) int {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	accepted := 0
	for _, c := range clients {
		select {
		case c.send <- data:
			accepted++
		default:
			h.logger.Warn("Evicting slow alarm subscriber",
				"remote", c.conn.RemoteAddr().String())
			h.remove(c)
		}
	}
	return accepted
}

// ClientCount returns the number of connected subscribers.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *WSHub) Close() {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.remove(c)
	}
}

// remove detaches a client. The send channel stays open so concurrent
// broadcasts never hit a closed channel; the done channel stops the
// pumps instead.
func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if ok {
		close(c.done)
		c.conn.Close()
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.remove(c)
				return
			}
		}
	}
}

// readPump discards inbound messages; the alarm socket is one-way but
// reads keep control frames flowing.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	deadline := c.hub.pingInterval * wsPongGracePeriod
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// WebSocketAdapter broadcasts alarm payloads through the embedded hub.
type WebSocketAdapter struct {
	hub *WSHub
}

// NewWebSocketAdapter wraps a hub as a delivery sink.
func NewWebSocketAdapter(hub *WSHub) *WebSocketAdapter {
	return &WebSocketAdapter{hub: hub}
}

// Deliver broadcasts the payload. With a connection cap configured the
// delivery fails when no client accepted the frame; without a cap the
// hub accepts alarms unconditionally.
func (a *WebSocketAdapter) Deliver(ctx context.Context, p *Payload, cfg *Config) DeliveryResult {
	result := DeliveryResult{ConfigID: cfg.ID, Method: MethodWebSocket}
	start := time.Now()

	data, err := p.Encode()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	accepted := a.hub.Broadcast(data)
	result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0

	acceptAlways := cfg.WebSocket == nil || cfg.WebSocket.MaxConnections == 0
	if accepted > 0 || acceptAlways {
		result.Success = true
		return result
	}
	result.Error = "no connected subscribers"
	return result
}
