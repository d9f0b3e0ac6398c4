// Package ws streams live quotes and trading events to UI clients over
// WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// maxQuoteSubs bounds the symbols one client may stream.
	maxQuoteSubs = 50
)

// defaultChannels are the event channels a new client receives.
var defaultChannels = []string{"account", "positions", "orders", "risk", "connections"}

// Envelope is every frame the hub sends.
type Envelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// clientMsg is a control frame from a client.
//
//	{"action":"subscribe","channels":["risk"]}
//	{"action":"subscribe_quote","symbol":"EUR/USD"}
type clientMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	Symbol   string   `json:"symbol"`
}

// Hub tracks connected clients and fans broadcasts out to those subscribed
// to the channel.
type Hub struct {
	quotes     domain.QuoteSource
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
	done       chan struct{}
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// Config carries metadata sent to clients on connect.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
}

// NewHub creates a Hub. quotes may be nil, which disables quote streaming.
func NewHub(quotes domain.QuoteSource, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		quotes:     quotes,
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger:    logger.With(slog.String("component", "ws")),
		mode:      mode,
		startedAt: startedAt,
		done:      make(chan struct{}),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Broadcast queues an event for every client subscribed to channel. It
// never blocks; events are dropped when the hub is saturated.
func (h *Hub) Broadcast(channel, eventType string, payload any) {
	data, err := json.Marshal(Envelope{Type: eventType, Channel: channel, Payload: payload})
	if err != nil {
		h.logger.Warn("marshal broadcast failed", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- broadcastMsg{channel: channel, data: data}:
	default:
		h.logger.Warn("broadcast queue full, dropping event", slog.String("channel", channel))
	}
}

// Run drives registration and broadcasting until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected",
				slog.String("client_id", c.id),
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected",
				slog.String("client_id", c.id),
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) && !c.enqueue(msg.data) {
					h.logger.Warn("dropping message for slow client", slog.String("client_id", c.id))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		subs:   make(map[string]bool),
		quotes: make(map[string]domain.Subscription),
	}
	for _, ch := range defaultChannels {
		c.subs[ch] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// client is one WebSocket connection. send is closed exactly once, under mu,
// so quote callbacks racing a disconnect never write to a closed channel.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
	subs   map[string]bool
	quotes map[string]domain.Subscription
}

func (c *client) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) push(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// close releases quote subscriptions and closes send.
func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.quotes
	c.quotes = map[string]domain.Subscription{}
	close(c.send)
	c.mu.Unlock()

	for _, sub := range subs {
		c.hub.releaseQuote(sub)
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

func (c *client) sendHello() {
	c.push(Envelope{
		Type: "hello",
		Payload: map[string]any{
			"client_id":      c.id,
			"mode":           c.hub.mode,
			"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
			"channels":       defaultChannels,
		},
	})
}

// readPump handles control frames until the connection fails.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("client_id", c.id), slog.String("error", err.Error()))
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			c.push(Envelope{Type: "error", Payload: map[string]string{"error": "invalid message", "kind": string(domain.KindValidation)}})
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg clientMsg) {
	switch msg.Action {
	case "subscribe", "unsubscribe":
		c.mu.Lock()
		for _, ch := range msg.Channels {
			if msg.Action == "subscribe" {
				c.subs[ch] = true
			} else {
				delete(c.subs, ch)
			}
		}
		c.mu.Unlock()
	case "subscribe_quote":
		if err := c.subscribeQuote(msg.Symbol); err != nil {
			c.sendError(err)
		}
	case "unsubscribe_quote":
		c.unsubscribeQuote(msg.Symbol)
	default:
		c.sendError(domain.Errorf(domain.KindValidation, "ws", "unknown action "+msg.Action))
	}
}

func (c *client) sendError(err error) {
	c.push(Envelope{Type: "error", Payload: map[string]string{
		"error": err.Error(),
		"kind":  string(domain.KindOf(err)),
	}})
}

// subscribeQuote streams symbol's quotes to this client. The first frame is
// the current quote when one is available.
func (c *client) subscribeQuote(symbol string) error {
	const op = "ws: subscribe quote"
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return domain.Errorf(domain.KindValidation, op, "symbol is required")
	}
	if c.hub.quotes == nil {
		return domain.Errorf(domain.KindNotFound, op, "quote streaming is not available")
	}

	c.mu.Lock()
	if _, ok := c.quotes[symbol]; ok {
		c.mu.Unlock()
		return nil
	}
	if len(c.quotes) >= maxQuoteSubs {
		c.mu.Unlock()
		return domain.Errorf(domain.KindValidation, op, "too many quote subscriptions")
	}
	c.mu.Unlock()

	sub, err := c.hub.quotes.Subscribe(symbol, c.onQuote)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.hub.releaseQuote(sub)
		return nil
	}
	if _, dup := c.quotes[sub.Symbol]; dup {
		c.mu.Unlock()
		c.hub.releaseQuote(sub)
		return nil
	}
	c.quotes[sub.Symbol] = sub
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if q, err := c.hub.quotes.GetQuote(ctx, sub.Symbol); q.Price > 0 {
		env := Envelope{Type: "quote", Channel: "quotes", Payload: q}
		if err != nil {
			env.Type = "quote_stale"
		}
		c.push(env)
	}
	return nil
}

func (c *client) unsubscribeQuote(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	c.mu.Lock()
	sub, ok := c.quotes[symbol]
	delete(c.quotes, symbol)
	c.mu.Unlock()
	if ok {
		c.hub.releaseQuote(sub)
	}
}

// onQuote runs on the publisher's goroutine and must not block.
func (c *client) onQuote(q domain.Quote) {
	c.push(Envelope{Type: "quote", Channel: "quotes", Payload: q})
}

func (h *Hub) releaseQuote(sub domain.Subscription) {
	if err := h.quotes.Unsubscribe(sub); err != nil {
		h.logger.Warn("release quote subscription failed",
			slog.String("symbol", sub.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

// writePump writes queued frames as text and pings on an interval.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
