// Package ws bridges the Redis signal bus to WebSocket subscribers: every
// auction and bid event the engine publishes is fanned out to connected
// clients, wrapped in an envelope naming its source channel.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veilbid/auctiond/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming subscription-management frames.
	maxMessageSize = 4096

	// sendBufferSize is the per-client buffer of outgoing envelopes.
	sendBufferSize = 256
)

// engineChannels are the bus channels the hub mirrors. Subscribing to each
// concrete channel (rather than a pattern) lets the envelope name the exact
// event stream a message came from.
var engineChannels = []string{
	domain.ChannelAuctionCreated,
	domain.ChannelAuctionEnded,
	domain.ChannelBidCommitted,
	domain.ChannelBidRevealed,
}

// envelope is the frame sent to clients: the bus channel plus the event
// payload as published by the engine.
type envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// subscribeMsg is the JSON frame a client sends to manage its subscriptions,
// e.g. {"action":"subscribe","channels":["ch:bid:revealed"]}. Channel names
// may end in '*' to match a prefix.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// upgrader configures the WebSocket upgrade. Origin enforcement happens in
// the CORS middleware in front of the mux; the upgrader accepts what reaches
// it.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one WebSocket connection with its subscription set.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// Hub manages the connected clients and routes bus events to the subscribed
// ones.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan envelope
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// Config captures runtime metadata reported to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// NewHub creates a Hub over the given signal bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run drives the hub until ctx is cancelled: it mirrors the engine channels,
// tracks client registration, and fans envelopes out to subscribers.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range engineChannels {
		go h.mirrorChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", h.clientCount()))

		case ev := <-h.broadcast:
			frame, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(ev.Channel) {
					continue
				}
				select {
				case c.send <- frame:
				default:
					// Full buffer: drop rather than stall settlement fan-out.
					h.logger.Warn("dropping frame for slow client", slog.String("channel", ev.Channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// mirrorChannel subscribes to one bus channel and feeds its payloads into
// the broadcast loop.
func (h *Hub) mirrorChannel(ctx context.Context, channel string) {
	payloads, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("mirroring channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-payloads:
			if !ok {
				h.logger.Warn("bus subscription closed", slog.String("channel", channel))
				return
			}
			h.broadcast <- envelope{Channel: channel, Payload: payload}
		}
	}
}

// HandleWS upgrades the request and registers the connection. New clients
// start subscribed to every engine channel and can narrow from there.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(engineChannels)),
	}
	for _, ch := range engineChannels {
		c.subs[ch] = true
	}

	h.register <- c
	c.sendStatus()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump consumes subscription-management frames until the connection
// drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
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
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var msg subscribeMsg
		if err := json.Unmarshal(message, &msg); err == nil && len(msg.Channels) > 0 {
			c.applySubscription(msg)
		}
	}
}

// applySubscription updates the client's channel set.
func (c *client) applySubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendStatus pushes a status envelope on connect so clients can mark the
// feed healthy before the first auction event arrives.
func (c *client) sendStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	payload, err := json.Marshal(map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": uptime,
		"channels":       engineChannels,
	})
	if err != nil {
		return
	}
	frame, err := json.Marshal(envelope{Channel: "server_status", Payload: payload})
	if err != nil {
		return
	}

	select {
	case c.send <- frame:
	default:
	}
}

// isSubscribed reports whether the client wants the channel, either exactly
// or through a trailing-'*' prefix subscription like "ch:bid:*".
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if strings.HasSuffix(sub, "*") && strings.HasPrefix(channel, strings.TrimSuffix(sub, "*")) {
			return true
		}
	}
	return false
}

// writePump delivers envelopes and keepalive pings to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
