// Package ws bridges engine events from the signal bus to WebSocket
// clients. Delivery is best-effort: a client that misses events (slow
// buffer, reconnect) requests a fresh snapshot instead of a replay.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitchside/auctiond/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// SnapshotFunc returns the marshaled authoritative snapshot of one auction.
// The hub sends it to a client on every subscribe so reconnects always start
// from current state.
type SnapshotFunc func(ctx context.Context, orgID, auctionID string) ([]byte, error)

// client represents a single WebSocket connection.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	orgID string
	subs  map[string]bool // subscribed auction IDs
	mu    sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to manage subscriptions.
// {"action":"subscribe","auction_id":"..."}
type subscribeMsg struct {
	Action    string `json:"action"`
	AuctionID string `json:"auction_id"`
}

// Hub manages connected WebSocket clients and fans auction events from the
// signal bus out to clients subscribed to that auction.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	snapshot   SnapshotFunc
	mu         sync.RWMutex
	logger     *slog.Logger
}

// broadcastMsg carries an event along with its tenant and auction so the
// hub routes it only to clients of that org watching that auction.
type broadcastMsg struct {
	orgID     string
	auctionID string
	data      []byte
}

// eventEnvelope is the minimal shape the hub needs to route a bus payload.
type eventEnvelope struct {
	OrgID     string `json:"org_id"`
	AuctionID string `json:"auction_id"`
}

// NewHub creates a WebSocket hub that bridges the signal bus to connected
// clients.
func NewHub(bus domain.SignalBus, snapshot SnapshotFunc, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		snapshot:   snapshot,
		logger:     logger,
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration and broadcasting, and exits when the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.subscribeToBus(ctx)

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
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// deliver fans one event out to subscribed clients. Subscription alone is
// not enough: the client's org must match the event's org, so knowing a
// foreign auction ID never leaks its event stream across the tenant
// boundary.
func (h *Hub) deliver(msg broadcastMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.orgID != msg.orgID || !c.isSubscribed(msg.auctionID) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			// Send buffer full; drop. The client recovers with a
			// snapshot on its next subscribe.
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// subscribeToBus listens to every auction event channel and forwards
// payloads to the broadcast loop.
func (h *Hub) subscribeToBus(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, domain.EventChannelPattern)
	if err != nil {
		h.logger.Error("ws: bus subscribe failed",
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed to event bus",
		slog.String("pattern", domain.EventChannelPattern),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: bus subscription closed")
				return
			}
			var env eventEnvelope
			if err := json.Unmarshal(data, &env); err != nil || env.AuctionID == "" || env.OrgID == "" {
				continue
			}
			h.broadcast <- broadcastMsg{
				orgID:     env.OrgID,
				auctionID: env.AuctionID,
				data:      data,
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	org := r.Header.Get("X-Org-ID")
	if org == "" {
		org = "default"
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		orgID: org,
		subs:  make(map[string]bool),
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription management messages from the connection.
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
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil || sub.AuctionID == "" {
			continue
		}
		c.handleSubscription(sub)
	}
}

// handleSubscription processes subscribe/unsubscribe requests. Every
// subscribe, including a re-subscribe after reconnect, gets a fresh
// snapshot rather than an event replay.
func (c *client) handleSubscription(msg subscribeMsg) {
	switch msg.Action {
	case "subscribe":
		c.mu.Lock()
		c.subs[msg.AuctionID] = true
		c.mu.Unlock()
		c.sendSnapshot(msg.AuctionID)
	case "unsubscribe":
		c.mu.Lock()
		delete(c.subs, msg.AuctionID)
		c.mu.Unlock()
	}
}

// sendSnapshot pushes the authoritative auction state to this client.
func (c *client) sendSnapshot(auctionID string) {
	if c.hub.snapshot == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := c.hub.snapshot(ctx, c.orgID, auctionID)
	if err != nil {
		c.hub.logger.Warn("ws: snapshot failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		msg, _ := json.Marshal(map[string]string{
			"type":       "error",
			"auction_id": auctionID,
			"error":      "snapshot unavailable",
		})
		c.trySend(msg)
		return
	}

	envelope, err := json.Marshal(map[string]any{
		"type":       "snapshot",
		"auction_id": auctionID,
		"payload":    json.RawMessage(data),
	})
	if err != nil {
		return
	}
	c.trySend(envelope)
}

func (c *client) trySend(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

// isSubscribed checks whether the client watches the given auction.
func (c *client) isSubscribed(auctionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[auctionID]
}

// writePump pumps messages from the hub to the WebSocket connection and
// sends periodic ping frames for keepalive.
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
				// The hub closed the channel.
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
