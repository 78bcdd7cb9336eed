package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/islandgame/internal/model"
)

// Sender delivers events to individual connections
type Sender interface {
	Send(conn model.ConnID, event model.Event)
}

type delivery struct {
	conn    model.ConnID
	message []byte
}

// Hub tracks live connections and routes outbound events to them
type Hub struct {
	clients map[model.ConnID]*Client
	mu      sync.RWMutex
	logger  *slog.Logger

	// Channels for managing clients
	register   chan *Client
	unregister chan *Client
	outbound   chan delivery
	done       chan struct{}
	closeOnce  sync.Once
}

// Ensure Hub implements Sender
var _ Sender = (*Hub)(nil)

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[model.ConnID]*Client),
		logger:     logger.With(slog.String("component", "realtime")),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan delivery, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run() {
	h.logger.Info("realtime hub started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			clientCount := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("connection registered",
				slog.String("conn_id", string(client.id)),
				slog.String("user_id", string(client.userID)),
				slog.Int("total_clients", clientCount))

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.id]; ok && current == client {
				delete(h.clients, client.id)
				close(client.send)
				clientCount := len(h.clients)
				h.mu.Unlock()
				h.logger.Info("connection unregistered",
					slog.String("conn_id", string(client.id)),
					slog.Duration("connection_duration", time.Since(client.connectedAt)),
					slog.Int("total_clients", clientCount))
			} else {
				h.mu.Unlock()
			}

		case d := <-h.outbound:
			h.mu.RLock()
			client, ok := h.clients[d.conn]
			if ok {
				select {
				case client.send <- d.message:
				default:
					h.logger.Warn("message dropped - client buffer full",
						slog.String("conn_id", string(d.conn)))
				}
			}
			h.mu.RUnlock()
			if !ok {
				h.logger.Debug("message for unknown connection discarded",
					slog.String("conn_id", string(d.conn)))
			}

		case <-h.done:
			h.mu.Lock()
			clientCount := len(h.clients)
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.logger.Info("realtime hub stopped", slog.Int("disconnected_clients", clientCount))
			return
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Send queues an event for one connection. Events for connections that are
// gone are discarded.
func (h *Hub) Send(conn model.ConnID, event model.Event) {
	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode event",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
		return
	}
	select {
	case h.outbound <- delivery{conn: conn, message: message}:
	case <-h.done:
	}
}

// Close shuts down the hub
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
