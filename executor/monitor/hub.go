// Package monitor streams finished games to websocket clients.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brensch/uttt/executor/selfplay"
)

const idlePingInterval = 30 * time.Second

// Message is the envelope written to clients.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans published messages out to every connected client. Slow clients
// drop messages instead of blocking the generator.
type Hub struct {
	mu        sync.Mutex
	clients   map[*client]struct{}
	broadcast chan []byte
	upgrader  websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*client]struct{}),
		broadcast: make(chan []byte, 64),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Run delivers broadcasts until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		case data := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
				}
			}
			h.mu.Unlock()
		}
	}
}

// PublishGame queues a finished game for every client.
func (h *Hub) PublishGame(s selfplay.GameSummary) {
	h.publish("game", s)
}

func (h *Hub) publish(kind string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("monitor: marshal payload", "type", kind, "error", err)
		return
	}
	data, err := json.Marshal(Message{Type: kind, Payload: raw})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and keeps the connection until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.register(c)

	go func() {
		defer conn.Close()
		_ = writeWithHeartbeat(conn, c.send)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.unregister(c)
			return
		}
	}
}

func writeWithHeartbeat(conn *websocket.Conn, send <-chan []byte) error {
	ticker := time.NewTicker(idlePingInterval)
	defer ticker.Stop()
	lastWrite := time.Now()
	ping, _ := json.Marshal(Message{Type: "ping"})

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				return nil
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
			lastWrite = time.Now()
		case <-ticker.C:
			if time.Since(lastWrite) < idlePingInterval {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return err
			}
			lastWrite = time.Now()
		}
	}
}
