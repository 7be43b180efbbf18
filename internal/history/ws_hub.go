// WebSocket hub for round, bet and countdown broadcasts.

package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/predictions/internal/metrics"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type             string `json:"type"` // round_updated, bet_recorded, countdown
	Epoch            int64  `json:"epoch,omitempty"`
	User             string `json:"user,omitempty"`
	Position         string `json:"position,omitempty"`
	TotalAmount      string `json:"total_amount,omitempty"`
	OracleCalled     bool   `json:"oracle_called,omitempty"`
	SecondsRemaining *int64 `json:"seconds_remaining,omitempty"`
	Display          string `json:"display,omitempty"` // mm:ss
}

// WSHub manages WebSocket connections and broadcasts messages to all
// connected clients. It reports on Presence whether any client is connected.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	presence   chan bool
	done       chan struct{} // closed when Run returns
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		presence:   make(chan bool, 1),
		done:       make(chan struct{}),
	}
}

// Presence emits true when the first client connects and false when the
// last one leaves. Only the latest state is kept.
func (h *WSHub) Presence() <-chan bool {
	return h.presence
}

// Run starts the hub's main event loop until ctx is done. It must be called
// once.
func (h *WSHub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return nil

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			if n == 1 {
				h.setPresence(true)
			}
			slog.Info("ws client connected", "total", n)

		case conn := <-h.unregister:
			h.mu.Lock()
			before := len(h.clients)
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.clientsChanged(before, n)

		case msg := <-h.broadcast:
			h.mu.Lock()
			before := len(h.clients)
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.clientsChanged(before, n)
		}
	}
}

func (h *WSHub) clientsChanged(before, n int) {
	metrics.WebSocketClients.Set(float64(n))
	if before > 0 && n == 0 {
		h.setPresence(false)
	}
}

// setPresence replaces any unread presence value with v.
func (h *WSHub) setPresence(v bool) {
	select {
	case <-h.presence:
	default:
	}
	select {
	case h.presence <- v:
	default:
	}
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking ingestion.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
				conn.Close()
			}
		}()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-h.done:
				return
			}
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}()
}
