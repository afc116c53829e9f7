package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/birkenfeld/arexibo/internal/metrics"
	"github.com/birkenfeld/arexibo/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 32
)

// Hub fans updates from the collect loop out to connected displays. The
// latest settings and layouts are replayed to every new connection.
type Hub struct {
	mu           sync.Mutex
	clients      map[*client]struct{}
	lastSettings []byte
	lastLayouts  []byte

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			// The display runs on the same host and may load from file://.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run publishes updates until ctx is done or updates is closed, then
// disconnects all clients.
func (h *Hub) Run(ctx context.Context, updates <-chan model.Update) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.Publish(update)
		}
	}
}

// Publish sends one update to every connected client. Clients that cannot
// keep up are disconnected rather than slowing down the sender.
func (h *Hub) Publish(update model.Update) {
	payload, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("encoding display update failed", "kind", update.Kind, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	switch update.Kind {
	case model.UpdateSettings:
		h.lastSettings = payload
	case model.UpdateLayouts:
		h.lastLayouts = payload
	}
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("display client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
			h.removeLocked(c)
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	for _, replay := range [][]byte{h.lastSettings, h.lastLayouts} {
		if replay != nil {
			c.send <- replay
		}
	}
	h.clients[c] = struct{}{}
	metrics.DisplayClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
	h.logger.Info("display connected", "remote", conn.RemoteAddr().String())

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.DisplayClients.Set(float64(len(h.clients)))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// readPump only watches for the connection going away; displays report
// back over the POST endpoints.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("display connection lost", "err", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
