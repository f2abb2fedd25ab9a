package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/blackmichael/splatshare/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Screens connect from the embedded web view on the same device.
	CheckOrigin: func(*http.Request) bool { return true },
}

// postUpdate is the message pushed to screens. Type "post" carries the
// changed post; "purge" tells screens to drop every snapshot they hold.
type postUpdate struct {
	Type string       `json:"type"`
	Post *domain.Post `json:"post,omitempty"`
}

// hub fans cache writes out to every connected screen.
type hub struct {
	logger      *slog.Logger
	unsubscribe []func()

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(updates Updates, logger *slog.Logger) *hub {
	h := &hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
	if updates != nil {
		h.unsubscribe = []func(){
			updates.Subscribe(h.broadcastPost),
			updates.OnPurge(h.broadcastPurge),
		}
	}
	return h
}

func (h *hub) broadcastPost(post domain.Post) {
	h.broadcast(postUpdate{Type: "post", Post: &post})
}

func (h *hub) broadcastPurge() {
	h.broadcast(postUpdate{Type: "purge"})
}

// broadcast queues the update for every client. A client whose buffer is full
// is dropped rather than stalling the writer that updated the cache.
func (h *hub) broadcast(update postUpdate) {
	msg, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("failed to encode update", "type", update.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping slow websocket client")
			h.removeLocked(c)
		}
	}
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected", "clients", count)

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards inbound messages and detects disconnects.
func (h *hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
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

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *hub) close() {
	for _, unsubscribe := range h.unsubscribe {
		unsubscribe()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}
