package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodewatch/nodewatch/internal/model"
)

const clientSendBuffer = 8

// hub pushes each published cluster report to every connected
// websocket client.
type hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan *model.ClusterReport
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		logger:  logger.With("component", "dashboard.hub"),
		clients: make(map[*client]struct{}),
	}
}

// run consumes published reports until the channel closes or the
// context is canceled, then disconnects all clients.
func (h *hub) run(ctx context.Context, reports <-chan *model.ClusterReport) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-reports:
			if !ok {
				return
			}
			h.broadcast(report)
		}
	}
}

func (h *hub) broadcast(report *model.ClusterReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- report:
		default:
			// Client not keeping up; drop it rather than queue forever.
			h.dropLocked(c)
		}
	}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) drop(c *client) {
	h.mu.Lock()
	h.dropLocked(c)
	h.mu.Unlock()
}

func (h *hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard serves a local operator UI; cross-origin embedding
	// is not a supported deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWS upgrades the connection and streams reports until the client
// disconnects.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request, current *model.ClusterReport) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan *model.ClusterReport, clientSendBuffer)}
	// Queue the latest report before registering so the new client sees
	// state immediately and no broadcast can race the first send.
	if current != nil {
		c.send <- current
	}
	h.add(c)
	h.logger.Debug("websocket client connected", "clients", h.clientCount())

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *hub) writeLoop(c *client) {
	for report := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(report); err != nil {
			break
		}
	}
	c.conn.Close()
}

// readLoop discards client messages and notices disconnects.
func (h *hub) readLoop(c *client) {
	defer func() {
		h.drop(c)
		c.conn.Close()
		h.logger.Debug("websocket client disconnected", "clients", h.clientCount())
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
