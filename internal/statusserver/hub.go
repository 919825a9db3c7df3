package statusserver

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/abhiShandy/joinmarket-webui/internal/reconciler"
	"github.com/abhiShandy/joinmarket-webui/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	clientQueueSize = 8
	writeWait       = 5 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
)

// originChecker admits clients that send no Origin (non-browser clients),
// same-host pages and the configured origins. "*" admits any origin.
func originChecker(allowed []string) func(*http.Request) bool {
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		origins[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := origins[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

type streamClient struct {
	id   string
	send chan reconciler.Status
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.send) })
}

// hub fans status changes out to WebSocket clients.
type hub struct {
	current  func() reconciler.Status
	render   func(reconciler.Status) StatusResponse
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*streamClient
	closed  bool
}

func newHub(current func() reconciler.Status, render func(reconciler.Status) StatusResponse, allowedOrigins []string) *hub {
	return &hub{
		current:  current,
		render:   render,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
		clients:  make(map[string]*streamClient),
	}
}

// broadcast queues st for every client. Clients that cannot keep up are
// disconnected.
func (h *hub) broadcast(st reconciler.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- st:
		default:
			logger.Warnf("status stream client %s is too slow, disconnecting", id)
			delete(h.clients, id)
			c.close()
		}
	}
}

func (h *hub) register() (*streamClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &streamClient{
		id:   uuid.NewString(),
		send: make(chan reconciler.Status, clientQueueSize),
	}
	// Queued under the lock so no broadcast can precede it.
	c.send <- h.current()
	h.clients[c.id] = c
	return c, true
}

func (h *hub) unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		c.close()
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		c.close()
	}
}

// serve handles GET /api/status/ws. The current status is sent first, then
// every change.
func (h *hub) serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debugf("status stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	client, ok := h.register()
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		return
	}
	defer h.unregister(client)
	logger.Debugf("status stream client connected: %s", client.id)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case st, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(h.render(st)); err != nil {
				logger.Debugf("status stream write to %s failed: %v", client.id, err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			logger.Debugf("status stream client disconnected: %s", client.id)
			return
		}
	}
}
