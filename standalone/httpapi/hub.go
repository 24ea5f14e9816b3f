package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"sync"

	"github.com/gorilla/websocket"

	"motioncore/standalone"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// statusNotification is the push frame subscribers receive whenever the
// status document changes, shaped like Moonraker's notify_status_update.
type statusNotification struct {
	Method string            `json:"method"`
	Params standalone.Status `json:"params"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// StatusHub pushes the polled status document to every connected
// websocket client instead of requiring them to poll /status.
type StatusHub struct {
	mgr *standalone.Manager

	mu      sync.RWMutex
	clients map[*wsClient]bool

	last standalone.Status
}

func NewStatusHub(mgr *standalone.Manager) *StatusHub {
	return &StatusHub{mgr: mgr, clients: make(map[*wsClient]bool)}
}

// Upgrade accepts a websocket connection, sends the current status, and
// keeps the client registered until its read loop sees a close.
func (h *StatusHub) Upgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	c.send(statusNotification{Method: "notify_status_update", Params: h.mgr.Status()})

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Run polls the manager's status on the hub's cadence and broadcasts
// changes until ctx is cancelled.
func (h *StatusHub) Run(ctx context.Context) {
	h.mgr.StatusReactor().Run(ctx, h.broadcast)
}

func (h *StatusHub) broadcast() {
	st := h.mgr.Status()
	if reflect.DeepEqual(st, h.last) {
		return
	}
	h.last = st

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	note := statusNotification{Method: "notify_status_update", Params: st}
	for _, c := range clients {
		if err := c.send(note); err != nil {
			slog.Warn("websocket push failed", "err", err)
		}
	}
}
