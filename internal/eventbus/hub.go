package eventbus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quantumlife/scheduler/internal/core"
)

// client wraps one subscriber's WebSocket connection with a buffered send
// queue, so one slow reader can never block Publish for everyone else.
type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub persists every event then best-effort delivers it to whichever of
// that user's browser tabs are currently connected. Persistence never
// depends on delivery succeeding: a client that is offline when an event
// is published simply replays it from the Store on reconnect.
type Hub struct {
	store *Store
	log   *zap.Logger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[core.UserID]map[*client]struct{}
}

// NewHub creates a new event hub backed by store.
func NewHub(store *Store, log *zap.Logger) *Hub {
	return &Hub{
		store: store,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[core.UserID]map[*client]struct{}),
	}
}

// Publish persists ev, assigns it an id, and fans it out to userID's live
// connections. Delivery failures are logged, never returned: a disconnected
// subscriber is not this call's problem.
func (h *Hub) Publish(ctx context.Context, userID core.UserID, kind Kind, payload interface{}) (Event, error) {
	ev, err := NewEvent(userID, kind, payload)
	if err != nil {
		return Event{}, err
	}
	if err := h.store.Append(ctx, &ev); err != nil {
		return Event{}, err
	}

	h.mu.RLock()
	subs := h.clients[userID]
	targets := make([]*client, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- ev:
		default:
			h.log.Warn("dropping event for slow subscriber", zap.String("user_id", string(userID)), zap.String("kind", string(kind)))
		}
	}

	return ev, nil
}

// ServeWS upgrades the request to a WebSocket and registers userID as a
// subscriber for the connection's lifetime. Callers pass afterID (the last
// event id the client already has, 0 on first connect) to replay the gap.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID core.UserID, afterID int64) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{conn: conn, send: make(chan Event, 32)}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.mu.Unlock()

	backlog, err := h.store.Since(r.Context(), userID, afterID)
	if err != nil {
		h.log.Warn("failed to load event backlog", zap.String("user_id", string(userID)), zap.Error(err))
	}
	for _, ev := range backlog {
		c.send <- ev
	}

	go h.readPump(c, userID)
	h.writePump(c, userID)

	return nil
}

// readPump drains and discards client frames, existing only to notice
// disconnects and honor ping/pong keepalive.
func (h *Hub) readPump(c *client, userID core.UserID) {
	defer h.unregister(c, userID)
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client, userID core.UserID) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		h.unregister(c, userID)
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(c *client, userID core.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.clients[userID]; ok {
		if _, ok := subs[c]; ok {
			delete(subs, c)
			close(c.send)
		}
		if len(subs) == 0 {
			delete(h.clients, userID)
		}
	}
}

// SubscriberCount reports how many live connections a user has, for tests
// and health diagnostics.
func (h *Hub) SubscriberCount(userID core.UserID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
