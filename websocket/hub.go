package websocket

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var ErrHubClosed = errors.New("websocket hub is closed")

const statsInterval = time.Minute

type HubStats struct {
	TotalConnections  int64     `json:"totalConnections"`
	ActiveConnections int       `json:"activeConnections"`
	ConnectedUsers    int       `json:"connectedUsers"`
	MessagesSent      int64     `json:"messagesSent"`
	MessagesDropped   int64     `json:"messagesDropped"`
	StartTime         time.Time `json:"startTime"`
}

// Hub tracks the live connections of each user and pushes events to them.
// It is the session registry used by the in-app channel.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	closed  bool

	totalConnections atomic.Int64
	messagesSent     atomic.Int64
	messagesDropped  atomic.Int64
	startTime        time.Time
}

// NewHub creates a hub. allowedOrigins restricts the Origin header of
// upgrade requests; empty allows any origin.
func NewHub(allowedOrigins ...string) *Hub {
	h := &Hub{
		clients:   make(map[string]map[*Client]struct{}),
		startTime: time.Now(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Run logs hub statistics until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	logrus.Info("WebSocket hub starting...")

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := h.Stats()
			logrus.WithFields(logrus.Fields{
				"connections": stats.ActiveConnections,
				"users":       stats.ConnectedUsers,
				"sent":        stats.MessagesSent,
				"dropped":     stats.MessagesDropped,
			}).Debug("WebSocket hub stats")

		case <-ctx.Done():
			h.closeAll()
			logrus.Info("WebSocket hub shut down")
			return
		}
	}
}

// ServeWS upgrades the request and registers the connection for userID.
// The caller authenticates the user before calling it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := newClient(conn, h, userID, r)
	if err := h.registerClient(client); err != nil {
		conn.Close()
		return err
	}

	go client.writePump()
	go client.readPump()
	return nil
}

func (h *Hub) registerClient(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.totalConnections.Add(1)

	logrus.WithFields(logrus.Fields{
		"userId":       c.userID,
		"connectionId": c.connectionID,
		"devices":      len(set),
	}).Info("WebSocket client registered")
	return nil
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}

	logrus.WithFields(logrus.Fields{
		"userId":       c.userID,
		"connectionId": c.connectionID,
	}).Info("WebSocket client unregistered")
}

// isRegistered must be called with h.mu held.
func (h *Hub) isRegistered(c *Client) bool {
	_, ok := h.clients[c.userID][c]
	return ok
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
	}
}

// EmitToUser queues an event on every live connection of userID. It never
// blocks: a connection whose buffer is full misses the event.
func (h *Hub) EmitToUser(userID, event string, payload interface{}) {
	msg := newMessage(event, payload)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[userID] {
		select {
		case c.send <- msg:
			h.messagesSent.Add(1)
		default:
			h.messagesDropped.Add(1)
			logrus.WithFields(logrus.Fields{
				"userId":       userID,
				"connectionId": c.connectionID,
				"event":        event,
			}).Warn("WebSocket send buffer full, dropping event")
		}
	}
}

func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) ConnectedUsers() []string {
	h.mu.RLock()
	users := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		users = append(users, userID)
	}
	h.mu.RUnlock()

	sort.Strings(users)
	return users
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	active := 0
	for _, set := range h.clients {
		active += len(set)
	}
	users := len(h.clients)
	h.mu.RUnlock()

	return HubStats{
		TotalConnections:  h.totalConnections.Load(),
		ActiveConnections: active,
		ConnectedUsers:    users,
		MessagesSent:      h.messagesSent.Load(),
		MessagesDropped:   h.messagesDropped.Load(),
		StartTime:         h.startTime,
	}
}
