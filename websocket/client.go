package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Buffer size for client send channel
	sendBufferSize = 64
)

// Client is one live connection of a user. A user may hold several.
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	userID       string
	connectionID string
	connectedAt  time.Time
	deviceType   string
	ipAddress    string

	// Buffered channel of outbound messages, closed by the hub on unregister
	send chan Message
}

func newClient(conn *websocket.Conn, hub *Hub, userID string, r *http.Request) *Client {
	client := &Client{
		conn:         conn,
		hub:          hub,
		userID:       userID,
		connectionID: utils.GenerateUUID(),
		connectedAt:  time.Now(),
		send:         make(chan Message, sendBufferSize),
	}
	if r != nil {
		client.deviceType = r.Header.Get("X-Device-Type")
		client.ipAddress = clientIP(r)
	}
	return client
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("userId", c.userID).Warnf("WebSocket read error: %v", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logrus.WithField("userId", c.userID).Debugf("WebSocket write error: %v", err)
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

// handleMessage answers application-level pings. Notifications only flow
// from server to client, so anything else is ignored.
func (c *Client) handleMessage(data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.trySend(newMessage(TypeError, map[string]string{"message": "Invalid message format"}))
		return
	}

	switch req.Type {
	case TypePing:
		c.trySend(newMessage(TypePong, map[string]string{"requestId": req.RequestID}))
	default:
		logrus.WithFields(logrus.Fields{
			"userId": c.userID,
			"type":   req.Type,
		}).Debug("Ignoring client message")
	}
}

// trySend queues a reply unless the client is slow or already unregistered.
func (c *Client) trySend(msg Message) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.isRegistered(c) {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
