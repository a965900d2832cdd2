package websocket

import "time"

const (
	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"
)

// Message is the envelope for every frame written to a client.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Request is a frame read from a client.
type Request struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
}

func newMessage(msgType string, data interface{}) Message {
	return Message{Type: msgType, Data: data, Timestamp: time.Now()}
}
