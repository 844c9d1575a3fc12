package notify

import (
	"encoding/json"
	"fmt"

	"github.com/vitalspan/metrics-cache/internal/models"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypePing         MessageType = "ping"
	MessageTypePong         MessageType = "pong"
	MessageTypeConnected    MessageType = "connected"
	MessageTypeMetricsReady MessageType = "metrics_ready"
	MessageTypeError        MessageType = "error"
)

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type string `json:"type"`
}

// ServerMessage represents a message to the client
type ServerMessage struct {
	Type    MessageType `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// HandleClientMessage handles a message from the client. Clients only ever
// ping; everything they need arrives as pushed metrics_ready messages.
func (c *Connection) HandleClientMessage(msg *ClientMessage) error {
	switch MessageType(msg.Type) {
	case MessageTypePing:
		return c.enqueue(ServerMessage{Type: MessageTypePong})
	default:
		return c.SendError("unknown_message_type", fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

// decodeReadyEvent parses a metrics.ready pub/sub payload
func decodeReadyEvent(payload string) (*models.MetricsReadyEvent, error) {
	var event models.MetricsReadyEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ready event: %w", err)
	}
	if event.UserID == "" {
		return nil, fmt.Errorf("ready event has no user id")
	}
	return &event, nil
}
