package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

const sendBuffer = 32

// ErrSendBufferFull is returned when a client is not draining its messages
var ErrSendBufferFull = errors.New("send buffer full")

// Connection is one authenticated client socket, bound to a single user
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	lastPong  time.Time
	createdAt time.Time
}

// NewConnection creates a new WebSocket connection
func NewConnection(id string, userID string, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Connection{
		ID:        id,
		UserID:    userID,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		ctx:       ctx,
		cancel:    cancel,
		createdAt: now,
		lastPong:  now,
	}
}

// UpdateLastPong updates the last pong time
func (c *Connection) UpdateLastPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
}

// GetLastPong returns the last pong time
func (c *Connection) GetLastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPong
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close closes the connection. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// SendReady tells the client that fresh metrics are cached for it
func (c *Connection) SendReady(event *models.MetricsReadyEvent) error {
	return c.enqueue(ServerMessage{Type: MessageTypeMetricsReady, Data: event})
}

// SendError sends an error message to the connection
func (c *Connection) SendError(code string, message string) error {
	return c.enqueue(ServerMessage{Type: MessageTypeError, Code: code, Message: message})
}

// enqueue never blocks: a slow client loses the message rather than stalling the hub
func (c *Connection) enqueue(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}

	select {
	case c.Send <- data:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		logger.Warn("Dropping message, send buffer full",
			logger.String("connection_id", c.ID),
			logger.String("user_id", c.UserID),
			logger.String("type", string(msg.Type)),
		)
		return ErrSendBufferFull
	}
}
