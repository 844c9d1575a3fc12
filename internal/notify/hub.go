// Package notify pushes metrics-ready notifications to connected clients, so a
// client that got a 202 from the API can refetch as soon as its recompute lands.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vitalspan/metrics-cache/internal/auth"
	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/storage"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

var (
	wsConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Open notification sockets",
		},
	)

	wsReadyEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_ready_events_total",
			Help: "metrics.ready events by outcome",
		},
		[]string{"result"},
	)
)

// Subscriber is the pub/sub side of the Redis client
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (<-chan storage.PubSubMessage, error)
}

// HubStats is a snapshot of hub counters
type HubStats struct {
	ConnectionsTotal  int64     `json:"connectionsTotal"`
	ConnectionsActive int64     `json:"connectionsActive"`
	EventsReceived    int64     `json:"eventsReceived"`
	MessagesSent      int64     `json:"messagesSent"`
	MessagesDropped   int64     `json:"messagesDropped"`
	LastEventTime     time.Time `json:"lastEventTime"`
}

// Hub owns the client sockets and fans metrics.ready events out to the
// sockets of the user each event is about
type Hub struct {
	config   config.WSGatewayConfig
	sockets  *socketIndex
	pubsub   Subscriber
	channel  string
	auth     *auth.AuthManager
	upgrader websocket.Upgrader

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	connectionsTotal atomic.Int64
	eventsReceived   atomic.Int64
	messagesSent     atomic.Int64
	messagesDropped  atomic.Int64
	lastEventTime    atomic.Int64
}

// NewHub creates a new notification hub
func NewHub(cfg config.WSGatewayConfig, pubsub Subscriber, channel string, authManager *auth.AuthManager) *Hub {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config:  cfg,
		sockets: newSocketIndex(),
		pubsub:  pubsub,
		channel: channel,
		auth:    authManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Sockets are bound to a token or user id, not to a browser origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the ready channel and starts the connection monitor
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}

	messages, err := h.pubsub.Subscribe(h.ctx, h.channel)
	if err != nil {
		return err
	}
	h.running = true

	logger.Info("Starting notification hub", logger.String("channel", h.channel))

	h.wg.Add(2)
	go h.consumeReadyEvents(messages)
	go h.monitorConnections()
	return nil
}

// Stop closes every socket and waits for the hub's goroutines
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	logger.Info("Stopping notification hub")
	h.cancel()
	for _, conn := range h.sockets.snapshot() {
		h.Unregister(conn)
	}
	h.wg.Wait()
	logger.Info("Notification hub stopped")
}

// ServeHTTP authenticates the caller and upgrades the request to a socket
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.config.MaxConnections > 0 && h.sockets.count() >= h.config.MaxConnections {
		logger.Warn("Max connections reached, rejecting new connection",
			logger.Int("max_connections", h.config.MaxConnections),
		)
		http.Error(w, "max connections reached", http.StatusServiceUnavailable)
		return
	}

	userID, status := h.identify(r)
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		logger.Warn("Failed to upgrade connection", logger.ErrorField(err))
		return
	}

	h.Register(NewConnection(uuid.New().String(), userID, ws))
}

func (h *Hub) identify(r *http.Request) (string, int) {
	if h.auth != nil && h.auth.Enabled() {
		userID, err := h.auth.Authenticate(r)
		if err != nil {
			logger.Warn("Rejecting unauthenticated socket", logger.ErrorField(err))
			return "", http.StatusUnauthorized
		}
		return userID, http.StatusOK
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		return "", http.StatusBadRequest
	}
	return userID, http.StatusOK
}

// Register adds a connection and starts its pumps
func (h *Hub) Register(conn *Connection) {
	h.sockets.add(conn)
	h.connectionsTotal.Add(1)
	wsConnectionsActive.Inc()

	logger.Info("Connection registered",
		logger.String("connection_id", conn.ID),
		logger.String("user_id", conn.UserID),
		logger.Int("total_connections", h.sockets.count()),
	)

	_ = conn.enqueue(ServerMessage{
		Type: MessageTypeConnected,
		Data: map[string]string{"connectionId": conn.ID, "userId": conn.UserID},
	})

	h.wg.Add(2)
	go h.writePump(conn)
	go h.readPump(conn)
}

// Unregister removes and closes a connection. Safe to call more than once.
func (h *Hub) Unregister(conn *Connection) {
	if h.sockets.remove(conn) {
		wsConnectionsActive.Dec()
		logger.Info("Connection unregistered",
			logger.String("connection_id", conn.ID),
			logger.String("user_id", conn.UserID),
			logger.Int("total_connections", h.sockets.count()),
		)
	}
	conn.Close()
}

func (h *Hub) consumeReadyEvents(messages <-chan storage.PubSubMessage) {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg, ok := <-messages:
			if !ok {
				logger.Warn("Ready channel subscription closed")
				return
			}

			event, err := decodeReadyEvent(msg.Message)
			if err != nil {
				wsReadyEvents.WithLabelValues("invalid").Inc()
				logger.Error("Failed to decode ready event", logger.ErrorField(err))
				continue
			}

			h.eventsReceived.Add(1)
			h.lastEventTime.Store(time.Now().UnixNano())
			h.dispatch(event)
		}
	}
}

// dispatch delivers an event to every socket of the event's user
func (h *Hub) dispatch(event *models.MetricsReadyEvent) {
	connections := h.sockets.forUser(event.UserID)
	if len(connections) == 0 {
		wsReadyEvents.WithLabelValues("no_listener").Inc()
		return
	}

	sent, dropped := 0, 0
	for _, conn := range connections {
		if err := conn.SendReady(event); err != nil {
			dropped++
			continue
		}
		sent++
	}
	h.messagesSent.Add(int64(sent))
	h.messagesDropped.Add(int64(dropped))
	wsReadyEvents.WithLabelValues("delivered").Inc()

	logger.Debug("Dispatched ready event",
		logger.String("user_id", event.UserID),
		logger.String("scope", event.Scope),
		logger.Int("sent", sent),
		logger.Int("dropped", dropped),
	)
}

func (h *Hub) writePump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			conn.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return

		case <-conn.Done():
			return

		case message := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	conn.Conn.SetReadLimit(4096)
	conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.UpdateLastPong()
		return conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket error",
					logger.ErrorField(err),
					logger.String("connection_id", conn.ID),
				)
			}
			return
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			conn.SendError("invalid_message", "failed to parse message")
			continue
		}
		if err := conn.HandleClientMessage(&clientMsg); err != nil {
			logger.Debug("Failed to handle client message",
				logger.ErrorField(err),
				logger.String("connection_id", conn.ID),
			)
		}
	}
}

// monitorConnections drops sockets whose peer stopped answering pings
func (h *Hub) monitorConnections() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			staleThreshold := h.config.ReadTimeout * 2
			for _, conn := range h.sockets.snapshot() {
				if idle := now.Sub(conn.GetLastPong()); idle > staleThreshold {
					logger.Info("Removing stale connection",
						logger.String("connection_id", conn.ID),
						logger.String("user_id", conn.UserID),
						logger.Duration("idle_time", idle),
					)
					h.Unregister(conn)
				}
			}
		}
	}
}

// IsRunning returns whether the hub is subscribed and serving
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// GetStats returns hub statistics
func (h *Hub) GetStats() HubStats {
	stats := HubStats{
		ConnectionsTotal:  h.connectionsTotal.Load(),
		ConnectionsActive: int64(h.sockets.count()),
		EventsReceived:    h.eventsReceived.Load(),
		MessagesSent:      h.messagesSent.Load(),
		MessagesDropped:   h.messagesDropped.Load(),
	}
	if last := h.lastEventTime.Load(); last > 0 {
		stats.LastEventTime = time.Unix(0, last).UTC()
	}
	return stats
}
