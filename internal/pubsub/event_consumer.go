package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/storage"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

var consumedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "document_events_consumed_total",
		Help: "Total number of document events consumed, by outcome",
	},
	[]string{"stream", "outcome"},
)

// EventHandler reacts to a decoded document event
type EventHandler interface {
	HandleEvent(ctx context.Context, event *models.DocumentEvent) error
}

// EventConsumerConfig holds configuration for the event consumer
type EventConsumerConfig struct {
	StreamName    string
	ConsumerGroup string
	ConsumerName  string
	BatchSize     int // Messages handled before a flush of acknowledgements
	HandleTimeout time.Duration
	AckTimeout    time.Duration
}

// DefaultEventConsumerConfig returns default configuration
func DefaultEventConsumerConfig(streamName, consumerGroup, consumerName string) EventConsumerConfig {
	return EventConsumerConfig{
		StreamName:    streamName,
		ConsumerGroup: consumerGroup,
		ConsumerName:  consumerName,
		BatchSize:     50,
		HandleTimeout: 5 * time.Second,
		AckTimeout:    2 * time.Second,
	}
}

// ConsumerStats holds statistics about the consumer
type ConsumerStats struct {
	MessagesHandled int64
	MessagesFailed  int64
	MessagesAcked   int64
	LastMessageTime time.Time
}

// EventConsumer consumes document events from a stream and hands them to an EventHandler.
// Every message is acknowledged once handled, including failures: invalidation
// is best effort and TTL bounds the staleness of anything missed.
type EventConsumer struct {
	config  EventConsumerConfig
	redis   storage.RedisClient
	handler EventHandler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	statsMu sync.RWMutex
	stats   ConsumerStats
}

// NewEventConsumer creates a new event consumer
func NewEventConsumer(redis storage.RedisClient, handler EventHandler, config EventConsumerConfig) *EventConsumer {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &EventConsumer{
		config:  config,
		redis:   redis,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts consuming from the stream
func (c *EventConsumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer is already running")
	}

	messages, err := c.redis.ConsumeFromStream(c.ctx, c.config.StreamName, c.config.ConsumerGroup, c.config.ConsumerName)
	if err != nil {
		return fmt.Errorf("failed to consume from stream %s: %w", c.config.StreamName, err)
	}
	c.running = true

	logger.Info("Starting event consumer",
		logger.String("stream", c.config.StreamName),
		logger.String("group", c.config.ConsumerGroup),
		logger.String("consumer", c.config.ConsumerName),
	)

	c.wg.Add(1)
	go c.consume(messages)
	return nil
}

// Stop stops the consumer and waits for the in-progress batch
func (c *EventConsumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	logger.Info("Stopping event consumer")
	c.cancel()
	c.wg.Wait()
	logger.Info("Event consumer stopped")
}

// Done is closed when the consume loop has exited
func (c *EventConsumer) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	return done
}

func (c *EventConsumer) consume(messages <-chan storage.StreamMessage) {
	defer c.wg.Done()

	batch := make([]string, 0, c.config.BatchSize)
	flush := func() {
		if len(batch) > 0 {
			c.acknowledge(batch)
			batch = batch[:0]
		}
	}
	defer flush()

	ticker := time.NewTicker(c.config.AckTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			c.handle(msg)
			batch = append(batch, msg.ID)
			if len(batch) >= c.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (c *EventConsumer) handle(msg storage.StreamMessage) {
	event, err := DecodeEvent(msg)
	if err != nil {
		logger.Error("Dropping undecodable document event",
			logger.ErrorField(err),
			logger.String("message_id", msg.ID),
		)
		c.recordFailure("decode_error")
		return
	}

	// Handling is independent of consumer shutdown so an in-flight event completes
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.config.HandleTimeout)
	defer cancel()

	if err := c.handler.HandleEvent(ctx, event); err != nil {
		logger.Error("Failed to handle document event",
			logger.ErrorField(err),
			logger.String("message_id", msg.ID),
			logger.String("collection", event.Collection),
			logger.String("user_id", event.UserID),
		)
		c.recordFailure("handler_error")
		return
	}

	consumedTotal.WithLabelValues(c.config.StreamName, "ok").Inc()
	c.statsMu.Lock()
	c.stats.MessagesHandled++
	c.stats.LastMessageTime = time.Now()
	c.statsMu.Unlock()
}

func (c *EventConsumer) recordFailure(outcome string) {
	consumedTotal.WithLabelValues(c.config.StreamName, outcome).Inc()
	c.statsMu.Lock()
	c.stats.MessagesFailed++
	c.statsMu.Unlock()
}

func (c *EventConsumer) acknowledge(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.AckTimeout)
	defer cancel()

	var acked int64
	for _, id := range ids {
		if err := c.redis.AcknowledgeMessage(ctx, c.config.StreamName, c.config.ConsumerGroup, id); err != nil {
			logger.Error("Failed to acknowledge message",
				logger.ErrorField(err),
				logger.String("stream", c.config.StreamName),
				logger.String("message_id", id),
			)
			continue
		}
		acked++
	}

	c.statsMu.Lock()
	c.stats.MessagesAcked += acked
	c.statsMu.Unlock()
}

// GetStats returns current consumer statistics
func (c *EventConsumer) GetStats() ConsumerStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

// IsRunning returns whether the consumer is running
func (c *EventConsumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// DecodeEvent extracts a DocumentEvent from a stream message
func DecodeEvent(msg storage.StreamMessage) (*models.DocumentEvent, error) {
	raw, ok := msg.Values[EventField].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("no %q field in message", EventField)
	}

	var event models.DocumentEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}
