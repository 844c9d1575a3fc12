package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/storage"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

// EventField is the stream field carrying the JSON-encoded DocumentEvent
const EventField = "event"

var (
	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_events_published_total",
			Help: "Total number of document events published",
		},
		[]string{"stream", "collection"},
	)

	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_events_publish_errors_total",
			Help: "Total number of document event publish failures after retries",
		},
		[]string{"stream", "collection"},
	)

	publishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "document_events_publish_latency_seconds",
			Help:    "Document event publish latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"stream"},
	)
)

// EventPublisherConfig holds configuration for the event publisher
type EventPublisherConfig struct {
	StreamName    string
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultEventPublisherConfig returns default configuration
func DefaultEventPublisherConfig(streamName string) EventPublisherConfig {
	return EventPublisherConfig{
		StreamName:    streamName,
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// EventPublisher writes document-created events to a Redis stream
type EventPublisher struct {
	config EventPublisherConfig
	redis  storage.RedisClient
	now    func() time.Time
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(redis storage.RedisClient, config EventPublisherConfig) *EventPublisher {
	return &EventPublisher{
		config: config,
		redis:  redis,
		now:    time.Now,
	}
}

// Publish stamps and publishes a document event, retrying with linear backoff
func (p *EventPublisher) Publish(ctx context.Context, collection, userID, documentID string) (*models.DocumentEvent, error) {
	event := &models.DocumentEvent{
		ID:         uuid.New().String(),
		Collection: collection,
		UserID:     userID,
		DocumentID: documentID,
		CreatedAt:  p.now().UTC(),
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	start := time.Now()
	defer func() {
		publishLatency.WithLabelValues(p.config.StreamName).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt <= p.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.config.RetryDelay * time.Duration(attempt)):
			}
		}

		lastErr = p.redis.PublishToStream(ctx, p.config.StreamName, EventField, event)
		if lastErr == nil {
			publishTotal.WithLabelValues(p.config.StreamName, collection).Inc()
			return event, nil
		}

		logger.Warn("Failed to publish document event, retrying",
			logger.ErrorField(lastErr),
			logger.String("stream", p.config.StreamName),
			logger.String("collection", collection),
			logger.Int("attempt", attempt+1),
		)
	}

	publishErrors.WithLabelValues(p.config.StreamName, collection).Inc()
	return nil, fmt.Errorf("failed to publish event after %d attempts: %w", p.config.RetryAttempts+1, lastErr)
}
