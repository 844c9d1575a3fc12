package invalidation

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

// KeyStore is the slice of the Redis client the deduplicator needs
type KeyStore interface {
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Deduplicator drops redelivered stream events by event ID, so a redelivery
// that arrives after a recompute does not throw away fresh sub-caches
type Deduplicator struct {
	redis KeyStore
	ttl   time.Duration
}

// NewDeduplicator creates a new deduplicator; ttl bounds how long an event ID is remembered
func NewDeduplicator(redis KeyStore, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduplicator{redis: redis, ttl: ttl}
}

func dedupeKey(eventID string) string {
	return fmt.Sprintf("invalidator:seen:%s", eventID)
}

// Claim marks an event as seen and reports whether this caller is the first
func (d *Deduplicator) Claim(ctx context.Context, event *models.DocumentEvent) (bool, error) {
	claimed, err := d.redis.SetNX(ctx, dedupeKey(event.ID), event.DocumentID, d.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}
	if !claimed {
		logger.Debug("Duplicate document event",
			logger.String("event_id", event.ID),
			logger.String("user_id", event.UserID),
		)
	}
	return claimed, nil
}

// Release forgets an event so a later redelivery is handled again
func (d *Deduplicator) Release(ctx context.Context, event *models.DocumentEvent) {
	if err := d.redis.Delete(ctx, dedupeKey(event.ID)); err != nil {
		logger.Warn("Failed to release deduplication key",
			logger.ErrorField(err),
			logger.String("event_id", event.ID),
		)
	}
}
