// Package invalidation maps document-created events onto the sub-caches they make stale.
package invalidation

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

var (
	eventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidator_events_total",
			Help: "Document events handled by collection and result",
		},
		[]string{"collection", "result"},
	)

	eventLag = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invalidator_event_lag_seconds",
			Help:    "Time between document creation and invalidation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		},
		[]string{"collection"},
	)
)

// Targets returns the sub-caches a new document in collection makes stale.
// Weekly and monthly are left to their TTLs.
func Targets(collection string) []models.SubCacheName {
	switch collection {
	case models.CollectionAssessments:
		return []models.SubCacheName{models.SubCacheDashboard, models.SubCacheLifetime}
	case models.CollectionWearable:
		return []models.SubCacheName{models.SubCacheDaily, models.SubCacheDashboard}
	}
	return nil
}

// Cache is the slice of the cache service the invalidator needs; *cache.Service satisfies it
type Cache interface {
	InitializeUserCache(ctx context.Context, userID string) error
	InvalidateCache(ctx context.Context, userID string, names []models.SubCacheName) error
}

// Option configures an Invalidator
type Option func(*Invalidator)

// WithDeduplicator skips events whose ID has already been handled
func WithDeduplicator(d *Deduplicator) Option {
	return func(i *Invalidator) {
		i.dedup = d
	}
}

// Invalidator implements pubsub.EventHandler
type Invalidator struct {
	cache Cache
	dedup *Deduplicator
	now   func() time.Time
}

// NewInvalidator creates a new invalidator
func NewInvalidator(cache Cache, opts ...Option) *Invalidator {
	i := &Invalidator{
		cache: cache,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// HandleEvent dispatches a document event by collection. Errors are logged
// and returned for accounting; they never reach the write that produced the event.
func (i *Invalidator) HandleEvent(ctx context.Context, event *models.DocumentEvent) error {
	if err := event.Validate(); err != nil {
		eventsHandled.WithLabelValues(event.Collection, "invalid").Inc()
		return err
	}
	if i.dedup != nil && event.ID != "" {
		claimed, err := i.dedup.Claim(ctx, event)
		if err != nil {
			// Invalidating twice is harmless; losing an invalidation is not
			logger.Warn("Deduplication unavailable, handling event anyway",
				logger.ErrorField(err),
				logger.String("event_id", event.ID),
			)
		} else if !claimed {
			eventsHandled.WithLabelValues(event.Collection, "duplicate").Inc()
			return nil
		}
	}
	if !event.CreatedAt.IsZero() {
		eventLag.WithLabelValues(event.Collection).Observe(i.now().Sub(event.CreatedAt).Seconds())
	}

	var err error
	switch event.Collection {
	case models.CollectionAssessments:
		err = i.OnAssessmentCreated(ctx, event.UserID)
	case models.CollectionWearable:
		err = i.OnWearableReadingCreated(ctx, event.UserID)
	case models.CollectionUsers:
		err = i.OnUserCreated(ctx, event.UserID)
	default:
		err = fmt.Errorf("%w: collection %q", models.ErrInvalidEvent, event.Collection)
	}

	if err != nil {
		if i.dedup != nil && event.ID != "" {
			i.dedup.Release(context.WithoutCancel(ctx), event)
		}
		eventsHandled.WithLabelValues(event.Collection, "error").Inc()
		logger.Error("Cache invalidation failed",
			logger.ErrorField(err),
			logger.String("event_id", event.ID),
			logger.String("collection", event.Collection),
			logger.String("user_id", event.UserID),
			logger.String("document_id", event.DocumentID),
		)
		return err
	}
	eventsHandled.WithLabelValues(event.Collection, "ok").Inc()
	return nil
}

// OnAssessmentCreated drops the dashboard and lifetime sub-caches
func (i *Invalidator) OnAssessmentCreated(ctx context.Context, userID string) error {
	return i.invalidate(ctx, userID, models.CollectionAssessments)
}

// OnWearableReadingCreated drops the daily and dashboard sub-caches
func (i *Invalidator) OnWearableReadingCreated(ctx context.Context, userID string) error {
	return i.invalidate(ctx, userID, models.CollectionWearable)
}

// OnUserCreated creates the empty cache record
func (i *Invalidator) OnUserCreated(ctx context.Context, userID string) error {
	if err := i.cache.InitializeUserCache(ctx, userID); err != nil {
		return fmt.Errorf("initialize cache for %s: %w", userID, err)
	}
	logger.Debug("Initialized user cache", logger.String("user_id", userID))
	return nil
}

func (i *Invalidator) invalidate(ctx context.Context, userID, collection string) error {
	targets := Targets(collection)
	if err := i.cache.InvalidateCache(ctx, userID, targets); err != nil {
		return fmt.Errorf("invalidate %v for %s: %w", targets, userID, err)
	}
	logger.Debug("Invalidated sub-caches",
		logger.String("user_id", userID),
		logger.String("collection", collection),
		logger.Int("sub_caches", len(targets)),
	)
	return nil
}
