package invalidation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/storage"
)

func TestInvalidator_DropsRedeliveredEvent(t *testing.T) {
	svc, redis := newTestCache()
	seedAll(t, svc, "u1")
	inv := NewInvalidator(svc, WithDeduplicator(NewDeduplicator(redis, 0)))

	event := &models.DocumentEvent{ID: "e1", Collection: models.CollectionWearable, UserID: "u1", DocumentID: "r1"}
	require.NoError(t, inv.HandleEvent(context.Background(), event))

	// A recompute lands between the delivery and the redelivery
	seedAll(t, svc, "u1")
	require.NoError(t, inv.HandleEvent(context.Background(), event))

	assert.Len(t, present(t, svc, "u1"), len(models.AllSubCaches()))
}

func TestInvalidator_DistinctEventsAreNotDuplicates(t *testing.T) {
	svc, redis := newTestCache()
	seedAll(t, svc, "u1")
	inv := NewInvalidator(svc, WithDeduplicator(NewDeduplicator(redis, 0)))

	require.NoError(t, inv.HandleEvent(context.Background(), &models.DocumentEvent{ID: "e1", Collection: models.CollectionWearable, UserID: "u1", DocumentID: "r1"}))
	seedAll(t, svc, "u1")
	require.NoError(t, inv.HandleEvent(context.Background(), &models.DocumentEvent{ID: "e2", Collection: models.CollectionWearable, UserID: "u1", DocumentID: "r2"}))

	assert.NotContains(t, present(t, svc, "u1"), models.SubCacheDaily)
}

type flakyCache struct {
	failures int
	calls    int
}

func (c *flakyCache) InitializeUserCache(ctx context.Context, userID string) error { return nil }

func (c *flakyCache) InvalidateCache(ctx context.Context, userID string, names []models.SubCacheName) error {
	c.calls++
	if c.calls <= c.failures {
		return models.ErrCacheWrite
	}
	return nil
}

func TestInvalidator_FailedEventCanBeRetried(t *testing.T) {
	redis := storage.NewMockRedisClient()
	c := &flakyCache{failures: 1}
	inv := NewInvalidator(c, WithDeduplicator(NewDeduplicator(redis, 0)))
	event := &models.DocumentEvent{ID: "e1", Collection: models.CollectionAssessments, UserID: "u1", DocumentID: "a1"}

	assert.ErrorIs(t, inv.HandleEvent(context.Background(), event), models.ErrCacheWrite)
	assert.NoError(t, inv.HandleEvent(context.Background(), event))
	assert.Equal(t, 2, c.calls)
}

func TestInvalidator_DedupOutageStillInvalidates(t *testing.T) {
	redis := storage.NewMockRedisClient()
	redis.SetErr = errors.New("connection reset")
	c := &flakyCache{}
	inv := NewInvalidator(c, WithDeduplicator(NewDeduplicator(redis, 0)))
	event := &models.DocumentEvent{ID: "e1", Collection: models.CollectionWearable, UserID: "u1", DocumentID: "r1"}

	require.NoError(t, inv.HandleEvent(context.Background(), event))
	require.NoError(t, inv.HandleEvent(context.Background(), event))
	assert.Equal(t, 2, c.calls)
}
