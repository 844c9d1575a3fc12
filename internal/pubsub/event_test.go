package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/storage"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []*models.DocumentEvent
	failOn string
}

func (h *recordingHandler) HandleEvent(ctx context.Context, event *models.DocumentEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	if event.UserID == h.failOn {
		return errors.New("cache unavailable")
	}
	return nil
}

func (h *recordingHandler) Events() []*models.DocumentEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*models.DocumentEvent(nil), h.events...)
}

func TestEventPublisher_Publish(t *testing.T) {
	redis := storage.NewMockRedisClient()
	publisher := NewEventPublisher(redis, DefaultEventPublisherConfig("documents.created"))

	event, err := publisher.Publish(context.Background(), models.CollectionWearable, "user-1", "doc-1")
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)

	require.Len(t, redis.StreamData, 1)
	decoded, err := DecodeEvent(redis.StreamData[0])
	require.NoError(t, err)
	assert.Equal(t, "user-1", decoded.UserID)
	assert.Equal(t, models.CollectionWearable, decoded.Collection)
	assert.Equal(t, "doc-1", decoded.DocumentID)
}

func TestEventPublisher_RejectsInvalidEvent(t *testing.T) {
	redis := storage.NewMockRedisClient()
	publisher := NewEventPublisher(redis, DefaultEventPublisherConfig("documents.created"))

	_, err := publisher.Publish(context.Background(), "unknown", "user-1", "doc-1")
	assert.ErrorIs(t, err, models.ErrInvalidEvent)
	assert.Empty(t, redis.StreamData)
}

func TestEventPublisher_GivesUpAfterRetries(t *testing.T) {
	redis := storage.NewMockRedisClient()
	redis.PublishErr = errors.New("redis down")
	cfg := DefaultEventPublisherConfig("documents.created")
	cfg.RetryAttempts = 2
	cfg.RetryDelay = time.Millisecond
	publisher := NewEventPublisher(redis, cfg)

	_, err := publisher.Publish(context.Background(), models.CollectionUsers, "user-1", "user-1")
	assert.ErrorContains(t, err, "after 3 attempts")
}

func TestDecodeEvent_Errors(t *testing.T) {
	_, err := DecodeEvent(storage.StreamMessage{Values: map[string]interface{}{}})
	assert.Error(t, err)

	_, err = DecodeEvent(storage.StreamMessage{Values: map[string]interface{}{EventField: "{not json"}})
	assert.Error(t, err)

	_, err = DecodeEvent(storage.StreamMessage{Values: map[string]interface{}{EventField: `{"collection":"users"}`}})
	assert.ErrorIs(t, err, models.ErrInvalidUserID)
}

func TestEventConsumer_AcksHandledAndFailedMessages(t *testing.T) {
	redis := storage.NewMockRedisClient()
	publisher := NewEventPublisher(redis, DefaultEventPublisherConfig("documents.created"))
	ctx := context.Background()

	_, err := publisher.Publish(ctx, models.CollectionAssessments, "user-1", "a-1")
	require.NoError(t, err)
	_, err = publisher.Publish(ctx, models.CollectionWearable, "user-2", "r-1")
	require.NoError(t, err)
	redis.StreamData = append(redis.StreamData, storage.StreamMessage{
		ID:     "99-0",
		Stream: "documents.created",
		Values: map[string]interface{}{EventField: "garbage"},
	})

	handler := &recordingHandler{failOn: "user-2"}
	consumer := NewEventConsumer(redis, handler, DefaultEventConsumerConfig("documents.created", "cache-invalidator", "test"))
	require.NoError(t, consumer.Start())

	select {
	case <-consumer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain the stream")
	}
	consumer.Stop()

	assert.Len(t, handler.Events(), 2)
	assert.ElementsMatch(t, []string{"1-0", "2-0", "99-0"}, redis.AckedIDs())

	stats := consumer.GetStats()
	assert.Equal(t, int64(1), stats.MessagesHandled)
	assert.Equal(t, int64(2), stats.MessagesFailed)
	assert.Equal(t, int64(3), stats.MessagesAcked)
}

func TestEventConsumer_StartTwice(t *testing.T) {
	redis := storage.NewMockRedisClient()
	consumer := NewEventConsumer(redis, &recordingHandler{}, DefaultEventConsumerConfig("s", "g", "c"))
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	assert.Error(t, consumer.Start())
	assert.True(t, consumer.IsRunning())
}
