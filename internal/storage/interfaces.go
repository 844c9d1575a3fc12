package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vitalspan/metrics-cache/internal/models"
)

// RawDataStore is the read side of the raw time-series store.
// Only the calculation engine and batch jobs read from it in bulk.
type RawDataStore interface {
	// GetWearableReadings returns readings recorded in [start, end), oldest first
	GetWearableReadings(ctx context.Context, userID string, start, end time.Time) ([]*models.WearableReading, error)

	// GetAssessments returns assessments created in [start, end), oldest first
	GetAssessments(ctx context.Context, userID string, start, end time.Time) ([]*models.Assessment, error)

	// GetActiveUsers returns users with any reading or assessment since the given time
	GetActiveUsers(ctx context.Context, since time.Time) ([]string, error)

	// GetUsersWithMinTrackedDays returns users with readings on at least minDays distinct days
	GetUsersWithMinTrackedDays(ctx context.Context, minDays int) ([]string, error)

	Close() error
}

// RawDataWriter is the write side used by the ingest endpoints
type RawDataWriter interface {
	// CreateUser inserts a user; created is false if the user already existed
	CreateUser(ctx context.Context, user *models.User) (created bool, err error)
	InsertWearableReading(ctx context.Context, reading *models.WearableReading) error
	InsertAssessment(ctx context.Context, assessment *models.Assessment) error
}

// RedisClient defines the Redis operations used by the cache store, event streams
// and ready notifications
type RedisClient interface {
	// Stream operations
	PublishToStream(ctx context.Context, stream string, key string, value interface{}) error
	ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan StreamMessage, error)
	AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error

	// Key-value operations
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Hash operations
	HashGet(ctx context.Context, key string, field string) (value string, found bool, err error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashSet(ctx context.Context, key string, values map[string]string) error
	HashSetNX(ctx context.Context, key string, field string, value string) (bool, error)
	HashDelete(ctx context.Context, key string, fields ...string) error
	// HashUpdate runs fn against the current field value and writes its result
	// atomically; concurrent writers cause fn to be re-run up to maxRetries times
	HashUpdate(ctx context.Context, key string, field string, maxRetries int, fn func(current string, found bool) (string, error)) error

	// Keyspace inspection
	ScanKeys(ctx context.Context, pattern string, count int64) ([]string, error)
	MemoryUsage(ctx context.Context, key string) (int64, error)

	// Pub/Sub operations
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan PubSubMessage, error)

	Ping(ctx context.Context) error
	Close() error
}

// StreamMessage represents a message from a Redis stream
type StreamMessage struct {
	ID     string
	Stream string
	Values map[string]interface{}
}

// PubSubMessage represents a message from Redis pub/sub
type PubSubMessage struct {
	Channel string
	Message string
}

// ErrTxConflict is returned when an optimistic transaction keeps losing to
// concurrent writers
var ErrTxConflict = errors.New("transaction conflict: retries exhausted")
