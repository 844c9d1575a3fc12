package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/storage"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

const busyGroup = "BUSYGROUP Consumer Group name already exists"

// RedisClientImpl implements the storage.RedisClient interface
type RedisClientImpl struct {
	client      *redis.Client
	readCount   int64
	readBlock   time.Duration
	retryPeriod time.Duration
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg config.RedisConfig) (storage.RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
		logger.Int("db", cfg.DB),
	)

	return &RedisClientImpl{
		client:      rdb,
		readCount:   10,
		readBlock:   time.Second,
		retryPeriod: time.Second,
	}, nil
}

// PublishToStream appends a JSON-encoded value to a stream under the given field
func (r *RedisClientImpl) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			key: string(jsonData),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}

	return nil
}

// ensureGroup creates the consumer group (and the stream, via MKSTREAM) if missing.
// New groups start at "0" so events written before the first consumer are not lost.
func (r *RedisClientImpl) ensureGroup(ctx context.Context, stream, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err == nil || strings.HasPrefix(err.Error(), busyGroup) {
		return nil
	}
	return err
}

// ConsumeFromStream reads new messages for a consumer group until ctx is done.
// Unacknowledged messages stay pending in the group.
func (r *RedisClientImpl) ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan storage.StreamMessage, error) {
	var groupErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if groupErr = r.ensureGroup(ctx, stream, group); groupErr == nil {
			break
		}
		logger.Warn("Failed to create consumer group, retrying",
			logger.ErrorField(groupErr),
			logger.String("stream", stream),
			logger.String("group", group),
			logger.Int("attempt", attempt),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retryPeriod * time.Duration(attempt)):
		}
	}
	if groupErr != nil {
		// The read loop recreates the group on NOGROUP
		logger.Error("Failed to create consumer group after retries",
			logger.ErrorField(groupErr),
			logger.String("stream", stream),
			logger.String("group", group),
		)
	}

	messageChan := make(chan storage.StreamMessage, 100)

	go func() {
		defer close(messageChan)

		for ctx.Err() == nil {
			streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: consumer,
				Streams:  []string{stream, ">"},
				Count:    r.readCount,
				Block:    r.readBlock,
			}).Result()

			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				if strings.Contains(err.Error(), "NOGROUP") {
					logger.Warn("Consumer group not found, recreating",
						logger.String("stream", stream),
						logger.String("group", group),
					)
					if createErr := r.ensureGroup(ctx, stream, group); createErr != nil {
						logger.Error("Failed to recreate consumer group",
							logger.ErrorField(createErr),
							logger.String("stream", stream),
						)
					}
				} else {
					logger.Error("Error reading from stream",
						logger.ErrorField(err),
						logger.String("stream", stream),
					)
				}
				sleepCtx(ctx, 2*r.retryPeriod)
				continue
			}

			for _, s := range streams {
				for _, message := range s.Messages {
					msg := storage.StreamMessage{
						ID:     message.ID,
						Stream: s.Stream,
						Values: message.Values,
					}
					select {
					case messageChan <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return messageChan, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// AcknowledgeMessage acknowledges a message in a Redis stream
func (r *RedisClientImpl) AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error {
	return r.client.XAck(ctx, stream, group, id).Err()
}

// Set sets a key-value pair with TTL
func (r *RedisClientImpl) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return r.client.Set(ctx, key, jsonData, ttl).Err()
}

// Get gets a value by key
func (r *RedisClientImpl) Get(ctx context.Context, key string) (string, error) {
	result, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return result, err
}

// SetNX sets key to value only if it does not exist, with TTL
func (r *RedisClientImpl) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

// Delete deletes keys
func (r *RedisClientImpl) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Exists checks if a key exists
func (r *RedisClientImpl) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, key).Result()
	return count > 0, err
}

// HashGet gets a single hash field
func (r *RedisClientImpl) HashGet(ctx context.Context, key string, field string) (string, bool, error) {
	value, err := r.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// HashGetAll gets every field of a hash; a missing key yields an empty map
func (r *RedisClientImpl) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

// HashSet writes hash fields
func (r *RedisClientImpl) HashSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(values)*2)
	for field, value := range values {
		args = append(args, field, value)
	}
	return r.client.HSet(ctx, key, args...).Err()
}

// HashSetNX writes a hash field only if it is absent
func (r *RedisClientImpl) HashSetNX(ctx context.Context, key string, field string, value string) (bool, error) {
	return r.client.HSetNX(ctx, key, field, value).Result()
}

// HashDelete removes hash fields; missing keys and fields are ignored
func (r *RedisClientImpl) HashDelete(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return r.client.HDel(ctx, key, fields...).Err()
}

// HashUpdate performs an optimistic read-modify-write of one hash field using WATCH/MULTI
func (r *RedisClientImpl) HashUpdate(ctx context.Context, key string, field string, maxRetries int, fn func(current string, found bool) (string, error)) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, field).Result()
		found := true
		if err == redis.Nil {
			current, found = "", false
		} else if err != nil {
			return err
		}

		next, err := fn(current, found)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, next)
			return nil
		})
		return err
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if err != redis.TxFailedErr {
			return err
		}
		logger.Debug("Optimistic hash update lost a race, retrying",
			logger.String("key", key),
			logger.String("field", field),
			logger.Int("attempt", attempt+1),
		)
	}

	return fmt.Errorf("hash update on %s/%s: %w", key, field, storage.ErrTxConflict)
}

// ScanKeys iterates the keyspace with SCAN and returns all keys matching pattern
func (r *RedisClientImpl) ScanKeys(ctx context.Context, pattern string, count int64) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// MemoryUsage returns the approximate bytes used by a key, 0 if it does not exist
func (r *RedisClientImpl) MemoryUsage(ctx context.Context, key string) (int64, error) {
	size, err := r.client.MemoryUsage(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	return size, err
}

// Publish publishes a message to a pub/sub channel
func (r *RedisClientImpl) Publish(ctx context.Context, channel string, message interface{}) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return r.client.Publish(ctx, channel, jsonData).Err()
}

// Subscribe subscribes to pub/sub channels
func (r *RedisClientImpl) Subscribe(ctx context.Context, channels ...string) (<-chan storage.PubSubMessage, error) {
	pubsub := r.client.Subscribe(ctx, channels...)
	messageChan := make(chan storage.PubSubMessage, 100)

	go func() {
		defer close(messageChan)
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg := <-ch:
				if msg == nil {
					return
				}
				psMsg := storage.PubSubMessage{
					Channel: msg.Channel,
					Message: msg.Payload,
				}
				select {
				case messageChan <- psMsg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return messageChan, nil
}

// Ping checks connectivity
func (r *RedisClientImpl) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisClientImpl) Close() error {
	return r.client.Close()
}
