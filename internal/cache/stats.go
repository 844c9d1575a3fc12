package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

const scanCount = 200

// GetCacheStats walks every cache record with SCAN and sizes it with MEMORY USAGE.
// The keyspace may change during the walk, so the result is approximate.
func (s *Service) GetCacheStats(ctx context.Context) (*models.CacheStats, error) {
	keys, err := s.redis.ScanKeys(ctx, s.cfg.KeyPrefix+":*", scanCount)
	if err != nil {
		cacheErrors.WithLabelValues("stats").Inc()
		return nil, fmt.Errorf("%w: scan records: %v", models.ErrCacheRead, err)
	}

	stats := &models.CacheStats{
		SubCacheCounts: make(map[models.SubCacheName]int),
		CollectedAt:    s.Now(),
	}
	prefix := s.cfg.KeyPrefix + ":"

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		size, err := s.redis.MemoryUsage(ctx, key)
		if err != nil {
			logger.Warn("Failed to size cache record", logger.ErrorField(err), logger.String("key", key))
			continue
		}
		fields, err := s.redis.HashGetAll(ctx, key)
		if err != nil {
			logger.Warn("Failed to read cache record", logger.ErrorField(err), logger.String("key", key))
			continue
		}
		if len(fields) == 0 {
			// Deleted between SCAN and read
			continue
		}

		stats.TotalDocuments++
		stats.TotalBytes += size
		stats.LargestBytes = max(stats.LargestBytes, size)
		if s.cfg.OversizedBytes > 0 && size > s.cfg.OversizedBytes {
			stats.OversizedDocuments++
			stats.OversizedUserIDs = append(stats.OversizedUserIDs, strings.TrimPrefix(key, prefix))
		}
		for _, name := range models.AllSubCaches() {
			if _, ok := fields[string(name)]; ok {
				stats.SubCacheCounts[name]++
			}
		}
	}

	sort.Strings(stats.OversizedUserIDs)
	return stats, nil
}

// ComputingKey returns the in-flight marker key for a user's recompute scope
func (s *Service) ComputingKey(userID, scope string) string {
	return fmt.Sprintf("computing:%s:%s", userID, scope)
}

// TryMarkComputing claims the in-flight marker for a recompute scope.
// It returns false if another instance already holds it; the marker expires
// after the configured computing TTL so a crashed worker cannot block recompute forever.
func (s *Service) TryMarkComputing(ctx context.Context, userID, scope string) (bool, error) {
	ttl := s.cfg.ComputingTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	claimed, err := s.redis.SetNX(ctx, s.ComputingKey(userID, scope), s.Now().Format(time.RFC3339Nano), ttl)
	if err != nil {
		cacheErrors.WithLabelValues("mark_computing").Inc()
		return false, fmt.Errorf("failed to mark computing: %w", err)
	}
	return claimed, nil
}

// ClearComputing releases the in-flight marker
func (s *Service) ClearComputing(ctx context.Context, userID, scope string) error {
	if err := s.redis.Delete(ctx, s.ComputingKey(userID, scope)); err != nil {
		cacheErrors.WithLabelValues("clear_computing").Inc()
		return fmt.Errorf("failed to clear computing marker: %w", err)
	}
	return nil
}

// SubCacheSizes returns the encoded size in bytes of each sub-cache present in a record
func (s *Service) SubCacheSizes(ctx context.Context, userID string) (map[models.SubCacheName]int64, error) {
	fields, err := s.redis.HashGetAll(ctx, s.RecordKey(userID))
	if err != nil {
		cacheErrors.WithLabelValues("sizes").Inc()
		return nil, fmt.Errorf("%w: sizes %s: %v", models.ErrCacheRead, userID, err)
	}

	sizes := make(map[models.SubCacheName]int64)
	for _, name := range models.AllSubCaches() {
		if v, ok := fields[string(name)]; ok {
			sizes[name] = int64(len(v))
		}
	}
	return sizes, nil
}
