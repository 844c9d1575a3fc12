package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/storage"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

var (
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Sub-cache lookups by result (hit, miss, expired)",
		},
		[]string{"sub_cache", "result"},
	)

	cacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_writes_total",
			Help: "Sub-cache writes",
		},
		[]string{"sub_cache"},
	)

	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_errors_total",
			Help: "Cache store operation errors",
		},
		[]string{"operation"},
	)

	cacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Sub-caches invalidated",
		},
		[]string{"sub_cache"},
	)
)

// Record fields that are not sub-caches
const (
	fieldUserID    = "userId"
	fieldCreatedAt = "createdAt"
)

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source used for stamping and freshness checks
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service is the only reader and writer of user cache records.
// Each record is a Redis hash; each sub-cache is one JSON-encoded field, so a
// sub-cache write is a wholesale replace of that field and never a
// read-modify-write (lifetime excepted, see UpdateLifetimeMetrics).
// Store failures are returned to the caller without retry.
type Service struct {
	redis storage.RedisClient
	cfg   config.CacheConfig
	now   func() time.Time
}

// NewService creates a cache service
func NewService(redis storage.RedisClient, cfg config.CacheConfig, opts ...Option) *Service {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "usercache"
	}
	s := &Service{
		redis: redis,
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock's current time in UTC
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// TTL returns the configured TTL for a sub-cache; zero means no expiry
func (s *Service) TTL(name models.SubCacheName) time.Duration {
	switch name {
	case models.SubCacheDaily:
		return s.cfg.DailyTTL
	case models.SubCacheWeekly:
		return s.cfg.WeeklyTTL
	case models.SubCacheMonthly:
		return s.cfg.MonthlyTTL
	case models.SubCacheDashboard:
		return s.cfg.DashboardTTL
	}
	return 0
}

// RecordKey returns the hash key holding a user's cache record
func (s *Service) RecordKey(userID string) string {
	return fmt.Sprintf("%s:%s", s.cfg.KeyPrefix, userID)
}

// GetUserCache returns the full record, or nil if the user has none.
// Sub-caches are returned as stored, expired or not.
func (s *Service) GetUserCache(ctx context.Context, userID string) (*models.UserCacheRecord, error) {
	fields, err := s.redis.HashGetAll(ctx, s.RecordKey(userID))
	if err != nil {
		cacheErrors.WithLabelValues("get_record").Inc()
		return nil, fmt.Errorf("%w: get record %s: %v", models.ErrCacheRead, userID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	record := &models.UserCacheRecord{UserID: userID}
	if id, ok := fields[fieldUserID]; ok && id != "" {
		record.UserID = id
	}
	if created, ok := fields[fieldCreatedAt]; ok {
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			record.CreatedAt = t
		}
	}

	record.DailyMetrics = decodeField[models.DailyMetrics](userID, models.SubCacheDaily, fields, models.DailyMetricsVersion)
	record.WeeklyMetrics = decodeField[models.WeeklyMetrics](userID, models.SubCacheWeekly, fields, models.WeeklyMetricsVersion)
	record.MonthlyMetrics = decodeField[models.MonthlyMetrics](userID, models.SubCacheMonthly, fields, models.MonthlyMetricsVersion)
	record.LifetimeMetrics = decodeField[models.LifetimeMetrics](userID, models.SubCacheLifetime, fields, models.LifetimeMetricsVersion)
	record.DashboardCache = decodeField[models.DashboardData](userID, models.SubCacheDashboard, fields, models.DashboardMetricsVersion)

	return record, nil
}

// InitializeUserCache creates an empty record if none exists; otherwise it is a no-op
func (s *Service) InitializeUserCache(ctx context.Context, userID string) error {
	key := s.RecordKey(userID)

	created, err := s.redis.HashSetNX(ctx, key, fieldUserID, userID)
	if err != nil {
		cacheErrors.WithLabelValues("initialize").Inc()
		return fmt.Errorf("%w: initialize %s: %v", models.ErrCacheWrite, userID, err)
	}
	if _, err := s.redis.HashSetNX(ctx, key, fieldCreatedAt, s.Now().Format(time.RFC3339Nano)); err != nil {
		cacheErrors.WithLabelValues("initialize").Inc()
		return fmt.Errorf("%w: initialize %s: %v", models.ErrCacheWrite, userID, err)
	}

	if created {
		logger.Debug("Initialized user cache", logger.String("user_id", userID))
	}
	return nil
}

// GetDailyMetrics returns the daily sub-cache, or nil if absent or expired
func (s *Service) GetDailyMetrics(ctx context.Context, userID string) (*models.SubCache[models.DailyMetrics], error) {
	return getFresh[models.DailyMetrics](ctx, s, userID, models.SubCacheDaily, models.DailyMetricsVersion)
}

// GetWeeklyMetrics returns the weekly sub-cache, or nil if absent or expired
func (s *Service) GetWeeklyMetrics(ctx context.Context, userID string) (*models.SubCache[models.WeeklyMetrics], error) {
	return getFresh[models.WeeklyMetrics](ctx, s, userID, models.SubCacheWeekly, models.WeeklyMetricsVersion)
}

// GetMonthlyMetrics returns the monthly sub-cache, or nil if absent or expired
func (s *Service) GetMonthlyMetrics(ctx context.Context, userID string) (*models.SubCache[models.MonthlyMetrics], error) {
	return getFresh[models.MonthlyMetrics](ctx, s, userID, models.SubCacheMonthly, models.MonthlyMetricsVersion)
}

// GetLifetimeMetrics returns the lifetime sub-cache, or nil if absent. It never expires.
func (s *Service) GetLifetimeMetrics(ctx context.Context, userID string) (*models.SubCache[models.LifetimeMetrics], error) {
	return getFresh[models.LifetimeMetrics](ctx, s, userID, models.SubCacheLifetime, models.LifetimeMetricsVersion)
}

// GetDashboardCache returns the dashboard sub-cache, or nil if absent or expired
func (s *Service) GetDashboardCache(ctx context.Context, userID string) (*models.SubCache[models.DashboardData], error) {
	return getFresh[models.DashboardData](ctx, s, userID, models.SubCacheDashboard, models.DashboardMetricsVersion)
}

// PeekSubCache returns a sub-cache with its data left encoded, regardless of
// freshness. It backs stale serving and maintenance; hot paths use the typed getters.
func (s *Service) PeekSubCache(ctx context.Context, userID string, name models.SubCacheName) (*models.SubCache[json.RawMessage], error) {
	if _, err := models.ParseSubCacheName(string(name)); err != nil {
		return nil, err
	}
	return getStored[json.RawMessage](ctx, s, userID, name, 0)
}

// UpdateDailyMetrics replaces the daily sub-cache
func (s *Service) UpdateDailyMetrics(ctx context.Context, userID string, data models.DailyMetrics) (*models.SubCache[models.DailyMetrics], error) {
	return put(ctx, s, userID, models.SubCacheDaily, models.NewSubCache(data, models.DailyMetricsVersion, s.Now(), s.cfg.DailyTTL))
}

// UpdateWeeklyMetrics replaces the weekly sub-cache
func (s *Service) UpdateWeeklyMetrics(ctx context.Context, userID string, data models.WeeklyMetrics) (*models.SubCache[models.WeeklyMetrics], error) {
	return put(ctx, s, userID, models.SubCacheWeekly, models.NewSubCache(data, models.WeeklyMetricsVersion, s.Now(), s.cfg.WeeklyTTL))
}

// UpdateMonthlyMetrics replaces the monthly sub-cache
func (s *Service) UpdateMonthlyMetrics(ctx context.Context, userID string, data models.MonthlyMetrics) (*models.SubCache[models.MonthlyMetrics], error) {
	return put(ctx, s, userID, models.SubCacheMonthly, models.NewSubCache(data, models.MonthlyMetricsVersion, s.Now(), s.cfg.MonthlyTTL))
}

// UpdateDashboardCache replaces the dashboard sub-cache
func (s *Service) UpdateDashboardCache(ctx context.Context, userID string, data models.DashboardData) (*models.SubCache[models.DashboardData], error) {
	return put(ctx, s, userID, models.SubCacheDashboard, models.NewSubCache(data, models.DashboardMetricsVersion, s.Now(), s.cfg.DashboardTTL))
}

// UpdateLifetimeMetrics folds data into the stored lifetime metrics with
// MergeLifetime inside an optimistic transaction, so concurrent recomputes
// never lose or shrink monotonic fields.
func (s *Service) UpdateLifetimeMetrics(ctx context.Context, userID string, data models.LifetimeMetrics) (*models.SubCache[models.LifetimeMetrics], error) {
	var written *models.SubCache[models.LifetimeMetrics]

	err := s.redis.HashUpdate(ctx, s.RecordKey(userID), string(models.SubCacheLifetime), s.cfg.LifetimeMaxRetry,
		func(current string, found bool) (string, error) {
			merged := MergeLifetime(models.LifetimeMetrics{}, data)
			if found {
				var stored models.SubCache[models.LifetimeMetrics]
				if err := json.Unmarshal([]byte(current), &stored); err != nil || stored.Version != models.LifetimeMetricsVersion {
					logger.Warn("Discarding unreadable lifetime metrics",
						logger.String("user_id", userID),
						logger.Int("version", stored.Version),
					)
				} else {
					merged = MergeLifetime(stored.Data, data)
				}
			}

			written = models.NewSubCache(merged, models.LifetimeMetricsVersion, s.Now(), 0)
			encoded, err := json.Marshal(written)
			if err != nil {
				return "", fmt.Errorf("failed to marshal lifetime metrics: %w", err)
			}
			return string(encoded), nil
		})
	if err != nil {
		cacheErrors.WithLabelValues("update_lifetime").Inc()
		return nil, fmt.Errorf("%w: update %s/%s: %v", models.ErrCacheWrite, userID, models.SubCacheLifetime, err)
	}

	cacheWrites.WithLabelValues(string(models.SubCacheLifetime)).Inc()
	return written, nil
}

// ReplaceLifetimeMetrics overwrites lifetime metrics without merging.
// It is the only path allowed to decrease monotonic fields, after data deletion.
func (s *Service) ReplaceLifetimeMetrics(ctx context.Context, userID string, data models.LifetimeMetrics, reason string) (*models.SubCache[models.LifetimeMetrics], error) {
	logger.Info("Replacing lifetime metrics",
		logger.String("user_id", userID),
		logger.String("reason", reason),
	)
	return put(ctx, s, userID, models.SubCacheLifetime, models.NewSubCache(data, models.LifetimeMetricsVersion, s.Now(), 0))
}

// InvalidateCache removes the named sub-caches. A missing record or field is not
// an error, and a recompute racing with it simply wins or loses as last writer.
func (s *Service) InvalidateCache(ctx context.Context, userID string, names []models.SubCacheName) error {
	if len(names) == 0 {
		return nil
	}
	fields := make([]string, 0, len(names))
	for _, name := range names {
		if _, err := models.ParseSubCacheName(string(name)); err != nil {
			return err
		}
		fields = append(fields, string(name))
	}

	if err := s.redis.HashDelete(ctx, s.RecordKey(userID), fields...); err != nil {
		cacheErrors.WithLabelValues("invalidate").Inc()
		return fmt.Errorf("%w: invalidate %s: %v", models.ErrCacheWrite, userID, err)
	}

	for _, name := range names {
		cacheInvalidations.WithLabelValues(string(name)).Inc()
	}
	logger.Debug("Invalidated sub-caches",
		logger.String("user_id", userID),
		logger.Strings("sub_caches", fields),
	)
	return nil
}

// DeleteUserCache removes a user's whole record, as part of user deletion
func (s *Service) DeleteUserCache(ctx context.Context, userID string) error {
	if err := s.redis.Delete(ctx, s.RecordKey(userID)); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("%w: delete %s: %v", models.ErrCacheWrite, userID, err)
	}
	logger.Info("Deleted user cache", logger.String("user_id", userID))
	return nil
}

func getFresh[T any](ctx context.Context, s *Service, userID string, name models.SubCacheName, version int) (*models.SubCache[T], error) {
	sc, err := getStored[T](ctx, s, userID, name, version)
	if err != nil {
		return nil, err
	}
	switch {
	case sc == nil:
		cacheLookups.WithLabelValues(string(name), "miss").Inc()
		return nil, nil
	case !sc.IsFresh(s.Now()):
		cacheLookups.WithLabelValues(string(name), "expired").Inc()
		return nil, nil
	}
	cacheLookups.WithLabelValues(string(name), "hit").Inc()
	return sc, nil
}

// getStored reads one sub-cache field. version 0 accepts any version.
func getStored[T any](ctx context.Context, s *Service, userID string, name models.SubCacheName, version int) (*models.SubCache[T], error) {
	raw, found, err := s.redis.HashGet(ctx, s.RecordKey(userID), string(name))
	if err != nil {
		cacheErrors.WithLabelValues("get_" + string(name)).Inc()
		return nil, fmt.Errorf("%w: get %s/%s: %v", models.ErrCacheRead, userID, name, err)
	}
	if !found {
		return nil, nil
	}
	return decode[T](userID, name, raw, version), nil
}

func decodeField[T any](userID string, name models.SubCacheName, fields map[string]string, version int) *models.SubCache[T] {
	raw, ok := fields[string(name)]
	if !ok {
		return nil
	}
	return decode[T](userID, name, raw, version)
}

// decode treats unreadable or outdated envelopes as absent so the next
// recompute overwrites them
func decode[T any](userID string, name models.SubCacheName, raw string, version int) *models.SubCache[T] {
	var sc models.SubCache[T]
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		logger.Warn("Ignoring unreadable sub-cache",
			logger.ErrorField(err),
			logger.String("user_id", userID),
			logger.String("sub_cache", string(name)),
		)
		return nil
	}
	if version != 0 && sc.Version != version {
		logger.Debug("Ignoring sub-cache with outdated version",
			logger.String("user_id", userID),
			logger.String("sub_cache", string(name)),
			logger.Int("version", sc.Version),
		)
		return nil
	}
	return &sc
}

func put[T any](ctx context.Context, s *Service, userID string, name models.SubCacheName, sc *models.SubCache[T]) (*models.SubCache[T], error) {
	encoded, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	if err := s.redis.HashSet(ctx, s.RecordKey(userID), map[string]string{string(name): string(encoded)}); err != nil {
		cacheErrors.WithLabelValues("update_" + string(name)).Inc()
		return nil, fmt.Errorf("%w: update %s/%s: %v", models.ErrCacheWrite, userID, name, err)
	}

	cacheWrites.WithLabelValues(string(name)).Inc()
	return sc, nil
}
