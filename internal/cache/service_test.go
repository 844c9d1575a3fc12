package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/storage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		KeyPrefix:        "usercache",
		DailyTTL:         24 * time.Hour,
		WeeklyTTL:        7 * 24 * time.Hour,
		MonthlyTTL:       30 * 24 * time.Hour,
		DashboardTTL:     time.Hour,
		ComputingTTL:     2 * time.Minute,
		OversizedBytes:   512,
		LifetimeMaxRetry: 3,
	}
}

func newTestService(t *testing.T) (*Service, *storage.MockRedisClient, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	redis := storage.NewMockRedisClient()
	redis.Now = clock.Now
	return NewService(redis, testCacheConfig(), WithClock(clock.Now)), redis, clock
}

func TestService_GetUserCache_Missing(t *testing.T) {
	svc, _, _ := newTestService(t)

	record, err := svc.GetUserCache(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestService_InitializeUserCache_Idempotent(t *testing.T) {
	svc, redis, clock := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.InitializeUserCache(ctx, "u1"))
	first, err := svc.GetUserCache(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, first)
	snapshot, _ := redis.HashGetAll(ctx, svc.RecordKey("u1"))

	clock.Advance(time.Minute)
	require.NoError(t, svc.InitializeUserCache(ctx, "u1"))
	second, err := svc.GetUserCache(ctx, "u1")
	require.NoError(t, err)
	after, _ := redis.HashGetAll(ctx, svc.RecordKey("u1"))

	assert.Equal(t, first, second)
	assert.Equal(t, snapshot, after)
	assert.Equal(t, "u1", second.UserID)
	assert.Nil(t, second.DailyMetrics)
	assert.Nil(t, second.DashboardCache)
}

func TestService_InitializeDoesNotClobberExistingSubCaches(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateDailyMetrics(ctx, "u1", models.DailyMetrics{Date: "2024-05-01"})
	require.NoError(t, err)
	require.NoError(t, svc.InitializeUserCache(ctx, "u1"))

	daily, err := svc.GetDailyMetrics(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, "2024-05-01", daily.Data.Date)
}

func TestService_FreshnessBoundary(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	written, err := svc.UpdateDashboardCache(ctx, "u1", models.DashboardData{NextActions: []string{"walk"}})
	require.NoError(t, err)
	require.NotNil(t, written.ExpiresAt)
	assert.Equal(t, written.LastUpdated.Add(time.Hour), *written.ExpiresAt)

	clock.Advance(59 * time.Minute)
	got, err := svc.GetDashboardCache(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"walk"}, got.Data.NextActions)

	// now == expiresAt is already stale
	clock.Advance(time.Minute)
	got, err = svc.GetDashboardCache(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// The expired copy is still physically present
	record, err := svc.GetUserCache(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, record.DashboardCache)
	assert.False(t, record.DashboardCache.IsFresh(clock.Now()))

	peeked, err := svc.PeekSubCache(ctx, "u1", models.SubCacheDashboard)
	require.NoError(t, err)
	require.NotNil(t, peeked)
	assert.Contains(t, string(peeked.Data), `"nextActions":["walk"]`)
}

func TestService_TTLPerSubCache(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateDailyMetrics(ctx, "u1", models.DailyMetrics{})
	require.NoError(t, err)
	_, err = svc.UpdateWeeklyMetrics(ctx, "u1", models.WeeklyMetrics{DaysTracked: 3})
	require.NoError(t, err)
	_, err = svc.UpdateMonthlyMetrics(ctx, "u1", models.MonthlyMetrics{DaysTracked: 12})
	require.NoError(t, err)
	_, err = svc.UpdateLifetimeMetrics(ctx, "u1", models.LifetimeMetrics{TotalDaysTracked: 40})
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)

	daily, err := svc.GetDailyMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, daily)

	weekly, err := svc.GetWeeklyMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, weekly)

	clock.Advance(365 * 24 * time.Hour)

	monthly, err := svc.GetMonthlyMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, monthly)

	lifetime, err := svc.GetLifetimeMetrics(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, lifetime, "lifetime metrics never expire")
	assert.Nil(t, lifetime.ExpiresAt)
	assert.Equal(t, 40, lifetime.Data.TotalDaysTracked)
}

func TestService_InvalidationSelectivity(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateDailyMetrics(ctx, "u1", models.DailyMetrics{})
	require.NoError(t, err)
	_, err = svc.UpdateWeeklyMetrics(ctx, "u1", models.WeeklyMetrics{})
	require.NoError(t, err)
	_, err = svc.UpdateMonthlyMetrics(ctx, "u1", models.MonthlyMetrics{})
	require.NoError(t, err)
	_, err = svc.UpdateLifetimeMetrics(ctx, "u1", models.LifetimeMetrics{})
	require.NoError(t, err)
	_, err = svc.UpdateDashboardCache(ctx, "u1", models.DashboardData{})
	require.NoError(t, err)

	require.NoError(t, svc.InvalidateCache(ctx, "u1", []models.SubCacheName{models.SubCacheDaily}))

	daily, err := svc.GetDailyMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, daily)

	weekly, _ := svc.GetWeeklyMetrics(ctx, "u1")
	monthly, _ := svc.GetMonthlyMetrics(ctx, "u1")
	lifetime, _ := svc.GetLifetimeMetrics(ctx, "u1")
	dashboard, _ := svc.GetDashboardCache(ctx, "u1")
	assert.NotNil(t, weekly)
	assert.NotNil(t, monthly)
	assert.NotNil(t, lifetime)
	assert.NotNil(t, dashboard)
}

func TestService_InvalidateMissingRecord(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.InvalidateCache(context.Background(), "nobody", []models.SubCacheName{models.SubCacheDaily, models.SubCacheDashboard})
	assert.NoError(t, err)
}

func TestService_InvalidateUnknownSubCache(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.InvalidateCache(context.Background(), "u1", []models.SubCacheName{"hourlyMetrics"})
	assert.ErrorIs(t, err, models.ErrUnknownSubCache)
}

func TestService_ReadFailureIsSurfaced(t *testing.T) {
	svc, redis, _ := newTestService(t)
	redis.HashGetErr = errors.New("connection reset")

	_, err := svc.GetDailyMetrics(context.Background(), "u1")
	assert.ErrorIs(t, err, models.ErrCacheRead)

	_, err = svc.GetUserCache(context.Background(), "u1")
	assert.ErrorIs(t, err, models.ErrCacheRead)
}

func TestService_WriteFailureIsSurfaced(t *testing.T) {
	svc, redis, _ := newTestService(t)
	redis.HashSetErr = errors.New("read only replica")

	_, err := svc.UpdateWeeklyMetrics(context.Background(), "u1", models.WeeklyMetrics{})
	assert.ErrorIs(t, err, models.ErrCacheWrite)

	_, err = svc.UpdateLifetimeMetrics(context.Background(), "u1", models.LifetimeMetrics{})
	assert.ErrorIs(t, err, models.ErrCacheWrite)
}

func TestService_CorruptSubCacheIsAMiss(t *testing.T) {
	svc, redis, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, redis.HashSet(ctx, svc.RecordKey("u1"), map[string]string{
		string(models.SubCacheWeekly):  "{broken",
		string(models.SubCacheMonthly): `{"data":{},"version":99,"lastUpdated":"2024-05-01T09:00:00Z"}`,
	}))

	weekly, err := svc.GetWeeklyMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, weekly)

	monthly, err := svc.GetMonthlyMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, monthly, "outdated data version must not be served")
}

func TestService_LifetimeUpdateIsMonotonic(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateLifetimeMetrics(ctx, "u1", models.LifetimeMetrics{
		TotalDaysTracked: 50,
		LongestStreak:    12,
		CurrentStreak:    3,
		ComputedAt:       clock.Now(),
	})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = svc.UpdateLifetimeMetrics(ctx, "u1", models.LifetimeMetrics{
		TotalDaysTracked: 45,
		LongestStreak:    4,
		CurrentStreak:    0,
		ComputedAt:       clock.Now(),
	})
	require.NoError(t, err)

	got, err := svc.GetLifetimeMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Data.TotalDaysTracked)
	assert.Equal(t, 12, got.Data.LongestStreak)
	assert.Equal(t, 0, got.Data.CurrentStreak, "current streak follows the newest computation")

	// Replace is the explicit escape hatch for data deletion
	_, err = svc.ReplaceLifetimeMetrics(ctx, "u1", models.LifetimeMetrics{TotalDaysTracked: 10}, "user deleted readings")
	require.NoError(t, err)
	got, err = svc.GetLifetimeMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Data.TotalDaysTracked)
}

func TestService_FirstLifetimeWriteIsNormalized(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	base := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	var history []models.AgeSnapshot
	for i := 0; i < MaxAgeHistory+5; i++ {
		history = append(history, models.AgeSnapshot{Date: base.AddDate(0, 0, i).Format("2006-01-02")})
	}

	// No stored lifetime field, as after an assessment invalidation
	_, err := svc.UpdateLifetimeMetrics(ctx, "u1", models.LifetimeMetrics{
		TotalDaysTracked: 400,
		AgeHistory:       history,
		ComputedAt:       clock.Now(),
	})
	require.NoError(t, err)

	got, err := svc.GetLifetimeMetrics(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Data.AgeHistory, MaxAgeHistory)
	assert.Equal(t, history[len(history)-1].Date, got.Data.AgeHistory[MaxAgeHistory-1].Date)
	assert.Equal(t, 400, got.Data.TotalDaysTracked)
}

func TestService_ConcurrentLifetimeUpdatesDoNotLoseData(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	cfg := testCacheConfig()
	// Each writer can only lose to the other 19, so this bound guarantees success
	cfg.LifetimeMaxRetry = 20
	svc := NewService(storage.NewMockRedisClient(), cfg, WithClock(clock.Now))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.UpdateLifetimeMetrics(ctx, "u1", models.LifetimeMetrics{
				TotalReadings: n * 10,
				PersonalBests: map[string]models.PersonalBest{"steps": {Value: float64(n * 1000), Date: "2024-05-01"}},
				ComputedAt:    clock.Now(),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := svc.GetLifetimeMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 200, got.Data.TotalReadings)
	assert.Equal(t, 20000.0, got.Data.PersonalBests["steps"].Value)
}

func TestService_DeleteUserCache(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.InitializeUserCache(ctx, "u1"))
	require.NoError(t, svc.DeleteUserCache(ctx, "u1"))

	record, err := svc.GetUserCache(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestService_ComputingMarker(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	claimed, err := svc.TryMarkComputing(ctx, "u1", "all")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = svc.TryMarkComputing(ctx, "u1", "all")
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = svc.TryMarkComputing(ctx, "u1", "daily")
	require.NoError(t, err)
	assert.True(t, claimed, "scopes are independent")

	require.NoError(t, svc.ClearComputing(ctx, "u1", "all"))
	claimed, err = svc.TryMarkComputing(ctx, "u1", "all")
	require.NoError(t, err)
	assert.True(t, claimed)

	clock.Advance(3 * time.Minute)
	claimed, err = svc.TryMarkComputing(ctx, "u1", "daily")
	require.NoError(t, err)
	assert.True(t, claimed, "marker expires after the computing TTL")
}

func TestService_GetCacheStats(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.InitializeUserCache(ctx, "small"))
	_, err := svc.UpdateDailyMetrics(ctx, "small", models.DailyMetrics{})
	require.NoError(t, err)

	insights := make([]string, 40)
	for i := range insights {
		insights[i] = "sleep more consistently"
	}
	_, err = svc.UpdateWeeklyMetrics(ctx, "big", models.WeeklyMetrics{Insights: insights})
	require.NoError(t, err)
	_, err = svc.UpdateDailyMetrics(ctx, "big", models.DailyMetrics{})
	require.NoError(t, err)

	// Markers are not records
	_, err = svc.TryMarkComputing(ctx, "small", "all")
	require.NoError(t, err)

	stats, err := svc.GetCacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, 1, stats.OversizedDocuments)
	assert.Equal(t, []string{"big"}, stats.OversizedUserIDs)
	assert.Equal(t, 2, stats.SubCacheCounts[models.SubCacheDaily])
	assert.Equal(t, 1, stats.SubCacheCounts[models.SubCacheWeekly])
	assert.Greater(t, stats.LargestBytes, int64(512))
}

func TestService_SubCacheSizes(t *testing.T) {
	svc, redis, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.InitializeUserCache(ctx, "u1"))
	_, err := svc.UpdateDailyMetrics(ctx, "u1", models.DailyMetrics{Date: "2024-05-01"})
	require.NoError(t, err)

	sizes, err := svc.SubCacheSizes(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, sizes, 1)
	stored, _, _ := redis.HashGet(ctx, svc.RecordKey("u1"), string(models.SubCacheDaily))
	assert.Equal(t, int64(len(stored)), sizes[models.SubCacheDaily])

	redis.HashGetErr = errors.New("timeout")
	_, err = svc.SubCacheSizes(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrCacheRead)
}
