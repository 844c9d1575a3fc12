package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

// Job is one scheduled batch. An error means the run could not start (for
// example the user list was unavailable); per-user failures live in Summary.
type Job interface {
	Name() string
	Run(ctx context.Context) (Summary, error)
}

// UserSource lists the users a job covers; storage.RawDataStore satisfies it
type UserSource interface {
	GetActiveUsers(ctx context.Context, since time.Time) ([]string, error)
	GetUsersWithMinTrackedDays(ctx context.Context, minDays int) ([]string, error)
}

// Calculator recomputes a user's sub-caches; *engine.Engine satisfies it
type Calculator interface {
	CalculateAndCacheUserMetrics(ctx context.Context, userID string) error
}

// Cache is the maintenance side of the cache service; *cache.Service satisfies it
type Cache interface {
	InvalidateCache(ctx context.Context, userID string, names []models.SubCacheName) error
	GetCacheStats(ctx context.Context) (*models.CacheStats, error)
	SubCacheSizes(ctx context.Context, userID string) (map[models.SubCacheName]int64, error)
}

func chunkOptions(cfg config.SchedulerConfig, chunkSize int) ChunkOptions {
	return ChunkOptions{
		ChunkSize:   chunkSize,
		Parallelism: cfg.ChunkParallelism,
		UserTimeout: cfg.UserTimeout,
	}
}

// DailyRecomputeJob recomputes every user active within the active window
type DailyRecomputeJob struct {
	users UserSource
	calc  Calculator
	cfg   config.SchedulerConfig
	now   func() time.Time
}

// NewDailyRecomputeJob creates a new daily recompute job
func NewDailyRecomputeJob(users UserSource, calc Calculator, cfg config.SchedulerConfig) *DailyRecomputeJob {
	return &DailyRecomputeJob{users: users, calc: calc, cfg: cfg, now: time.Now}
}

func (j *DailyRecomputeJob) Name() string { return "daily_recompute" }

func (j *DailyRecomputeJob) Run(ctx context.Context) (Summary, error) {
	since := j.now().UTC().Add(-j.cfg.ActiveWindow)
	userIDs, err := j.users.GetActiveUsers(ctx, since)
	if err != nil {
		return Summary{Job: j.Name()}, fmt.Errorf("failed to list active users: %w", err)
	}

	summary, err := ProcessInChunks(ctx, userIDs, chunkOptions(j.cfg, j.cfg.DailyChunkSize), j.calc.CalculateAndCacheUserMetrics)
	summary.Job = j.Name()
	return summary, err
}

// CorrelationRefreshJob rebuilds the monthly view, including correlations, for
// users with enough history. It drops the monthly sub-cache first so readers
// never see the old correlations once the refresh has started.
type CorrelationRefreshJob struct {
	users UserSource
	cache Cache
	calc  Calculator
	cfg   config.SchedulerConfig
}

// NewCorrelationRefreshJob creates a new correlation refresh job
func NewCorrelationRefreshJob(users UserSource, cache Cache, calc Calculator, cfg config.SchedulerConfig) *CorrelationRefreshJob {
	return &CorrelationRefreshJob{users: users, cache: cache, calc: calc, cfg: cfg}
}

func (j *CorrelationRefreshJob) Name() string { return "correlation_refresh" }

func (j *CorrelationRefreshJob) Run(ctx context.Context) (Summary, error) {
	userIDs, err := j.users.GetUsersWithMinTrackedDays(ctx, j.cfg.MinTrackedDays)
	if err != nil {
		return Summary{Job: j.Name()}, fmt.Errorf("failed to list users with history: %w", err)
	}

	summary, err := ProcessInChunks(ctx, userIDs, chunkOptions(j.cfg, j.cfg.CorrelationChunk), func(ctx context.Context, userID string) error {
		if err := j.cache.InvalidateCache(ctx, userID, []models.SubCacheName{models.SubCacheMonthly}); err != nil {
			return err
		}
		return j.calc.CalculateAndCacheUserMetrics(ctx, userID)
	})
	summary.Job = j.Name()
	return summary, err
}

// CacheCleanupJob finds oversized cache records and rebuilds the sub-caches
// that take more than their share of the size threshold
type CacheCleanupJob struct {
	cache          Cache
	calc           Calculator
	cfg            config.SchedulerConfig
	oversizedBytes int64
}

// NewCacheCleanupJob creates a new cleanup job. oversizedBytes is the record
// size above which a record is compacted.
func NewCacheCleanupJob(cache Cache, calc Calculator, cfg config.SchedulerConfig, oversizedBytes int64) *CacheCleanupJob {
	return &CacheCleanupJob{cache: cache, calc: calc, cfg: cfg, oversizedBytes: oversizedBytes}
}

func (j *CacheCleanupJob) Name() string { return "cache_cleanup" }

func (j *CacheCleanupJob) Run(ctx context.Context) (Summary, error) {
	stats, err := j.cache.GetCacheStats(ctx)
	if err != nil {
		return Summary{Job: j.Name()}, fmt.Errorf("failed to collect cache stats: %w", err)
	}
	logger.Info("Cache stats collected",
		logger.Int("documents", stats.TotalDocuments),
		logger.Int("oversized", stats.OversizedDocuments),
		logger.Int64("total_bytes", stats.TotalBytes),
		logger.Int64("largest_bytes", stats.LargestBytes),
	)

	summary, err := ProcessInChunks(ctx, stats.OversizedUserIDs, chunkOptions(j.cfg, j.cfg.CleanupChunkSize), j.compact)
	summary.Job = j.Name()
	return summary, err
}

func (j *CacheCleanupJob) compact(ctx context.Context, userID string) error {
	sizes, err := j.cache.SubCacheSizes(ctx, userID)
	if err != nil {
		return err
	}

	share := j.oversizedBytes / int64(len(models.AllSubCaches()))
	var offenders []models.SubCacheName
	for _, name := range models.AllSubCaches() {
		if sizes[name] > share {
			offenders = append(offenders, name)
		}
	}
	if len(offenders) == 0 {
		// No single sub-cache dominates; rebuild everything
		offenders = models.AllSubCaches()
	}

	if err := j.cache.InvalidateCache(ctx, userID, offenders); err != nil {
		return err
	}
	logger.Info("Compacting oversized cache record",
		logger.String("user_id", userID),
		logger.Int("sub_caches", len(offenders)),
	)
	return j.calc.CalculateAndCacheUserMetrics(ctx, userID)
}
