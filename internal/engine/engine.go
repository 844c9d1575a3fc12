// Package engine is the producer side of the metrics cache: it reads raw data
// for a window, scores it and writes the matching sub-cache.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vitalspan/metrics-cache/internal/cache"
	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/scoring"
	"github.com/vitalspan/metrics-cache/internal/storage"
	"github.com/vitalspan/metrics-cache/pkg/logger"
	"go.uber.org/multierr"
)

var (
	calculationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_calculation_duration_seconds",
			Help:    "Duration of sub-cache calculations",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"sub_cache"},
	)

	calculationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_calculation_errors_total",
			Help: "Failed sub-cache calculations",
		},
		[]string{"sub_cache"},
	)

	readyPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_ready_publish_errors_total",
			Help: "Failures publishing metrics-ready notifications",
		},
	)
)

// ScopeAll is the recompute scope covering every sub-cache
const ScopeAll = "all"

// Window lengths in days, ending with today
const (
	weeklyDays  = 7
	monthlyDays = 30
)

// Publisher publishes ready notifications; storage.RedisClient satisfies it
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Engine calculates sub-caches for one user at a time. It is safe for concurrent use.
type Engine struct {
	raw          storage.RawDataStore
	cache        *cache.Service
	policy       *scoring.Policy
	cfg          config.EngineConfig
	publisher    Publisher
	readyChannel string
}

// New creates an engine. publisher may be nil to disable ready notifications.
func New(raw storage.RawDataStore, cacheService *cache.Service, policy *scoring.Policy, cfg config.EngineConfig, publisher Publisher, readyChannel string) *Engine {
	if cfg.SmoothingWindow < 1 {
		cfg.SmoothingWindow = 3
	}
	return &Engine{
		raw:          raw,
		cache:        cacheService,
		policy:       policy,
		cfg:          cfg,
		publisher:    publisher,
		readyChannel: readyChannel,
	}
}

// CalculateAndCacheUserMetrics recomputes all five sub-caches. Daily, weekly,
// monthly and lifetime run in parallel and fail independently; the dashboard
// runs last from whatever they produced, falling back to cached copies.
// The returned error aggregates every failed sub-calculation.
func (e *Engine) CalculateAndCacheUserMetrics(ctx context.Context, userID string) error {
	start := time.Now()
	log := logger.WithContext(logger.WithUserID(ctx, userID))

	if err := e.cache.InitializeUserCache(ctx, userID); err != nil {
		log.Warn("Failed to initialize user cache before calculation", logger.ErrorField(err))
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   error
		failed = make(map[models.SubCacheName]bool)
		src    dashboardSources
	)
	record := func(name models.SubCacheName, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		failed[name] = true
		mu.Unlock()
	}

	wg.Add(4)
	go func() {
		defer wg.Done()
		var err error
		src.daily, err = e.CalculateDailyMetrics(ctx, userID)
		record(models.SubCacheDaily, err)
	}()
	go func() {
		defer wg.Done()
		var err error
		src.weekly, err = e.CalculateWeeklyMetrics(ctx, userID)
		record(models.SubCacheWeekly, err)
	}()
	go func() {
		defer wg.Done()
		var err error
		src.monthly, err = e.CalculateMonthlyMetrics(ctx, userID)
		record(models.SubCacheMonthly, err)
	}()
	go func() {
		defer wg.Done()
		var err error
		src.lifetime, err = e.CalculateLifetimeMetrics(ctx, userID)
		record(models.SubCacheLifetime, err)
	}()
	wg.Wait()

	_, dashErr := e.calculateDashboard(ctx, userID, src)
	record(models.SubCacheDashboard, dashErr)

	if len(failed) > 0 {
		log.Error("Metrics calculation finished with errors",
			logger.Int("failed", len(failed)),
			logger.ErrorField(errs),
			logger.Duration("duration", time.Since(start)),
		)
	} else {
		log.Info("Metrics calculation complete", logger.Duration("duration", time.Since(start)))
	}

	if dashErr == nil {
		var written []models.SubCacheName
		for _, name := range models.AllSubCaches() {
			if !failed[name] {
				written = append(written, name)
			}
		}
		e.publishReady(ctx, userID, ScopeAll, written)
	}
	return errs
}

// CalculateTimeframe recomputes only the sub-cache behind one timeframe
func (e *Engine) CalculateTimeframe(ctx context.Context, userID string, tf models.Timeframe) error {
	var err error
	switch tf {
	case models.TimeframeDaily:
		_, err = e.CalculateDailyMetrics(ctx, userID)
	case models.TimeframeWeekly:
		_, err = e.CalculateWeeklyMetrics(ctx, userID)
	case models.TimeframeMonthly:
		_, err = e.CalculateMonthlyMetrics(ctx, userID)
	case models.TimeframeLifetime:
		_, err = e.CalculateLifetimeMetrics(ctx, userID)
	default:
		return fmt.Errorf("%w: %q", models.ErrInvalidTimeframe, tf)
	}
	if err != nil {
		return err
	}

	e.publishReady(ctx, userID, string(tf), []models.SubCacheName{tf.SubCache()})
	return nil
}

// loadWindow reads raw data for [start, end)
func (e *Engine) loadWindow(ctx context.Context, userID string, start, end time.Time) (scoring.Window, error) {
	w := scoring.Window{Start: start, End: end}

	readings, err := e.raw.GetWearableReadings(ctx, userID, start, end)
	if err != nil {
		return w, fmt.Errorf("failed to load readings: %w", err)
	}
	assessments, err := e.raw.GetAssessments(ctx, userID, start, end)
	if err != nil {
		return w, fmt.Errorf("failed to load assessments: %w", err)
	}

	w.Readings = readings
	w.Assessments = assessments
	return w, nil
}

// trailingWindow returns the bounds of the last n days including today
func (e *Engine) trailingWindow(days int) (time.Time, time.Time) {
	end := scoring.StartOfDay(e.cache.Now()).AddDate(0, 0, 1)
	return end.AddDate(0, 0, -days), end
}

func (e *Engine) publishReady(ctx context.Context, userID, scope string, subCaches []models.SubCacheName) {
	if e.publisher == nil || e.readyChannel == "" {
		return
	}
	event := models.MetricsReadyEvent{
		UserID:      userID,
		Scope:       scope,
		SubCaches:   subCaches,
		CompletedAt: e.cache.Now(),
	}
	if err := e.publisher.Publish(ctx, e.readyChannel, event); err != nil {
		readyPublishErrors.Inc()
		logger.Warn("Failed to publish metrics ready event",
			logger.ErrorField(err),
			logger.String("user_id", userID),
		)
	}
}

func observe(name models.SubCacheName, start time.Time, err error) {
	calculationDuration.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())
	if err != nil {
		calculationErrors.WithLabelValues(string(name)).Inc()
	}
}
