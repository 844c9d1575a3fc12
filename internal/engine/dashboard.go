package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

// dashboardSources holds sub-caches produced in the current run; nil entries
// are read from the cache instead
type dashboardSources struct {
	daily    *models.SubCache[models.DailyMetrics]
	weekly   *models.SubCache[models.WeeklyMetrics]
	monthly  *models.SubCache[models.MonthlyMetrics]
	lifetime *models.SubCache[models.LifetimeMetrics]
}

// CalculateDashboardMetrics rebuilds the dashboard from the cached sub-caches only
func (e *Engine) CalculateDashboardMetrics(ctx context.Context, userID string) (*models.SubCache[models.DashboardData], error) {
	return e.calculateDashboard(ctx, userID, dashboardSources{})
}

func (e *Engine) calculateDashboard(ctx context.Context, userID string, src dashboardSources) (sc *models.SubCache[models.DashboardData], err error) {
	defer func(start time.Time) { observe(models.SubCacheDashboard, start, err) }(time.Now())

	e.fillSources(ctx, userID, &src)
	logger.Debug("Building dashboard",
		logger.String("user_id", userID),
		logger.String("sources", src.String()),
	)
	return e.cache.UpdateDashboardCache(ctx, userID, e.buildDashboard(src))
}

// fillSources reads missing sources from the cache. A read failure leaves the
// source empty so the dashboard degrades to defaults rather than failing.
func (e *Engine) fillSources(ctx context.Context, userID string, src *dashboardSources) {
	warn := func(name models.SubCacheName, err error) {
		logger.Warn("Dashboard source unavailable, using defaults",
			logger.ErrorField(err),
			logger.String("user_id", userID),
			logger.String("sub_cache", string(name)),
		)
	}

	var err error
	if src.daily == nil {
		if src.daily, err = e.cache.GetDailyMetrics(ctx, userID); err != nil {
			warn(models.SubCacheDaily, err)
		}
	}
	if src.weekly == nil {
		if src.weekly, err = e.cache.GetWeeklyMetrics(ctx, userID); err != nil {
			warn(models.SubCacheWeekly, err)
		}
	}
	if src.monthly == nil {
		if src.monthly, err = e.cache.GetMonthlyMetrics(ctx, userID); err != nil {
			warn(models.SubCacheMonthly, err)
		}
	}
	if src.lifetime == nil {
		if src.lifetime, err = e.cache.GetLifetimeMetrics(ctx, userID); err != nil {
			warn(models.SubCacheLifetime, err)
		}
	}
}

func (e *Engine) buildDashboard(src dashboardSources) models.DashboardData {
	def := e.policy.DefaultScore()
	dash := models.DashboardData{
		Hero: models.HeroMetrics{
			OverallScore: def,
			Trend:        models.TrendStable,
		},
		QuickStats: models.QuickStats{
			TodayScore:    def,
			WeeklyAverage: def,
		},
		SourceUpdatedAt: make(map[models.SubCacheName]time.Time),
	}

	var (
		daily    *models.DailyMetrics
		weekly   *models.WeeklyMetrics
		lifetime *models.LifetimeMetrics
	)

	if src.daily != nil {
		daily = &src.daily.Data
		dash.QuickStats.TodayScore = daily.Scores.Overall
		dash.SourceUpdatedAt[models.SubCacheDaily] = src.daily.LastUpdated
	} else {
		dash.UsedDefaults = true
	}

	if src.weekly != nil {
		weekly = &src.weekly.Data
		dash.QuickStats.WeeklyAverage = weekly.Averages.Overall
		dash.Hero.OverallScore = weekly.Averages.Overall
		dash.Hero.Trend = weekly.OverallTrend
		dash.SourceUpdatedAt[models.SubCacheWeekly] = src.weekly.LastUpdated
	} else {
		dash.UsedDefaults = true
		if daily != nil {
			dash.Hero.OverallScore = daily.Scores.Overall
		}
	}

	if src.monthly != nil {
		dash.SourceUpdatedAt[models.SubCacheMonthly] = src.monthly.LastUpdated
		if weekly == nil {
			dash.Hero.Trend = src.monthly.Data.OverallTrend
		}
	}

	if src.lifetime != nil {
		lifetime = &src.lifetime.Data
		dash.QuickStats.CurrentStreak = lifetime.CurrentStreak
		dash.QuickStats.DaysTracked = lifetime.TotalDaysTracked
		dash.SourceUpdatedAt[models.SubCacheLifetime] = src.lifetime.LastUpdated

		if n := len(lifetime.AgeHistory); n > 0 {
			latest := lifetime.AgeHistory[n-1]
			dash.Hero.HasAgeData = true
			dash.Hero.BiologicalAge = latest.BiologicalAge
			dash.Hero.ChronologicalAge = latest.ChronologicalAge
			dash.Hero.AgeDelta = math.Round((latest.BiologicalAge-latest.ChronologicalAge)*10) / 10
		}
	}

	dash.NextActions = nextActions(daily, weekly, lifetime)
	return dash
}

// String describes which sources were present, for logs
func (s dashboardSources) String() string {
	return fmt.Sprintf("daily=%t weekly=%t monthly=%t lifetime=%t",
		s.daily != nil, s.weekly != nil, s.monthly != nil, s.lifetime != nil)
}
