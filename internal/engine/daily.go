package engine

import (
	"context"
	"time"

	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/scoring"
)

// CalculateDailyMetrics scores today (UTC) and replaces the daily sub-cache
func (e *Engine) CalculateDailyMetrics(ctx context.Context, userID string) (sc *models.SubCache[models.DailyMetrics], err error) {
	defer func(start time.Time) { observe(models.SubCacheDaily, start, err) }(time.Now())

	start, end := e.trailingWindow(1)
	w, err := e.loadWindow(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}

	return e.cache.UpdateDailyMetrics(ctx, userID, e.buildDaily(w))
}

func (e *Engine) buildDaily(w scoring.Window) models.DailyMetrics {
	daily := models.DailyMetrics{
		Date:            scoring.DayKey(w.Start),
		Scores:          e.policy.Score(w),
		ReadingCount:    len(w.Readings),
		AssessmentCount: len(w.Assessments),
	}

	var sleepSum, rhrSum float64
	var sleepN, rhrN int
	for _, r := range w.Readings {
		switch r.MetricType {
		case models.MetricSteps:
			daily.Steps += r.Value
		case models.MetricActiveMinutes:
			daily.ActiveMinutes += r.Value
		case models.MetricSleepHours:
			sleepSum += r.Value
			sleepN++
		case models.MetricRestingHeartRate:
			rhrSum += r.Value
			rhrN++
		}
	}
	// Devices may report several sleep sessions or heart-rate samples per day
	if sleepN > 0 {
		daily.SleepHours = sleepSum
	}
	if rhrN > 0 {
		daily.RestingHeartRate = rhrSum / float64(rhrN)
	}
	return daily
}
