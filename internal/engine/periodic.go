package engine

import (
	"context"
	"math"
	"time"

	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/scoring"
)

// periodSummary is what weekly and monthly metrics share
type periodSummary struct {
	dates       []time.Time
	daily       []models.DimensionScores
	averages    models.DimensionScores
	overall     []float64
	trend       models.Trend
	smoothed    []float64
	steps       float64
	activeMins  float64
	sleepHours  float64
	sleepNights int
}

func (e *Engine) summarize(w scoring.Window) periodSummary {
	s := periodSummary{}
	s.dates, s.daily = e.policy.DailyScores(w)
	s.averages = e.policy.Average(s.daily)

	s.overall = make([]float64, len(s.daily))
	for i, d := range s.daily {
		s.overall[i] = d.Overall
	}
	s.trend = scoring.ClassifyTrend(s.overall, e.cfg.TrendThreshold)
	s.smoothed = scoring.MovingAverage(s.overall, e.cfg.SmoothingWindow)

	nights := make(map[string]struct{})
	for _, r := range w.Readings {
		switch r.MetricType {
		case models.MetricSteps:
			s.steps += r.Value
		case models.MetricActiveMinutes:
			s.activeMins += r.Value
		case models.MetricSleepHours:
			s.sleepHours += r.Value
			nights[scoring.DayKey(r.RecordedAt)] = struct{}{}
		}
	}
	s.sleepNights = len(nights)
	return s
}

func (s periodSummary) series(dim models.Dimension) []float64 {
	out := make([]float64, len(s.daily))
	for i, d := range s.daily {
		out[i] = d.Get(dim)
	}
	return out
}

func (s periodSummary) avgSleepHours() float64 {
	if s.sleepNights == 0 {
		return 0
	}
	return s.sleepHours / float64(s.sleepNights)
}

// CalculateWeeklyMetrics summarizes the last 7 days and replaces the weekly sub-cache
func (e *Engine) CalculateWeeklyMetrics(ctx context.Context, userID string) (sc *models.SubCache[models.WeeklyMetrics], err error) {
	defer func(start time.Time) { observe(models.SubCacheWeekly, start, err) }(time.Now())

	start, end := e.trailingWindow(weeklyDays)
	w, err := e.loadWindow(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}

	return e.cache.UpdateWeeklyMetrics(ctx, userID, e.buildWeekly(w))
}

func (e *Engine) buildWeekly(w scoring.Window) models.WeeklyMetrics {
	s := e.summarize(w)

	trends := make(map[models.Dimension]models.Trend, len(models.Dimensions()))
	for _, dim := range models.Dimensions() {
		trends[dim] = scoring.ClassifyTrend(s.series(dim), e.cfg.TrendThreshold)
	}

	weekly := models.WeeklyMetrics{
		PeriodStart:     w.Start,
		PeriodEnd:       w.End,
		Averages:        s.averages,
		Trends:          trends,
		OverallTrend:    s.trend,
		SmoothedOverall: s.smoothed,
		Goals:           weeklyGoals(s),
		DaysTracked:     len(s.daily),
	}
	weekly.Insights = weeklyInsights(weekly)
	return weekly
}

// CalculateMonthlyMetrics summarizes the last 30 days and replaces the monthly sub-cache
func (e *Engine) CalculateMonthlyMetrics(ctx context.Context, userID string) (sc *models.SubCache[models.MonthlyMetrics], err error) {
	defer func(start time.Time) { observe(models.SubCacheMonthly, start, err) }(time.Now())

	start, end := e.trailingWindow(monthlyDays)
	w, err := e.loadWindow(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}

	return e.cache.UpdateMonthlyMetrics(ctx, userID, e.buildMonthly(w))
}

func (e *Engine) buildMonthly(w scoring.Window) models.MonthlyMetrics {
	s := e.summarize(w)

	monthly := models.MonthlyMetrics{
		PeriodStart:     w.Start,
		PeriodEnd:       w.End,
		Averages:        s.averages,
		OverallTrend:    s.trend,
		SmoothedOverall: s.smoothed,
		Goals:           monthlyGoals(s),
		Correlations:    correlations(s.daily),
		DaysTracked:     len(s.daily),
	}
	monthly.Achievements = monthlyAchievements(monthly, s)
	return monthly
}

var correlationPairs = [][2]models.Dimension{
	{models.DimensionSleep, models.DimensionActivity},
	{models.DimensionSleep, models.DimensionStress},
	{models.DimensionActivity, models.DimensionStress},
	{models.DimensionNutrition, models.DimensionSleep},
}

// correlations pairs daily scores, skipping days where either side was defaulted
func correlations(daily []models.DimensionScores) []models.Correlation {
	out := []models.Correlation{}
	for _, pair := range correlationPairs {
		var xs, ys []float64
		for _, d := range daily {
			if d.IsDefaulted(pair[0]) || d.IsDefaulted(pair[1]) {
				continue
			}
			xs = append(xs, d.Get(pair[0]))
			ys = append(ys, d.Get(pair[1]))
		}

		r, ok := scoring.PearsonCorrelation(xs, ys)
		if !ok {
			continue
		}
		out = append(out, models.Correlation{
			A:           pair[0],
			B:           pair[1],
			Coefficient: math.Round(r*1000) / 1000,
			Samples:     len(xs),
			Strength:    scoring.CorrelationStrength(r),
		})
	}
	return out
}
