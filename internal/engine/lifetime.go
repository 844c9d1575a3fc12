package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/scoring"
)

// epoch is the start of the all-time window
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// CalculateLifetimeMetrics recomputes all-time totals and merges them into the
// lifetime sub-cache. The merge keeps monotonic fields from ever decreasing.
func (e *Engine) CalculateLifetimeMetrics(ctx context.Context, userID string) (sc *models.SubCache[models.LifetimeMetrics], err error) {
	defer func(start time.Time) { observe(models.SubCacheLifetime, start, err) }(time.Now())

	_, end := e.trailingWindow(1)
	w, err := e.loadWindow(ctx, userID, epoch, end)
	if err != nil {
		return nil, err
	}

	return e.cache.UpdateLifetimeMetrics(ctx, userID, e.buildLifetime(w))
}

func (e *Engine) buildLifetime(w scoring.Window) models.LifetimeMetrics {
	now := e.cache.Now()
	lifetime := models.LifetimeMetrics{
		TotalReadings:    len(w.Readings),
		TotalAssessments: len(w.Assessments),
		PersonalBests:    make(map[string]models.PersonalBest),
		AgeHistory:       ageHistory(w.Assessments),
		ComputedAt:       now,
	}

	// Tracked days are days with at least one wearable reading
	days := trackedDays(w.Readings)
	lifetime.TotalDaysTracked = len(days)
	lifetime.CurrentStreak, lifetime.LongestStreak = streaks(days, scoring.StartOfDay(now))

	if first := firstSeen(w); !first.IsZero() {
		lifetime.FirstTrackedAt = &first
	}

	for key, best := range dailyBests(w) {
		lifetime.PersonalBests[key] = best
	}
	dates, scores := e.policy.DailyScores(scoring.Window{Readings: w.Readings})
	for i, s := range scores {
		if len(s.Defaulted) == len(models.Dimensions()) {
			continue
		}
		improve(lifetime.PersonalBests, "overallScore", s.Overall, scoring.DayKey(dates[i]))
	}

	lifetime.Milestones = milestones(w, days)
	return lifetime
}

func trackedDays(readings []*models.WearableReading) []time.Time {
	seen := make(map[string]time.Time)
	for _, r := range readings {
		seen[scoring.DayKey(r.RecordedAt)] = scoring.StartOfDay(r.RecordedAt)
	}
	days := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// streaks returns the run of consecutive days ending today or yesterday, and the longest run
func streaks(days []time.Time, today time.Time) (current, longest int) {
	run := 0
	for i, d := range days {
		if i > 0 && d.Sub(days[i-1]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		longest = max(longest, run)
	}
	if len(days) > 0 {
		last := days[len(days)-1]
		if last.Equal(today) || last.Equal(today.AddDate(0, 0, -1)) {
			current = run
		}
	}
	return current, longest
}

func firstSeen(w scoring.Window) time.Time {
	var first time.Time
	for _, r := range w.Readings {
		if first.IsZero() || r.RecordedAt.Before(first) {
			first = r.RecordedAt
		}
	}
	for _, a := range w.Assessments {
		if first.IsZero() || a.CreatedAt.Before(first) {
			first = a.CreatedAt
		}
	}
	return first.UTC()
}

// dailyBests tracks the best per-day totals for cumulative metrics
func dailyBests(w scoring.Window) map[string]models.PersonalBest {
	totals := map[models.MetricType]map[string]float64{
		models.MetricSteps:         {},
		models.MetricActiveMinutes: {},
		models.MetricSleepHours:    {},
	}
	for _, r := range w.Readings {
		if byDay, ok := totals[r.MetricType]; ok {
			byDay[scoring.DayKey(r.RecordedAt)] += r.Value
		}
	}

	keys := map[models.MetricType]string{
		models.MetricSteps:         "steps",
		models.MetricActiveMinutes: "activeMinutes",
		models.MetricSleepHours:    "sleepHours",
	}
	bests := make(map[string]models.PersonalBest)
	for metric, byDay := range totals {
		for day, total := range byDay {
			improve(bests, keys[metric], total, day)
		}
	}
	return bests
}

// improve records value if it beats the current best; ties keep the earlier day
func improve(bests map[string]models.PersonalBest, key string, value float64, day string) {
	cur, ok := bests[key]
	if !ok || value > cur.Value || (value == cur.Value && day < cur.Date) {
		bests[key] = models.PersonalBest{Value: value, Date: day}
	}
}

// ageHistory keeps the last assessment of each day
func ageHistory(assessments []*models.Assessment) []models.AgeSnapshot {
	byDay := make(map[string]*models.Assessment)
	for _, a := range assessments {
		key := scoring.DayKey(a.CreatedAt)
		if cur, ok := byDay[key]; !ok || a.CreatedAt.After(cur.CreatedAt) {
			byDay[key] = a
		}
	}

	history := make([]models.AgeSnapshot, 0, len(byDay))
	for day, a := range byDay {
		history = append(history, models.AgeSnapshot{
			Date:             day,
			ChronologicalAge: a.ChronologicalAge,
			BiologicalAge:    a.BiologicalAge,
		})
	}
	sort.Slice(history, func(i, j int) bool { return history[i].Date < history[j].Date })
	return history
}

var (
	dayMilestones     = []int{7, 30, 100, 365}
	readingMilestones = []int{100, 1000, 10000}
	streakMilestones  = []int{7, 30}
)

// milestones derives one-time achievements, each stamped with when it was first reached
func milestones(w scoring.Window, days []time.Time) []models.Milestone {
	out := []models.Milestone{}

	for _, n := range dayMilestones {
		if len(days) >= n {
			out = append(out, models.Milestone{
				ID:         fmt.Sprintf("days-%d", n),
				Title:      fmt.Sprintf("Tracked %d days", n),
				AchievedAt: days[n-1],
			})
		}
	}

	if len(w.Readings) > 0 {
		times := make([]time.Time, len(w.Readings))
		for i, r := range w.Readings {
			times[i] = r.RecordedAt.UTC()
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		for _, n := range readingMilestones {
			if len(times) >= n {
				out = append(out, models.Milestone{
					ID:         fmt.Sprintf("readings-%d", n),
					Title:      fmt.Sprintf("Synced %d readings", n),
					AchievedAt: times[n-1],
				})
			}
		}
	}

	if len(w.Assessments) > 0 {
		first := w.Assessments[0].CreatedAt
		for _, a := range w.Assessments[1:] {
			if a.CreatedAt.Before(first) {
				first = a.CreatedAt
			}
		}
		out = append(out, models.Milestone{ID: "first-assessment", Title: "Completed first assessment", AchievedAt: first.UTC()})
	}

	run := 0
	reached := make(map[int]bool)
	for i, d := range days {
		if i > 0 && d.Sub(days[i-1]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		for _, n := range streakMilestones {
			if run >= n && !reached[n] {
				reached[n] = true
				out = append(out, models.Milestone{
					ID:         fmt.Sprintf("streak-%d", n),
					Title:      fmt.Sprintf("%d day streak", n),
					AchievedAt: d,
				})
			}
		}
	}

	return out
}
