package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/vitalspan/metrics-cache/internal/models"
)

func goal(name string, target, actual float64) models.GoalProgress {
	progress := 0.0
	if target > 0 {
		progress = math.Min(100, math.Round(actual/target*1000)/10)
	}
	return models.GoalProgress{
		Name:     name,
		Target:   target,
		Actual:   math.Round(actual*10) / 10,
		Progress: progress,
		Achieved: actual >= target,
	}
}

func weeklyGoals(s periodSummary) []models.GoalProgress {
	return []models.GoalProgress{
		goal("steps", 70000, s.steps),
		goal("active_minutes", 150, s.activeMins),
		goal("avg_sleep_hours", 7, s.avgSleepHours()),
		goal("days_tracked", 5, float64(len(s.daily))),
	}
}

func monthlyGoals(s periodSummary) []models.GoalProgress {
	return []models.GoalProgress{
		goal("steps", 300000, s.steps),
		goal("active_minutes", 600, s.activeMins),
		goal("avg_sleep_hours", 7, s.avgSleepHours()),
		goal("days_tracked", 20, float64(len(s.daily))),
	}
}

// scoredDimensions returns non-defaulted dimensions, lowest score first
func scoredDimensions(scores models.DimensionScores) []models.Dimension {
	var dims []models.Dimension
	for _, dim := range models.Dimensions() {
		if !scores.IsDefaulted(dim) {
			dims = append(dims, dim)
		}
	}
	sort.SliceStable(dims, func(i, j int) bool { return scores.Get(dims[i]) < scores.Get(dims[j]) })
	return dims
}

func weeklyInsights(w models.WeeklyMetrics) []string {
	insights := []string{}

	if w.DaysTracked < 3 {
		insights = append(insights, fmt.Sprintf("Only %d days tracked this week. Sync your device daily for more accurate scores.", w.DaysTracked))
	}
	if dims := scoredDimensions(w.Averages); len(dims) > 0 {
		lowest, highest := dims[0], dims[len(dims)-1]
		insights = append(insights, fmt.Sprintf("Your %s score averaged %.0f, your lowest area this week.", lowest, w.Averages.Get(lowest)))
		if highest != lowest {
			insights = append(insights, fmt.Sprintf("Your %s score averaged %.0f, your strongest area this week.", highest, w.Averages.Get(highest)))
		}
	}
	switch w.OverallTrend {
	case models.TrendUp:
		insights = append(insights, "Your overall score is trending up.")
	case models.TrendDown:
		insights = append(insights, "Your overall score is trending down.")
	}
	for _, dim := range models.Dimensions() {
		if w.Trends[dim] == models.TrendDown && !w.Averages.IsDefaulted(dim) {
			insights = append(insights, fmt.Sprintf("Your %s score dropped during the week.", dim))
		}
	}
	return insights
}

func monthlyAchievements(m models.MonthlyMetrics, s periodSummary) []string {
	achievements := []string{}
	if m.DaysTracked >= 20 {
		achievements = append(achievements, "Tracked 20 or more days this month")
	}
	if m.DaysTracked > 0 && s.steps/float64(m.DaysTracked) >= 10000 {
		achievements = append(achievements, "Averaged 10,000 steps per tracked day")
	}
	if len(m.Averages.Defaulted) < len(models.Dimensions()) && m.Averages.Overall >= 80 {
		achievements = append(achievements, "Overall score averaged 80 or higher")
	}
	if s.avgSleepHours() >= 7 {
		achievements = append(achievements, "Averaged 7 or more hours of sleep")
	}
	if m.OverallTrend == models.TrendUp {
		achievements = append(achievements, "Improved overall score across the month")
	}
	return achievements
}

// nextActions suggests up to three concrete steps, most actionable first
func nextActions(daily *models.DailyMetrics, weekly *models.WeeklyMetrics, lifetime *models.LifetimeMetrics) []string {
	actions := []string{}

	if daily != nil {
		for _, dim := range daily.Scores.Defaulted {
			actions = append(actions, fmt.Sprintf("Log %s data today to get a %s score.", dim, dim))
		}
	} else {
		actions = append(actions, "Sync your wearable to see today's scores.")
	}
	if weekly != nil {
		for _, g := range weekly.Goals {
			if !g.Achieved {
				actions = append(actions, fmt.Sprintf("Keep going on your weekly %s goal (%.0f%% done).", g.Name, g.Progress))
			}
		}
	}
	if lifetime == nil || lifetime.TotalAssessments == 0 {
		actions = append(actions, "Complete a lifestyle assessment to estimate your biological age.")
	}

	if len(actions) > 3 {
		actions = actions[:3]
	}
	return actions
}
