package scoring

import (
	"sort"
	"time"

	"github.com/vitalspan/metrics-cache/internal/models"
)

// DayLayout is the date format used for day keys
const DayLayout = "2006-01-02"

// DayKey returns the UTC calendar day of t
func DayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// StartOfDay truncates t to midnight UTC
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SplitByDay partitions a window into one window per UTC day in [w.Start, w.End),
// keeping only days that hold at least one reading or assessment
func SplitByDay(w Window) []Window {
	byDay := make(map[string]*Window)
	get := func(t time.Time) *Window {
		key := DayKey(t)
		day, ok := byDay[key]
		if !ok {
			start := StartOfDay(t)
			day = &Window{Start: start, End: start.AddDate(0, 0, 1)}
			byDay[key] = day
		}
		return day
	}

	for _, r := range w.Readings {
		day := get(r.RecordedAt)
		day.Readings = append(day.Readings, r)
	}
	for _, a := range w.Assessments {
		day := get(a.CreatedAt)
		day.Assessments = append(day.Assessments, a)
	}

	days := make([]Window, 0, len(byDay))
	for _, d := range byDay {
		days = append(days, *d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Start.Before(days[j].Start) })
	return days
}

// DailyScores scores every tracked day in the window, oldest first
func (p *Policy) DailyScores(w Window) ([]time.Time, []models.DimensionScores) {
	days := SplitByDay(w)
	dates := make([]time.Time, len(days))
	scores := make([]models.DimensionScores, len(days))
	for i, d := range days {
		dates[i] = d.Start
		scores[i] = p.Score(d)
	}
	return dates, scores
}
