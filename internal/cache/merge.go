package cache

import (
	"sort"

	"github.com/vitalspan/metrics-cache/internal/models"
)

// MaxAgeHistory caps the number of age snapshots kept in lifetime metrics
const MaxAgeHistory = 365

// MergeLifetime folds a fresh computation into stored lifetime metrics.
// The merge is commutative, so concurrent recomputes converge regardless of order:
//   - counters, LongestStreak and personal bests take the max
//   - CurrentStreak follows whichever side has the later ComputedAt
//   - AgeHistory is a union keyed by date, Milestones a union keyed by ID
//   - FirstTrackedAt takes the earliest known value
func MergeLifetime(stored, fresh models.LifetimeMetrics) models.LifetimeMetrics {
	merged := models.LifetimeMetrics{
		TotalDaysTracked: max(stored.TotalDaysTracked, fresh.TotalDaysTracked),
		TotalReadings:    max(stored.TotalReadings, fresh.TotalReadings),
		TotalAssessments: max(stored.TotalAssessments, fresh.TotalAssessments),
		LongestStreak:    max(stored.LongestStreak, fresh.LongestStreak),
	}

	latest, other := fresh, stored
	if stored.ComputedAt.After(fresh.ComputedAt) {
		latest, other = stored, fresh
	}
	merged.CurrentStreak = latest.CurrentStreak
	merged.ComputedAt = latest.ComputedAt
	if latest.ComputedAt.Equal(other.ComputedAt) {
		merged.CurrentStreak = max(stored.CurrentStreak, fresh.CurrentStreak)
	}
	merged.LongestStreak = max(merged.LongestStreak, merged.CurrentStreak)

	merged.PersonalBests = mergePersonalBests(stored.PersonalBests, fresh.PersonalBests)
	merged.AgeHistory = mergeAgeHistory(stored.AgeHistory, fresh.AgeHistory)
	merged.Milestones = mergeMilestones(stored.Milestones, fresh.Milestones)

	switch {
	case stored.FirstTrackedAt == nil:
		merged.FirstTrackedAt = fresh.FirstTrackedAt
	case fresh.FirstTrackedAt == nil || stored.FirstTrackedAt.Before(*fresh.FirstTrackedAt):
		merged.FirstTrackedAt = stored.FirstTrackedAt
	default:
		merged.FirstTrackedAt = fresh.FirstTrackedAt
	}

	return merged
}

func mergePersonalBests(a, b map[string]models.PersonalBest) map[string]models.PersonalBest {
	out := make(map[string]models.PersonalBest, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		cur, ok := out[k]
		// Ties go to the earlier date
		if !ok || v.Value > cur.Value || (v.Value == cur.Value && v.Date < cur.Date) {
			out[k] = v
		}
	}
	return out
}

func mergeAgeHistory(a, b []models.AgeSnapshot) []models.AgeSnapshot {
	byDate := make(map[string]models.AgeSnapshot, len(a)+len(b))
	for _, snap := range a {
		byDate[snap.Date] = snap
	}
	for _, snap := range b {
		// Same-day snapshots resolve to the lower biological age so the result is order independent
		if cur, ok := byDate[snap.Date]; !ok || snap.BiologicalAge < cur.BiologicalAge {
			byDate[snap.Date] = snap
		}
	}

	out := make([]models.AgeSnapshot, 0, len(byDate))
	for _, snap := range byDate {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if len(out) > MaxAgeHistory {
		out = out[len(out)-MaxAgeHistory:]
	}
	return out
}

func mergeMilestones(a, b []models.Milestone) []models.Milestone {
	byID := make(map[string]models.Milestone, len(a)+len(b))
	for _, list := range [][]models.Milestone{a, b} {
		for _, m := range list {
			if cur, ok := byID[m.ID]; !ok || m.AchievedAt.Before(cur.AchievedAt) {
				byID[m.ID] = m
			}
		}
	}

	out := make([]models.Milestone, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AchievedAt.Equal(out[j].AchievedAt) {
			return out[i].AchievedAt.Before(out[j].AchievedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
