package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vitalspan/metrics-cache/internal/models"
)

func TestMergeLifetime_FieldPolicies(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)
	early := t0.AddDate(-1, 0, 0)

	stored := models.LifetimeMetrics{
		TotalDaysTracked: 100,
		TotalReadings:    900,
		TotalAssessments: 2,
		CurrentStreak:    9,
		LongestStreak:    20,
		PersonalBests: map[string]models.PersonalBest{
			"steps":        {Value: 15000, Date: "2023-06-01"},
			"sleepHours":   {Value: 8, Date: "2023-07-01"},
			"overallScore": {Value: 80, Date: "2023-01-01"},
		},
		AgeHistory:     []models.AgeSnapshot{{Date: "2023-06-01", BiologicalAge: 41}},
		Milestones:     []models.Milestone{{ID: "days-30", AchievedAt: t0}},
		FirstTrackedAt: &early,
		ComputedAt:     t0,
	}
	fresh := models.LifetimeMetrics{
		TotalDaysTracked: 90,
		TotalReadings:    950,
		TotalAssessments: 3,
		CurrentStreak:    0,
		LongestStreak:    15,
		PersonalBests: map[string]models.PersonalBest{
			"steps":         {Value: 12000, Date: "2024-01-01"},
			"sleepHours":    {Value: 9, Date: "2024-01-01"},
			"activeMinutes": {Value: 75, Date: "2024-01-01"},
		},
		AgeHistory: []models.AgeSnapshot{{Date: "2024-01-01", BiologicalAge: 39}},
		Milestones: []models.Milestone{{ID: "days-30", AchievedAt: t1}, {ID: "first-assessment", AchievedAt: t1}},
		ComputedAt: t1,
	}

	merged := MergeLifetime(stored, fresh)

	assert.Equal(t, 100, merged.TotalDaysTracked)
	assert.Equal(t, 950, merged.TotalReadings)
	assert.Equal(t, 3, merged.TotalAssessments)
	assert.Equal(t, 20, merged.LongestStreak)
	assert.Equal(t, 0, merged.CurrentStreak)
	assert.Equal(t, t1, merged.ComputedAt)

	assert.Equal(t, 15000.0, merged.PersonalBests["steps"].Value)
	assert.Equal(t, 9.0, merged.PersonalBests["sleepHours"].Value)
	assert.Equal(t, 75.0, merged.PersonalBests["activeMinutes"].Value)
	assert.Equal(t, 80.0, merged.PersonalBests["overallScore"].Value)

	assert.Len(t, merged.AgeHistory, 2)
	assert.Equal(t, "2023-06-01", merged.AgeHistory[0].Date)

	assert.Len(t, merged.Milestones, 2)
	assert.Equal(t, "days-30", merged.Milestones[0].ID)
	assert.Equal(t, t0, merged.Milestones[0].AchievedAt, "milestones keep their first achievement time")

	assert.Equal(t, &early, merged.FirstTrackedAt)
}

func TestMergeLifetime_Commutative(t *testing.T) {
	t0 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	a := models.LifetimeMetrics{
		TotalReadings: 10, LongestStreak: 5, CurrentStreak: 5,
		PersonalBests: map[string]models.PersonalBest{"steps": {Value: 100, Date: "2024-01-02"}},
		AgeHistory:    []models.AgeSnapshot{{Date: "2024-01-05", BiologicalAge: 40}},
		ComputedAt:    t0,
	}
	b := models.LifetimeMetrics{
		TotalReadings: 12, LongestStreak: 3, CurrentStreak: 2,
		PersonalBests: map[string]models.PersonalBest{"steps": {Value: 100, Date: "2024-01-01"}},
		AgeHistory:    []models.AgeSnapshot{{Date: "2024-01-05", BiologicalAge: 38}},
		ComputedAt:    t0.Add(time.Minute),
	}

	assert.Equal(t, MergeLifetime(a, b), MergeLifetime(b, a))
}

func TestMergeLifetime_CapsAgeHistory(t *testing.T) {
	base := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	var history []models.AgeSnapshot
	for i := 0; i < MaxAgeHistory+10; i++ {
		history = append(history, models.AgeSnapshot{Date: base.AddDate(0, 0, i).Format("2006-01-02")})
	}

	merged := MergeLifetime(models.LifetimeMetrics{}, models.LifetimeMetrics{AgeHistory: history})

	assert.Len(t, merged.AgeHistory, MaxAgeHistory)
	assert.Equal(t, history[len(history)-1].Date, merged.AgeHistory[MaxAgeHistory-1].Date)
	assert.Equal(t, history[10].Date, merged.AgeHistory[0].Date, fmt.Sprintf("oldest %d snapshots are dropped", 10))
}
