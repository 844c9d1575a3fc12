package models

import "time"

// DailyMetrics is the data held in the daily sub-cache
type DailyMetrics struct {
	Date             string          `json:"date"` // YYYY-MM-DD in UTC
	Scores           DimensionScores `json:"scores"`
	ReadingCount     int             `json:"readingCount"`
	AssessmentCount  int             `json:"assessmentCount"`
	Steps            float64         `json:"steps"`
	ActiveMinutes    float64         `json:"activeMinutes"`
	SleepHours       float64         `json:"sleepHours"`
	RestingHeartRate float64         `json:"restingHeartRate,omitempty"`
}

// GoalProgress tracks one goal over a window
type GoalProgress struct {
	Name     string  `json:"name"`
	Target   float64 `json:"target"`
	Actual   float64 `json:"actual"`
	Progress float64 `json:"progress"` // Percent of target, capped at 100
	Achieved bool    `json:"achieved"`
}

// WeeklyMetrics is the data held in the weekly sub-cache
type WeeklyMetrics struct {
	PeriodStart     time.Time           `json:"periodStart"`
	PeriodEnd       time.Time           `json:"periodEnd"`
	Averages        DimensionScores     `json:"averages"`
	Trends          map[Dimension]Trend `json:"trends"`
	OverallTrend    Trend               `json:"overallTrend"`
	SmoothedOverall []float64           `json:"smoothedOverall,omitempty"`
	Goals           []GoalProgress      `json:"goals"`
	Insights        []string            `json:"insights"`
	DaysTracked     int                 `json:"daysTracked"`
}

// Correlation is a Pearson coefficient between two daily score series
type Correlation struct {
	A           Dimension `json:"a"`
	B           Dimension `json:"b"`
	Coefficient float64   `json:"coefficient"`
	Samples     int       `json:"samples"`
	Strength    string    `json:"strength"`
}

// MonthlyMetrics is the data held in the monthly sub-cache
type MonthlyMetrics struct {
	PeriodStart     time.Time       `json:"periodStart"`
	PeriodEnd       time.Time       `json:"periodEnd"`
	Averages        DimensionScores `json:"averages"`
	OverallTrend    Trend           `json:"overallTrend"`
	SmoothedOverall []float64       `json:"smoothedOverall,omitempty"`
	Goals           []GoalProgress  `json:"goals"`
	Correlations    []Correlation   `json:"correlations"`
	Achievements    []string        `json:"achievements"`
	DaysTracked     int             `json:"daysTracked"`
}

// PersonalBest is the best daily value seen for a metric
type PersonalBest struct {
	Value float64 `json:"value"`
	Date  string  `json:"date"`
}

// AgeSnapshot records the ages reported by one assessment day
type AgeSnapshot struct {
	Date             string  `json:"date"`
	ChronologicalAge float64 `json:"chronologicalAge"`
	BiologicalAge    float64 `json:"biologicalAge"`
}

// Milestone is a one-time achievement
type Milestone struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	AchievedAt time.Time `json:"achievedAt"`
}

// LifetimeMetrics is the data held in the lifetime sub-cache
type LifetimeMetrics struct {
	TotalDaysTracked int                     `json:"totalDaysTracked"`
	TotalReadings    int                     `json:"totalReadings"`
	TotalAssessments int                     `json:"totalAssessments"`
	CurrentStreak    int                     `json:"currentStreak"`
	LongestStreak    int                     `json:"longestStreak"`
	PersonalBests    map[string]PersonalBest `json:"personalBests"`
	AgeHistory       []AgeSnapshot           `json:"ageHistory"`
	Milestones       []Milestone             `json:"milestones"`
	FirstTrackedAt   *time.Time              `json:"firstTrackedAt,omitempty"`
	ComputedAt       time.Time               `json:"computedAt"`
}

// HeroMetrics is the headline block of the dashboard
type HeroMetrics struct {
	BiologicalAge    float64 `json:"biologicalAge,omitempty"`
	ChronologicalAge float64 `json:"chronologicalAge,omitempty"`
	AgeDelta         float64 `json:"ageDelta,omitempty"`
	HasAgeData       bool    `json:"hasAgeData"`
	OverallScore     float64 `json:"overallScore"`
	Trend            Trend   `json:"trend"`
}

// QuickStats is the secondary stats row of the dashboard
type QuickStats struct {
	TodayScore    float64 `json:"todayScore"`
	WeeklyAverage float64 `json:"weeklyAverage"`
	CurrentStreak int     `json:"currentStreak"`
	DaysTracked   int     `json:"daysTracked"`
}

// DashboardData is the data held in the dashboard sub-cache.
// It is derived from the other four sub-caches only.
type DashboardData struct {
	Hero            HeroMetrics                `json:"hero"`
	QuickStats      QuickStats                 `json:"quickStats"`
	NextActions     []string                   `json:"nextActions"`
	UsedDefaults    bool                       `json:"usedDefaults"`
	SourceUpdatedAt map[SubCacheName]time.Time `json:"sourceUpdatedAt,omitempty"`
}
