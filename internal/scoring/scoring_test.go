package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalspan/metrics-cache/internal/models"
)

var day0 = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

func reading(metric models.MetricType, value float64, at time.Time) *models.WearableReading {
	return &models.WearableReading{UserID: "u1", MetricType: metric, Value: value, RecordedAt: at}
}

type fixedScorer struct {
	dim   models.Dimension
	score float64
	ok    bool
}

func (f fixedScorer) Dimension() models.Dimension  { return f.dim }
func (f fixedScorer) Score(Window) (float64, bool) { return f.score, f.ok }

func TestPolicy_DefaultScoreFallback(t *testing.T) {
	policy := NewDefaultPolicy(75)

	scores := policy.Score(Window{Start: day0, End: day0.AddDate(0, 0, 1)})

	for _, dim := range models.Dimensions() {
		assert.Equal(t, 75.0, scores.Get(dim), "dimension %s", dim)
	}
	assert.Equal(t, 75.0, scores.Overall)
	assert.ElementsMatch(t, models.Dimensions(), scores.Defaulted)
}

func TestPolicy_FractionalDefaultMatchesOverall(t *testing.T) {
	policy := NewDefaultPolicy(72.35)

	scores := policy.Score(Window{})
	for _, dim := range models.Dimensions() {
		assert.Equal(t, policy.DefaultScore(), scores.Get(dim), "dimension %s", dim)
	}
	assert.Equal(t, policy.DefaultScore(), scores.Overall)
	assert.Equal(t, policy.DefaultScore(), policy.Average(nil).Overall)
	assert.InDelta(t, 72.35, policy.DefaultScore(), 0.05)
}

func TestPolicy_NeverLeaksNaNOrOutOfRange(t *testing.T) {
	policy := NewPolicy(75,
		fixedScorer{dim: models.DimensionSleep, score: math.NaN(), ok: true},
		fixedScorer{dim: models.DimensionActivity, score: 250, ok: true},
		fixedScorer{dim: models.DimensionNutrition, score: -40, ok: true},
		fixedScorer{dim: models.DimensionStress, score: math.Inf(1), ok: true},
	)

	scores := policy.Score(Window{})

	assert.Equal(t, 75.0, scores.Sleep)
	assert.Equal(t, 100.0, scores.Activity)
	assert.Equal(t, 0.0, scores.Nutrition)
	assert.Equal(t, 75.0, scores.Stress)
	assert.Equal(t, 62.5, scores.Overall)
	assert.Equal(t, []models.Dimension{models.DimensionSleep, models.DimensionStress}, scores.Defaulted)
}

func TestPolicy_OverallIsUnweightedMean(t *testing.T) {
	policy := NewPolicy(75,
		fixedScorer{dim: models.DimensionSleep, score: 90, ok: true},
		fixedScorer{dim: models.DimensionActivity, score: 60, ok: true},
		fixedScorer{dim: models.DimensionNutrition, score: 80, ok: true},
		fixedScorer{dim: models.DimensionStress, score: 50, ok: true},
	)

	scores := policy.Score(Window{})
	assert.Equal(t, 70.0, scores.Overall)
	assert.Empty(t, scores.Defaulted)
}

func TestPolicy_BuiltInScorers(t *testing.T) {
	policy := NewDefaultPolicy(75)
	w := Window{
		Start: day0,
		End:   day0.AddDate(0, 0, 1),
		Readings: []*models.WearableReading{
			reading(models.MetricSleepHours, 8, day0.Add(7*time.Hour)),
			reading(models.MetricSteps, 4000, day0.Add(9*time.Hour)),
			reading(models.MetricSteps, 6000, day0.Add(18*time.Hour)),
			reading(models.MetricStressLevel, 30, day0.Add(12*time.Hour)),
		},
	}

	scores := policy.Score(w)

	assert.Equal(t, 100.0, scores.Sleep)
	assert.Equal(t, 100.0, scores.Activity, "steps are summed per day before comparing with the target")
	assert.Equal(t, 75.0, scores.Nutrition)
	assert.Equal(t, 70.0, scores.Stress)
	assert.Equal(t, []models.Dimension{models.DimensionNutrition}, scores.Defaulted)
}

func TestPolicy_AssessmentOnlyWindow(t *testing.T) {
	policy := NewDefaultPolicy(75)
	w := Window{Assessments: []*models.Assessment{
		{SleepQuality: 2, DietQuality: 5, StressLevel: 1, ExerciseMinutesPerWeek: 300, CreatedAt: day0},
		{SleepQuality: 7, DietQuality: 9, StressLevel: 10, ExerciseMinutesPerWeek: 75, AlcoholDrinksPerWeek: 12, CreatedAt: day0.Add(time.Hour)},
	}}

	scores := policy.Score(w)

	// Latest assessment wins
	assert.Equal(t, 70.0, scores.Sleep)
	assert.Equal(t, 50.0, scores.Activity)
	assert.Equal(t, 80.0, scores.Nutrition)
	assert.Equal(t, 0.0, scores.Stress)
	assert.Empty(t, scores.Defaulted)
}

func TestPolicy_Average(t *testing.T) {
	policy := NewDefaultPolicy(75)
	sets := []models.DimensionScores{
		{Sleep: 80, Activity: 60, Nutrition: 75, Stress: 40, Defaulted: []models.Dimension{models.DimensionNutrition}},
		{Sleep: 60, Activity: 80, Nutrition: 75, Stress: 60, Defaulted: []models.Dimension{models.DimensionNutrition, models.DimensionStress}},
	}

	avg := policy.Average(sets)

	assert.Equal(t, 70.0, avg.Sleep)
	assert.Equal(t, 70.0, avg.Activity)
	assert.Equal(t, 50.0, avg.Stress)
	assert.Equal(t, 66.3, avg.Overall)
	assert.Equal(t, []models.Dimension{models.DimensionNutrition}, avg.Defaulted)

	empty := policy.Average(nil)
	assert.Equal(t, 75.0, empty.Overall)
}

func TestSplitByDay(t *testing.T) {
	w := Window{
		Start: day0,
		End:   day0.AddDate(0, 0, 7),
		Readings: []*models.WearableReading{
			reading(models.MetricSteps, 1, day0.AddDate(0, 0, 2).Add(time.Hour)),
			reading(models.MetricSteps, 1, day0.Add(23*time.Hour)),
			reading(models.MetricSteps, 1, day0.AddDate(0, 0, 2).Add(5*time.Hour)),
		},
		Assessments: []*models.Assessment{{CreatedAt: day0.AddDate(0, 0, 4)}},
	}

	days := SplitByDay(w)

	require.Len(t, days, 3)
	assert.Equal(t, day0, days[0].Start)
	assert.Len(t, days[1].Readings, 2)
	assert.Len(t, days[2].Assessments, 1)
	assert.Equal(t, day0.AddDate(0, 0, 5), days[2].End)
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   models.Trend
	}{
		{"empty", nil, models.TrendStable},
		{"single", []float64{50}, models.TrendStable},
		{"rising", []float64{50, 52, 60, 62}, models.TrendUp},
		{"falling", []float64{80, 78, 60, 62}, models.TrendDown},
		{"noise below threshold", []float64{70, 72, 74, 75}, models.TrendStable},
		{"exactly at threshold", []float64{50, 55}, models.TrendStable},
		{"odd count ignores middle", []float64{50, 0, 50}, models.TrendStable},
		{"from zero", []float64{0, 10}, models.TrendUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTrend(tt.values, 10))
		})
	}
}

func TestMovingAverage(t *testing.T) {
	assert.Equal(t, []float64{2, 3, 4}, MovingAverage([]float64{1, 2, 3, 4, 5}, 3))
	assert.Equal(t, []float64{2}, MovingAverage([]float64{1, 2, 3}, 10), "window shrinks to input length")
	assert.Equal(t, []float64{70.5, 71}, MovingAverage([]float64{70, 71, 71}, 2))
	assert.Nil(t, MovingAverage(nil, 3))
	assert.Nil(t, MovingAverage([]float64{1}, 0))
}

func TestPearsonCorrelation(t *testing.T) {
	r, ok := PearsonCorrelation([]float64{1, 2, 3, 4}, []float64{2, 4, 6, 8})
	require.True(t, ok)
	assert.InDelta(t, 1.0, r, 1e-9)

	r, ok = PearsonCorrelation([]float64{1, 2, 3}, []float64{3, 2, 1})
	require.True(t, ok)
	assert.InDelta(t, -1.0, r, 1e-9)

	_, ok = PearsonCorrelation([]float64{1, 2}, []float64{1, 2})
	assert.False(t, ok, "too few samples")

	_, ok = PearsonCorrelation([]float64{5, 5, 5}, []float64{1, 2, 3})
	assert.False(t, ok, "constant series")

	_, ok = PearsonCorrelation([]float64{1, 2, 3}, []float64{1, 2})
	assert.False(t, ok, "length mismatch")
}

func TestCorrelationStrength(t *testing.T) {
	assert.Equal(t, "strong", CorrelationStrength(-0.85))
	assert.Equal(t, "moderate", CorrelationStrength(0.5))
	assert.Equal(t, "weak", CorrelationStrength(0.25))
	assert.Equal(t, "none", CorrelationStrength(0.1))
}
