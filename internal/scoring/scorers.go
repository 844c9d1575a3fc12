package scoring

import (
	"math"

	"github.com/vitalspan/metrics-cache/internal/models"
)

// DefaultScorers returns the built-in heuristic scorers. Each blends the mean
// of the wearable signals it understands with the latest assessment answers.
func DefaultScorers() []DimensionScorer {
	return []DimensionScorer{
		SleepScorer{TargetHours: 8},
		ActivityScorer{TargetSteps: 10000, TargetActiveMinutes: 30, TargetWeeklyExercise: 150},
		NutritionScorer{},
		StressScorer{},
	}
}

// SleepScorer scores sleep duration against a target plus reported sleep quality
type SleepScorer struct {
	TargetHours float64
}

func (SleepScorer) Dimension() models.Dimension { return models.DimensionSleep }

func (s SleepScorer) Score(w Window) (float64, bool) {
	var parts []float64

	if hours, ok := meanOf(w.Readings, models.MetricSleepHours); ok {
		// 15 points lost per hour away from target
		parts = append(parts, 100-math.Abs(hours-s.TargetHours)*15)
	}
	if quality, ok := meanOf(w.Readings, models.MetricSleepQuality); ok {
		parts = append(parts, quality)
	}
	if a := latestAssessment(w.Assessments); a != nil {
		parts = append(parts, float64(a.SleepQuality)*10)
	}

	return mean(parts)
}

// ActivityScorer scores daily steps and active minutes against targets
type ActivityScorer struct {
	TargetSteps          float64
	TargetActiveMinutes  float64
	TargetWeeklyExercise float64
}

func (ActivityScorer) Dimension() models.Dimension { return models.DimensionActivity }

func (s ActivityScorer) Score(w Window) (float64, bool) {
	var parts []float64

	if steps, ok := dailyTotalMean(w.Readings, models.MetricSteps); ok {
		parts = append(parts, steps/s.TargetSteps*100)
	}
	if minutes, ok := dailyTotalMean(w.Readings, models.MetricActiveMinutes); ok {
		parts = append(parts, minutes/s.TargetActiveMinutes*100)
	}
	if a := latestAssessment(w.Assessments); a != nil {
		parts = append(parts, float64(a.ExerciseMinutesPerWeek)/s.TargetWeeklyExercise*100)
	}

	return mean(capEach(parts))
}

// NutritionScorer scores device-reported nutrition and questionnaire diet quality
type NutritionScorer struct{}

func (NutritionScorer) Dimension() models.Dimension { return models.DimensionNutrition }

func (NutritionScorer) Score(w Window) (float64, bool) {
	var parts []float64

	if n, ok := meanOf(w.Readings, models.MetricNutritionScore); ok {
		parts = append(parts, n)
	}
	if a := latestAssessment(w.Assessments); a != nil {
		diet := float64(a.DietQuality) * 10
		if a.AlcoholDrinksPerWeek > 7 {
			diet -= float64(a.AlcoholDrinksPerWeek-7) * 2
		}
		parts = append(parts, diet)
	}

	return mean(parts)
}

// StressScorer scores inverse stress: high reported stress and low HRV lower the score
type StressScorer struct{}

func (StressScorer) Dimension() models.Dimension { return models.DimensionStress }

func (StressScorer) Score(w Window) (float64, bool) {
	var parts []float64

	if level, ok := meanOf(w.Readings, models.MetricStressLevel); ok {
		parts = append(parts, 100-level)
	}
	if hrv, ok := meanOf(w.Readings, models.MetricHRV); ok {
		// 20ms maps to 0, 80ms and above to 100
		parts = append(parts, (hrv-20)/60*100)
	}
	if a := latestAssessment(w.Assessments); a != nil {
		score := float64(10-a.StressLevel) / 9 * 100
		if a.Smoker {
			score -= 10
		}
		parts = append(parts, score)
	}

	return mean(capEach(parts))
}

func meanOf(readings []*models.WearableReading, metric models.MetricType) (float64, bool) {
	sum, n := 0.0, 0
	for _, r := range readings {
		if r.MetricType == metric {
			sum += r.Value
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// dailyTotalMean sums a cumulative metric per UTC day, then averages over days with data
func dailyTotalMean(readings []*models.WearableReading, metric models.MetricType) (float64, bool) {
	totals := make(map[string]float64)
	for _, r := range readings {
		if r.MetricType == metric {
			totals[DayKey(r.RecordedAt)] += r.Value
		}
	}
	if len(totals) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range totals {
		sum += v
	}
	return sum / float64(len(totals)), true
}

func latestAssessment(assessments []*models.Assessment) *models.Assessment {
	var latest *models.Assessment
	for _, a := range assessments {
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	return latest
}

func capEach(parts []float64) []float64 {
	for i, p := range parts {
		parts[i] = clamp(p)
	}
	return parts
}

func mean(parts []float64) (float64, bool) {
	if len(parts) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, p := range parts {
		sum += p
	}
	return sum / float64(len(parts)), true
}
