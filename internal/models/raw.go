package models

import "time"

// MetricType is the kind of value a wearable reading carries
type MetricType string

const (
	MetricSleepHours       MetricType = "sleep_hours"
	MetricSleepQuality     MetricType = "sleep_quality" // 0-100
	MetricSteps            MetricType = "steps"
	MetricActiveMinutes    MetricType = "active_minutes"
	MetricRestingHeartRate MetricType = "resting_heart_rate"
	MetricHRV              MetricType = "hrv"             // ms
	MetricStressLevel      MetricType = "stress_level"    // 0-100, higher is worse
	MetricNutritionScore   MetricType = "nutrition_score" // 0-100
)

// MetricTypes returns all accepted metric types
func MetricTypes() []MetricType {
	return []MetricType{
		MetricSleepHours, MetricSleepQuality, MetricSteps, MetricActiveMinutes,
		MetricRestingHeartRate, MetricHRV, MetricStressLevel, MetricNutritionScore,
	}
}

// IsValid reports whether m is a known metric type
func (m MetricType) IsValid() bool {
	for _, t := range MetricTypes() {
		if t == m {
			return true
		}
	}
	return false
}

// User is a tracked user
type User struct {
	ID        string    `json:"id" validate:"required,userid"`
	CreatedAt time.Time `json:"createdAt"`
}

// WearableReading is a single time-series value from a device
type WearableReading struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId" validate:"required,userid"`
	MetricType MetricType `json:"metricType" validate:"required"`
	Value      float64    `json:"value" validate:"gte=0"`
	Source     string     `json:"source,omitempty" validate:"max=64"`
	RecordedAt time.Time  `json:"recordedAt" validate:"required"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Validate checks the fields the struct tags cannot express
func (r *WearableReading) Validate() error {
	if !r.MetricType.IsValid() {
		return ErrInvalidMetricType
	}
	if r.Value < 0 || r.Value != r.Value {
		return ErrInvalidValue
	}
	if r.RecordedAt.IsZero() {
		return ErrInvalidTimestamp
	}
	return nil
}

// Assessment is a completed lifestyle questionnaire. BiologicalAge is produced
// by the projection model upstream and stored as given.
type Assessment struct {
	ID                     string    `json:"id"`
	UserID                 string    `json:"userId" validate:"required,userid"`
	ChronologicalAge       float64   `json:"chronologicalAge" validate:"gte=0,lte=130"`
	BiologicalAge          float64   `json:"biologicalAge" validate:"gte=0,lte=150"`
	SleepQuality           int       `json:"sleepQuality" validate:"gte=1,lte=10"`
	ExerciseMinutesPerWeek int       `json:"exerciseMinutesPerWeek" validate:"gte=0,lte=10080"`
	DietQuality            int       `json:"dietQuality" validate:"gte=1,lte=10"`
	StressLevel            int       `json:"stressLevel" validate:"gte=1,lte=10"`
	Smoker                 bool      `json:"smoker"`
	AlcoholDrinksPerWeek   int       `json:"alcoholDrinksPerWeek" validate:"gte=0,lte=200"`
	CreatedAt              time.Time `json:"createdAt"`
}

// Collection names carried by document events
const (
	CollectionAssessments = "assessments"
	CollectionWearable    = "wearable_data"
	CollectionUsers       = "users"
)

// DocumentEvent is published whenever a raw-data document is created
type DocumentEvent struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	UserID     string    `json:"userId"`
	DocumentID string    `json:"documentId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate validates a DocumentEvent
func (e *DocumentEvent) Validate() error {
	if e.UserID == "" {
		return ErrInvalidUserID
	}
	switch e.Collection {
	case CollectionAssessments, CollectionWearable, CollectionUsers:
		return nil
	}
	return ErrInvalidEvent
}
