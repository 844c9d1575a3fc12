package models

// Dimension is one scored area of health
type Dimension string

const (
	DimensionSleep     Dimension = "sleep"
	DimensionActivity  Dimension = "activity"
	DimensionNutrition Dimension = "nutrition"
	DimensionStress    Dimension = "stress"
)

// Dimensions returns all scored dimensions in a stable order
func Dimensions() []Dimension {
	return []Dimension{DimensionSleep, DimensionActivity, DimensionNutrition, DimensionStress}
}

// Trend classifies the direction of a score over a window
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// DimensionScores holds one bounded [0,100] score per dimension plus their mean.
// Defaulted lists the dimensions that had no qualifying data.
type DimensionScores struct {
	Sleep     float64     `json:"sleep"`
	Activity  float64     `json:"activity"`
	Nutrition float64     `json:"nutrition"`
	Stress    float64     `json:"stress"`
	Overall   float64     `json:"overall"`
	Defaulted []Dimension `json:"defaulted,omitempty"`
}

// Get returns the score for a dimension
func (d DimensionScores) Get(dim Dimension) float64 {
	switch dim {
	case DimensionSleep:
		return d.Sleep
	case DimensionActivity:
		return d.Activity
	case DimensionNutrition:
		return d.Nutrition
	case DimensionStress:
		return d.Stress
	}
	return 0
}

// Set assigns the score for a dimension
func (d *DimensionScores) Set(dim Dimension, v float64) {
	switch dim {
	case DimensionSleep:
		d.Sleep = v
	case DimensionActivity:
		d.Activity = v
	case DimensionNutrition:
		d.Nutrition = v
	case DimensionStress:
		d.Stress = v
	}
}

// IsDefaulted reports whether dim fell back to the neutral default
func (d DimensionScores) IsDefaulted(dim Dimension) bool {
	for _, x := range d.Defaulted {
		if x == dim {
			return true
		}
	}
	return false
}
