// Package scoring turns windows of raw health data into bounded dimension scores.
// Scorers are pluggable per dimension; Policy owns the neutral-default and
// clamping rules so no scorer can leak NaN or out-of-range values into a cache.
package scoring

import (
	"math"
	"time"

	"github.com/vitalspan/metrics-cache/internal/models"
)

// Score bounds
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// Window is the raw data a score set is derived from, in [Start, End)
type Window struct {
	Start       time.Time
	End         time.Time
	Readings    []*models.WearableReading
	Assessments []*models.Assessment
}

// Days returns the window length in whole days, at least 1
func (w Window) Days() int {
	days := int(w.End.Sub(w.Start).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// DimensionScorer scores one dimension. ok is false when the window holds no
// qualifying data for it.
type DimensionScorer interface {
	Dimension() models.Dimension
	Score(w Window) (score float64, ok bool)
}

// Policy combines per-dimension scorers with the missing-data policy
type Policy struct {
	scorers      map[models.Dimension]DimensionScorer
	defaultScore float64
}

// NewPolicy creates a policy. Dimensions without a scorer always take defaultScore,
// rounded to the same single decimal as Overall.
func NewPolicy(defaultScore float64, scorers ...DimensionScorer) *Policy {
	p := &Policy{
		scorers:      make(map[models.Dimension]DimensionScorer, len(scorers)),
		defaultScore: round1(clamp(defaultScore)),
	}
	for _, s := range scorers {
		p.scorers[s.Dimension()] = s
	}
	return p
}

// NewDefaultPolicy uses the built-in heuristic scorers
func NewDefaultPolicy(defaultScore float64) *Policy {
	return NewPolicy(defaultScore, DefaultScorers()...)
}

// DefaultScore returns the neutral score used for dimensions without data
func (p *Policy) DefaultScore() float64 {
	return p.defaultScore
}

// Score computes every dimension for the window. Missing, NaN or infinite
// scores become the neutral default and are listed in Defaulted; Overall is the
// unweighted mean of the four final scores.
func (p *Policy) Score(w Window) models.DimensionScores {
	var scores models.DimensionScores
	sum := 0.0

	for _, dim := range models.Dimensions() {
		value, ok := p.defaultScore, false
		if scorer, found := p.scorers[dim]; found {
			if v, has := scorer.Score(w); has && !math.IsNaN(v) && !math.IsInf(v, 0) {
				value, ok = clamp(v), true
			}
		}
		if !ok {
			scores.Defaulted = append(scores.Defaulted, dim)
		}
		scores.Set(dim, value)
		sum += value
	}

	scores.Overall = round1(sum / float64(len(models.Dimensions())))
	return scores
}

// Average returns the per-dimension mean of several score sets. A dimension
// counts as defaulted only if it was defaulted in every input.
func (p *Policy) Average(sets []models.DimensionScores) models.DimensionScores {
	if len(sets) == 0 {
		return p.Score(Window{})
	}

	var avg models.DimensionScores
	for _, dim := range models.Dimensions() {
		sum, defaulted := 0.0, 0
		for _, s := range sets {
			sum += s.Get(dim)
			if s.IsDefaulted(dim) {
				defaulted++
			}
		}
		avg.Set(dim, round1(sum/float64(len(sets))))
		if defaulted == len(sets) {
			avg.Defaulted = append(avg.Defaulted, dim)
		}
	}

	total := 0.0
	for _, dim := range models.Dimensions() {
		total += avg.Get(dim)
	}
	avg.Overall = round1(total / float64(len(models.Dimensions())))
	return avg
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return MinScore
	}
	return math.Max(MinScore, math.Min(MaxScore, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
