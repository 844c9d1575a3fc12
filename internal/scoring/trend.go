package scoring

import "github.com/vitalspan/metrics-cache/internal/models"

// ClassifyTrend compares the mean of the first half of values with the mean of
// the second half. Changes within thresholdPct percent are stable. For an odd
// count the middle value belongs to neither half.
func ClassifyTrend(values []float64, thresholdPct float64) models.Trend {
	n := len(values)
	if n < 2 {
		return models.TrendStable
	}

	half := n / 2
	first, _ := mean(values[:half])
	second, _ := mean(values[n-half:])

	if first == 0 {
		if second > 0 {
			return models.TrendUp
		}
		return models.TrendStable
	}

	change := (second - first) / first * 100
	switch {
	case change > thresholdPct:
		return models.TrendUp
	case change < -thresholdPct:
		return models.TrendDown
	}
	return models.TrendStable
}
