package scoring

import "math"

// MinCorrelationSamples is the fewest paired observations a coefficient is reported for
const MinCorrelationSamples = 3

// PearsonCorrelation returns the Pearson coefficient of two equal-length series.
// ok is false for mismatched lengths, too few samples or a constant series.
func PearsonCorrelation(x, y []float64) (r float64, ok bool) {
	n := len(x)
	if n != len(y) || n < MinCorrelationSamples {
		return 0, false
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-meanX, y[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, false
	}

	r = cov / math.Sqrt(varX*varY)
	return math.Max(-1, math.Min(1, r)), true
}

// CorrelationStrength labels the magnitude of a coefficient
func CorrelationStrength(r float64) string {
	switch a := math.Abs(r); {
	case a >= 0.7:
		return "strong"
	case a >= 0.4:
		return "moderate"
	case a >= 0.2:
		return "weak"
	}
	return "none"
}
