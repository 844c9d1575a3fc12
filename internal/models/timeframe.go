package models

import "fmt"

// Timeframe is the metrics window requested through the API
type Timeframe string

const (
	TimeframeDaily    Timeframe = "daily"
	TimeframeWeekly   Timeframe = "weekly"
	TimeframeMonthly  Timeframe = "monthly"
	TimeframeLifetime Timeframe = "lifetime"
)

// ParseTimeframe validates a timeframe string
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case TimeframeDaily, TimeframeWeekly, TimeframeMonthly, TimeframeLifetime:
		return Timeframe(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
}

// SubCache returns the sub-cache backing the timeframe
func (t Timeframe) SubCache() SubCacheName {
	switch t {
	case TimeframeDaily:
		return SubCacheDaily
	case TimeframeWeekly:
		return SubCacheWeekly
	case TimeframeMonthly:
		return SubCacheMonthly
	case TimeframeLifetime:
		return SubCacheLifetime
	}
	return ""
}
