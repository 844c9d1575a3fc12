package models

import (
	"fmt"
	"time"
)

// SubCacheName identifies one of the five cached views held for a user
type SubCacheName string

const (
	SubCacheDaily     SubCacheName = "dailyMetrics"
	SubCacheWeekly    SubCacheName = "weeklyMetrics"
	SubCacheMonthly   SubCacheName = "monthlyMetrics"
	SubCacheLifetime  SubCacheName = "lifetimeMetrics"
	SubCacheDashboard SubCacheName = "dashboardCache"
)

// Data shape versions, bumped independently when a sub-cache layout changes
const (
	DailyMetricsVersion     = 1
	WeeklyMetricsVersion    = 1
	MonthlyMetricsVersion   = 1
	LifetimeMetricsVersion  = 1
	DashboardMetricsVersion = 1
)

// AllSubCaches returns every sub-cache name in dependency order (dashboard last)
func AllSubCaches() []SubCacheName {
	return []SubCacheName{SubCacheDaily, SubCacheWeekly, SubCacheMonthly, SubCacheLifetime, SubCacheDashboard}
}

// ParseSubCacheName validates a sub-cache name
func ParseSubCacheName(name string) (SubCacheName, error) {
	for _, n := range AllSubCaches() {
		if string(n) == name {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSubCache, name)
}

// SubCache wraps cached data with its write time and expiry.
// ExpiresAt is nil for sub-caches that never expire (lifetime).
type SubCache[T any] struct {
	Data        T          `json:"data"`
	Version     int        `json:"version"`
	LastUpdated time.Time  `json:"lastUpdated"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// NewSubCache stamps data with now and now+ttl. A zero ttl means no expiry.
func NewSubCache[T any](data T, version int, now time.Time, ttl time.Duration) *SubCache[T] {
	sc := &SubCache[T]{
		Data:        data,
		Version:     version,
		LastUpdated: now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		sc.ExpiresAt = &expiresAt
	}
	return sc
}

// IsFresh reports whether now is strictly before the expiry
func (s *SubCache[T]) IsFresh(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.ExpiresAt == nil {
		return true
	}
	return now.Before(*s.ExpiresAt)
}

// UserCacheRecord is the per-user cache document. A nil sub-cache means
// "never computed or invalidated"; an expired one is still present here.
type UserCacheRecord struct {
	UserID          string                     `json:"userId"`
	CreatedAt       time.Time                  `json:"createdAt"`
	DailyMetrics    *SubCache[DailyMetrics]    `json:"dailyMetrics,omitempty"`
	WeeklyMetrics   *SubCache[WeeklyMetrics]   `json:"weeklyMetrics,omitempty"`
	MonthlyMetrics  *SubCache[MonthlyMetrics]  `json:"monthlyMetrics,omitempty"`
	LifetimeMetrics *SubCache[LifetimeMetrics] `json:"lifetimeMetrics,omitempty"`
	DashboardCache  *SubCache[DashboardData]   `json:"dashboardCache,omitempty"`
}

// CacheStats is an approximate snapshot of the cache store
type CacheStats struct {
	TotalDocuments     int                  `json:"totalDocuments"`
	OversizedDocuments int                  `json:"oversizedDocuments"`
	OversizedUserIDs   []string             `json:"oversizedUserIds,omitempty"`
	TotalBytes         int64                `json:"totalBytes"`
	LargestBytes       int64                `json:"largestBytes"`
	SubCacheCounts     map[SubCacheName]int `json:"subCacheCounts"`
	CollectedAt        time.Time            `json:"collectedAt"`
}

// MetricsReadyEvent is published after a recompute has written fresh sub-caches
type MetricsReadyEvent struct {
	UserID      string         `json:"userId"`
	Scope       string         `json:"scope"`
	SubCaches   []SubCacheName `json:"subCaches"`
	CompletedAt time.Time      `json:"completedAt"`
}
