package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/recompute"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

var readOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "api_cache_reads_total",
		Help: "Metrics reads served by outcome",
	},
	[]string{"sub_cache", "outcome"},
)

// MetricsCache is the read side of the cache used by the API; *cache.Service satisfies it
type MetricsCache interface {
	GetDailyMetrics(ctx context.Context, userID string) (*models.SubCache[models.DailyMetrics], error)
	GetWeeklyMetrics(ctx context.Context, userID string) (*models.SubCache[models.WeeklyMetrics], error)
	GetMonthlyMetrics(ctx context.Context, userID string) (*models.SubCache[models.MonthlyMetrics], error)
	GetLifetimeMetrics(ctx context.Context, userID string) (*models.SubCache[models.LifetimeMetrics], error)
	GetDashboardCache(ctx context.Context, userID string) (*models.SubCache[models.DashboardData], error)
	PeekSubCache(ctx context.Context, userID string, name models.SubCacheName) (*models.SubCache[json.RawMessage], error)
}

// Recomputer starts background recomputes; *recompute.Trigger satisfies it
type Recomputer interface {
	Trigger(ctx context.Context, userID, scope string) bool
}

// MetricsHandler serves cached metrics with cache-aside semantics: a fresh hit
// is returned as is, anything else starts a recompute and answers 202
type MetricsHandler struct {
	cache      MetricsCache
	recompute  Recomputer
	retryAfter time.Duration
	serveStale bool
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(cache MetricsCache, recompute Recomputer, cfg config.APIConfig) *MetricsHandler {
	retryAfter := cfg.RetryAfter
	if retryAfter <= 0 {
		retryAfter = 5 * time.Second
	}
	return &MetricsHandler{
		cache:      cache,
		recompute:  recompute,
		retryAfter: retryAfter,
		serveStale: cfg.ServeStale,
	}
}

// GetDashboard handles GET /api/v1/dashboard/{userId}
func (h *MetricsHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := ValidateUserID(userID); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := hit(h.cache.GetDashboardCache(r.Context(), userID))
	if resp != nil {
		readOutcomes.WithLabelValues(string(models.SubCacheDashboard), "hit").Inc()
		respondWithJSON(w, http.StatusOK, resp)
		return
	}
	h.miss(w, r, userID, models.SubCacheDashboard, recompute.ScopeAll, err)
}

// GetMetrics handles GET /api/v1/metrics/{userId}/{timeframe}
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userId"]
	if err := ValidateUserID(userID); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	tf, err := models.ParseTimeframe(vars["timeframe"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	var resp *CachedResponse
	switch tf {
	case models.TimeframeDaily:
		resp, err = hit(h.cache.GetDailyMetrics(ctx, userID))
	case models.TimeframeWeekly:
		resp, err = hit(h.cache.GetWeeklyMetrics(ctx, userID))
	case models.TimeframeMonthly:
		resp, err = hit(h.cache.GetMonthlyMetrics(ctx, userID))
	case models.TimeframeLifetime:
		resp, err = hit(h.cache.GetLifetimeMetrics(ctx, userID))
	}
	if resp != nil {
		readOutcomes.WithLabelValues(string(tf.SubCache()), "hit").Inc()
		respondWithJSON(w, http.StatusOK, resp)
		return
	}
	h.miss(w, r, userID, tf.SubCache(), string(tf), err)
}

// hit turns a fresh sub-cache into a response; nil means miss
func hit[T any](sc *models.SubCache[T], err error) (*CachedResponse, error) {
	if err != nil || sc == nil {
		return nil, err
	}
	return &CachedResponse{
		Data:        sc.Data,
		Cached:      true,
		LastUpdated: sc.LastUpdated,
		ExpiresAt:   sc.ExpiresAt,
	}, nil
}

// miss starts a recompute that outlives the request, then answers with the
// stale copy when allowed or 202 processing. A cache read error is a miss.
func (h *MetricsHandler) miss(w http.ResponseWriter, r *http.Request, userID string, name models.SubCacheName, scope string, readErr error) {
	ctx := logger.WithUserID(r.Context(), userID)
	outcome := "miss"
	if readErr != nil {
		outcome = "read_error"
		logger.WithContext(ctx).Warn("Cache read failed, treating as miss",
			logger.ErrorField(readErr),
			logger.String("sub_cache", string(name)),
		)
	}

	started := h.recompute.Trigger(ctx, userID, scope)

	if h.serveStale && readErr == nil {
		if stale, err := h.cache.PeekSubCache(ctx, userID, name); err == nil && stale != nil {
			readOutcomes.WithLabelValues(string(name), "stale").Inc()
			respondWithJSON(w, http.StatusOK, CachedResponse{
				Data:        stale.Data,
				Cached:      true,
				Stale:       true,
				LastUpdated: stale.LastUpdated,
				ExpiresAt:   stale.ExpiresAt,
			})
			return
		}
	}

	readOutcomes.WithLabelValues(string(name), outcome).Inc()
	logger.WithContext(ctx).Debug("Serving processing response",
		logger.String("sub_cache", string(name)),
		logger.Bool("recompute_started", started),
	)

	seconds := int(math.Ceil(h.retryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	respondWithJSON(w, http.StatusAccepted, ProcessingResponse{
		Status:     "processing",
		RetryAfter: seconds,
	})
}
