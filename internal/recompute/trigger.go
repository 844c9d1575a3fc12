// Package recompute starts background recalculations on cache misses without
// letting concurrent readers pile duplicate work onto the raw data store.
package recompute

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/pkg/logger"
	"golang.org/x/sync/singleflight"
)

var (
	triggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recompute_triggers_total",
			Help: "Recompute trigger attempts by outcome",
		},
		[]string{"scope", "result"},
	)

	recomputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recompute_duration_seconds",
			Help:    "Duration of background recomputes",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"scope"},
	)

	recomputeInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recompute_in_flight",
			Help: "Background recomputes currently running in this process",
		},
	)
)

// ScopeAll recomputes every sub-cache; any other scope names a timeframe
const ScopeAll = "all"

// Calculator produces sub-caches; *engine.Engine satisfies it
type Calculator interface {
	CalculateAndCacheUserMetrics(ctx context.Context, userID string) error
	CalculateTimeframe(ctx context.Context, userID string, tf models.Timeframe) error
}

// Marker guards a recompute across processes; *cache.Service satisfies it
type Marker interface {
	TryMarkComputing(ctx context.Context, userID, scope string) (bool, error)
	ClearComputing(ctx context.Context, userID, scope string) error
}

// Trigger launches at most one recompute per user and scope at a time
type Trigger struct {
	calc    Calculator
	marker  Marker
	timeout time.Duration

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewTrigger creates a trigger. timeout bounds each background recompute.
func NewTrigger(calc Calculator, marker Marker, timeout time.Duration) *Trigger {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Trigger{
		calc:    calc,
		marker:  marker,
		timeout: timeout,
	}
}

// Trigger starts a background recompute unless one is already running.
// Concurrent callers in this process share a single marker claim; callers in
// other processes are held off by the marker itself. It returns true when this
// call (or one it was coalesced with) launched the recompute.
// The recompute outlives ctx but keeps its values for logging.
func (t *Trigger) Trigger(ctx context.Context, userID, scope string) bool {
	if scope != ScopeAll {
		if _, err := models.ParseTimeframe(scope); err != nil {
			triggersTotal.WithLabelValues(scope, "invalid").Inc()
			logger.Warn("Ignoring recompute for unknown scope",
				logger.String("user_id", userID),
				logger.String("scope", scope),
			)
			return false
		}
	}

	detached := context.WithoutCancel(ctx)
	v, _, _ := t.group.Do(userID+":"+scope, func() (interface{}, error) {
		claimed, err := t.marker.TryMarkComputing(detached, userID, scope)
		if err != nil {
			// Marker store unavailable: singleflight still dedupes in this process
			triggersTotal.WithLabelValues(scope, "marker_error").Inc()
			logger.Warn("Failed to claim recompute marker, recomputing unguarded",
				logger.ErrorField(err),
				logger.String("user_id", userID),
				logger.String("scope", scope),
			)
		} else if !claimed {
			triggersTotal.WithLabelValues(scope, "in_progress").Inc()
			return false, nil
		}

		triggersTotal.WithLabelValues(scope, "started").Inc()
		t.wg.Add(1)
		go t.run(detached, userID, scope, claimed)
		return true, nil
	})
	return v.(bool)
}

func (t *Trigger) run(ctx context.Context, userID, scope string, marked bool) {
	defer t.wg.Done()
	recomputeInFlight.Inc()
	defer recomputeInFlight.Dec()

	start := time.Now()
	log := logger.WithContext(logger.WithUserID(ctx, userID))

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorsTotal.WithLabelValues("recompute", "panic").Inc()
			log.Error("Recompute panicked", logger.String("scope", scope), logger.Any("panic", r))
		}
		if !marked {
			return
		}
		if err := t.marker.ClearComputing(ctx, userID, scope); err != nil {
			// The marker still expires on its own
			log.Warn("Failed to clear recompute marker", logger.ErrorField(err), logger.String("scope", scope))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err := t.calculate(runCtx, userID, scope)
	recomputeDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error("Background recompute failed",
			logger.ErrorField(err),
			logger.String("scope", scope),
			logger.Duration("duration", time.Since(start)),
		)
		return
	}
	log.Debug("Background recompute complete",
		logger.String("scope", scope),
		logger.Duration("duration", time.Since(start)),
	)
}

func (t *Trigger) calculate(ctx context.Context, userID, scope string) error {
	if scope == ScopeAll {
		return t.calc.CalculateAndCacheUserMetrics(ctx, userID)
	}
	tf, err := models.ParseTimeframe(scope)
	if err != nil {
		return fmt.Errorf("recompute scope: %w", err)
	}
	return t.calc.CalculateTimeframe(ctx, userID, tf)
}

// Wait blocks until every launched recompute has finished or ctx is done
func (t *Trigger) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
