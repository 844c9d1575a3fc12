package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

// BreakerRawStore guards bulk raw-data reads with a circuit breaker so a
// struggling database is not hammered by recomputes and batch jobs
type BreakerRawStore struct {
	next RawDataStore
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerRawStore wraps a RawDataStore
func NewBreakerRawStore(next RawDataStore, cfg config.DatabaseConfig) *BreakerRawStore {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "raw-data-store",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellations say nothing about database health
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	}

	return &BreakerRawStore{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State returns the breaker state
func (b *BreakerRawStore) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerRawStore) GetWearableReadings(ctx context.Context, userID string, start, end time.Time) ([]*models.WearableReading, error) {
	return execute(b.cb, func() ([]*models.WearableReading, error) {
		return b.next.GetWearableReadings(ctx, userID, start, end)
	})
}

func (b *BreakerRawStore) GetAssessments(ctx context.Context, userID string, start, end time.Time) ([]*models.Assessment, error) {
	return execute(b.cb, func() ([]*models.Assessment, error) {
		return b.next.GetAssessments(ctx, userID, start, end)
	})
}

func (b *BreakerRawStore) GetActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	return execute(b.cb, func() ([]string, error) {
		return b.next.GetActiveUsers(ctx, since)
	})
}

func (b *BreakerRawStore) GetUsersWithMinTrackedDays(ctx context.Context, minDays int) ([]string, error) {
	return execute(b.cb, func() ([]string, error) {
		return b.next.GetUsersWithMinTrackedDays(ctx, minDays)
	})
}

func (b *BreakerRawStore) Close() error {
	return b.next.Close()
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}
