package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/models"
)

func TestBreakerRawStore_PassesThrough(t *testing.T) {
	raw := NewMockRawDataStore()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	raw.AddReading(&models.WearableReading{UserID: "user-1", MetricType: models.MetricSteps, Value: 8000, RecordedAt: now})

	store := NewBreakerRawStore(raw, config.DatabaseConfig{BreakerMaxFailures: 2, BreakerOpenTimeout: time.Minute})

	readings, err := store.GetWearableReadings(context.Background(), "user-1", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, readings, 1)

	users, err := store.GetActiveUsers(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, users)
}

func TestBreakerRawStore_OpensAfterConsecutiveFailures(t *testing.T) {
	raw := NewMockRawDataStore()
	raw.ReadErr = errors.New("connection refused")

	store := NewBreakerRawStore(raw, config.DatabaseConfig{BreakerMaxFailures: 2, BreakerOpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := store.GetAssessments(ctx, "user-1", time.Time{}, time.Now())
		assert.EqualError(t, err, "connection refused")
	}
	assert.Equal(t, gobreaker.StateOpen, store.State())

	calls := raw.ReadCalls()
	_, err := store.GetAssessments(ctx, "user-1", time.Time{}, time.Now())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, calls, raw.ReadCalls(), "open breaker must not reach the store")
}

func TestBreakerRawStore_IgnoresCancellation(t *testing.T) {
	raw := NewMockRawDataStore()
	raw.ReadErr = context.Canceled

	store := NewBreakerRawStore(raw, config.DatabaseConfig{BreakerMaxFailures: 1, BreakerOpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := store.GetWearableReadings(context.Background(), "user-1", time.Time{}, time.Now())
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, store.State())
}
