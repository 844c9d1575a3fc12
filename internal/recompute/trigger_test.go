package recompute

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalspan/metrics-cache/internal/cache"
	"github.com/vitalspan/metrics-cache/internal/config"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/storage"
)

type fakeCalculator struct {
	release    chan struct{}
	err        error
	allCalls   atomic.Int32
	timeframes chan models.Timeframe
	ctxErr     atomic.Value
}

func newFakeCalculator() *fakeCalculator {
	return &fakeCalculator{
		release:    make(chan struct{}),
		timeframes: make(chan models.Timeframe, 10),
	}
}

func (f *fakeCalculator) CalculateAndCacheUserMetrics(ctx context.Context, userID string) error {
	f.allCalls.Add(1)
	select {
	case <-f.release:
	case <-ctx.Done():
		f.ctxErr.Store(ctx.Err())
		return ctx.Err()
	}
	return f.err
}

func (f *fakeCalculator) CalculateTimeframe(ctx context.Context, userID string, tf models.Timeframe) error {
	f.timeframes <- tf
	return f.err
}

func newTestTrigger(t *testing.T, calc Calculator, timeout time.Duration) (*Trigger, *cache.Service) {
	t.Helper()
	redis := storage.NewMockRedisClient()
	svc := cache.NewService(redis, config.CacheConfig{
		KeyPrefix:    "usercache",
		ComputingTTL: time.Minute,
	})
	return NewTrigger(calc, svc, timeout), svc
}

func waitDone(t *testing.T, trig *Trigger) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, trig.Wait(ctx))
}

func TestTrigger_ConcurrentColdReadsRunOnce(t *testing.T) {
	calc := newFakeCalculator()
	trig, _ := newTestTrigger(t, calc, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trig.Trigger(context.Background(), "u1", ScopeAll)
		}()
	}
	wg.Wait()

	// Everyone arriving while the recompute runs is turned away by the marker
	assert.False(t, trig.Trigger(context.Background(), "u1", ScopeAll))

	close(calc.release)
	waitDone(t, trig)
	assert.Equal(t, int32(1), calc.allCalls.Load())
}

func TestTrigger_MarkerClearedAfterCompletion(t *testing.T) {
	calc := newFakeCalculator()
	close(calc.release)
	trig, svc := newTestTrigger(t, calc, time.Second)
	ctx := context.Background()

	assert.True(t, trig.Trigger(ctx, "u1", ScopeAll))
	waitDone(t, trig)

	claimed, err := svc.TryMarkComputing(ctx, "u1", ScopeAll)
	require.NoError(t, err)
	assert.True(t, claimed, "marker should be released once the recompute finishes")
	require.NoError(t, svc.ClearComputing(ctx, "u1", ScopeAll))

	assert.True(t, trig.Trigger(ctx, "u1", ScopeAll))
	waitDone(t, trig)
	assert.Equal(t, int32(2), calc.allCalls.Load())
}

func TestTrigger_MarkerClearedAfterFailure(t *testing.T) {
	calc := newFakeCalculator()
	calc.err = errors.New("raw store unavailable")
	close(calc.release)
	trig, svc := newTestTrigger(t, calc, time.Second)
	ctx := context.Background()

	assert.True(t, trig.Trigger(ctx, "u1", ScopeAll))
	waitDone(t, trig)

	claimed, err := svc.TryMarkComputing(ctx, "u1", ScopeAll)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestTrigger_HeldByAnotherInstance(t *testing.T) {
	calc := newFakeCalculator()
	trig, svc := newTestTrigger(t, calc, time.Second)
	ctx := context.Background()

	claimed, err := svc.TryMarkComputing(ctx, "u1", ScopeAll)
	require.NoError(t, err)
	require.True(t, claimed)

	assert.False(t, trig.Trigger(ctx, "u1", ScopeAll))
	waitDone(t, trig)
	assert.Zero(t, calc.allCalls.Load())
}

func TestTrigger_OutlivesRequestContext(t *testing.T) {
	calc := newFakeCalculator()
	trig, _ := newTestTrigger(t, calc, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, trig.Trigger(ctx, "u1", ScopeAll))
	cancel()

	close(calc.release)
	waitDone(t, trig)
	assert.Nil(t, calc.ctxErr.Load())
}

func TestTrigger_TimeoutBoundsRecompute(t *testing.T) {
	calc := newFakeCalculator()
	trig, _ := newTestTrigger(t, calc, 20*time.Millisecond)

	assert.True(t, trig.Trigger(context.Background(), "u1", ScopeAll))
	waitDone(t, trig)
	assert.Equal(t, context.DeadlineExceeded, calc.ctxErr.Load())
}

func TestTrigger_TimeframeScope(t *testing.T) {
	calc := newFakeCalculator()
	trig, _ := newTestTrigger(t, calc, time.Second)

	assert.True(t, trig.Trigger(context.Background(), "u1", string(models.TimeframeWeekly)))
	waitDone(t, trig)

	select {
	case tf := <-calc.timeframes:
		assert.Equal(t, models.TimeframeWeekly, tf)
	default:
		t.Fatal("expected a timeframe recompute")
	}
	assert.Zero(t, calc.allCalls.Load())
}

func TestTrigger_UnknownScope(t *testing.T) {
	calc := newFakeCalculator()
	trig, _ := newTestTrigger(t, calc, time.Second)

	assert.False(t, trig.Trigger(context.Background(), "u1", "hourly"))
	assert.Empty(t, calc.timeframes)
}

func TestTrigger_MarkerErrorStillRecomputes(t *testing.T) {
	calc := newFakeCalculator()
	redis := storage.NewMockRedisClient()
	redis.SetErr = errors.New("connection refused")
	svc := cache.NewService(redis, config.CacheConfig{KeyPrefix: "usercache"})
	trig := NewTrigger(calc, svc, time.Second)

	assert.True(t, trig.Trigger(context.Background(), "u1", ScopeAll))
	close(calc.release)
	waitDone(t, trig)
	assert.Equal(t, int32(1), calc.allCalls.Load())

	// Timeframe scope takes the same path
	assert.True(t, trig.Trigger(context.Background(), "u1", string(models.TimeframeWeekly)))
	waitDone(t, trig)
	assert.Equal(t, models.TimeframeWeekly, <-calc.timeframes)
}
