package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingJob struct {
	name    string
	runs    atomic.Int32
	started chan struct{}
	release chan struct{}
	err     error
}

func newBlockingJob(name string) *blockingJob {
	return &blockingJob{
		name:    name,
		started: make(chan struct{}, 10),
		release: make(chan struct{}),
	}
}

func (j *blockingJob) Name() string { return j.name }

func (j *blockingJob) Run(ctx context.Context) (Summary, error) {
	j.runs.Add(1)
	j.started <- struct{}{}
	select {
	case <-j.release:
	case <-ctx.Done():
		return Summary{Job: j.name}, ctx.Err()
	}
	return Summary{Job: j.name, Total: 1, Succeeded: 1}, j.err
}

func TestScheduler_SkipsOverlappingRun(t *testing.T) {
	s := NewScheduler(false)
	job := newBlockingJob("slow")
	s.Register(job, time.Hour)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), "slow")
		done <- err
	}()
	<-job.started

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(job.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), job.runs.Load())

	last, ok := s.LastRun("slow")
	require.True(t, ok)
	assert.Equal(t, 1, last.Succeeded)

	// Guard released after completion
	_, err = s.RunNow(context.Background(), "slow")
	assert.NoError(t, err)
}

func TestScheduler_RunOnStart(t *testing.T) {
	s := NewScheduler(true)
	job := newBlockingJob("warmup")
	close(job.release)
	s.Register(job, time.Hour)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())

	select {
	case <-job.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestScheduler_TicksAndStopCancelsRun(t *testing.T) {
	s := NewScheduler(false)
	job := newBlockingJob("ticker")
	s.Register(job, 10*time.Millisecond)

	require.NoError(t, s.Start())
	select {
	case <-job.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on tick")
	}

	// The run blocks until its context is cancelled by Stop
	s.Stop()
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestScheduler_FailedRunIsNotRecorded(t *testing.T) {
	s := NewScheduler(false)
	job := newBlockingJob("flaky")
	job.err = errors.New("list failed")
	close(job.release)
	s.Register(job, time.Hour)

	_, err := s.RunNow(context.Background(), "flaky")
	assert.Error(t, err)
	_, ok := s.LastRun("flaky")
	assert.False(t, ok)
}

func TestScheduler_UnknownJob(t *testing.T) {
	s := NewScheduler(false)
	_, err := s.RunNow(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownJob)
}
