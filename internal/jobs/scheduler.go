package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

var (
	jobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Batch job runs by result",
		},
		[]string{"job", "result"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Batch job run duration",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"job"},
	)

	jobUsers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_users_total",
			Help: "Users processed by batch jobs by outcome",
		},
		[]string{"job", "outcome"},
	)

	jobLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "job_last_success_timestamp_seconds",
			Help: "Unix time of the last run that listed its users and finished",
		},
		[]string{"job"},
	)
)

// ErrJobRunning is returned when a run is requested while the previous one is still going
var ErrJobRunning = errors.New("job is already running")

// ErrUnknownJob is returned by RunNow for an unregistered name
var ErrUnknownJob = errors.New("unknown job")

type scheduledJob struct {
	job      Job
	interval time.Duration
	running  atomic.Bool
	lastRun  atomic.Pointer[Summary]
}

// Scheduler runs each registered job on its own interval. A tick that lands
// while the previous run of the same job is still going is skipped, and a
// failed run waits for the next tick.
type Scheduler struct {
	jobs       []*scheduledJob
	runOnStart bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewScheduler creates a new scheduler
func NewScheduler(runOnStart bool) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runOnStart: runOnStart,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Register adds a job. It must be called before Start.
func (s *Scheduler) Register(job Job, interval time.Duration) {
	s.jobs = append(s.jobs, &scheduledJob{job: job, interval: interval})
}

// Start starts one ticker loop per job
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true

	for _, sj := range s.jobs {
		if sj.interval <= 0 {
			logger.Warn("Job disabled, non-positive interval", logger.String("job", sj.job.Name()))
			continue
		}
		logger.Info("Scheduling job",
			logger.String("job", sj.job.Name()),
			logger.Duration("interval", sj.interval),
		)
		s.wg.Add(1)
		go s.loop(sj)
	}
	return nil
}

// Stop cancels in-flight runs and waits for the loops to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	logger.Info("Stopping scheduler")
	s.cancel()
	s.wg.Wait()
	logger.Info("Scheduler stopped")
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RunNow runs a job immediately in the caller's goroutine, honouring the overlap guard
func (s *Scheduler) RunNow(ctx context.Context, name string) (Summary, error) {
	for _, sj := range s.jobs {
		if sj.job.Name() == name {
			return s.run(ctx, sj)
		}
	}
	return Summary{}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
}

// LastRun returns the summary of a job's most recent completed run
func (s *Scheduler) LastRun(name string) (Summary, bool) {
	for _, sj := range s.jobs {
		if sj.job.Name() == name {
			if last := sj.lastRun.Load(); last != nil {
				return *last, true
			}
			return Summary{}, false
		}
	}
	return Summary{}, false
}

func (s *Scheduler) loop(sj *scheduledJob) {
	defer s.wg.Done()

	if s.runOnStart {
		s.runAsync(sj)
	}

	ticker := time.NewTicker(sj.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runAsync(sj)
		}
	}
}

// runAsync keeps the ticker loop free so overlapping ticks are observed and skipped
func (s *Scheduler) runAsync(sj *scheduledJob) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.run(s.ctx, sj); errors.Is(err, ErrJobRunning) {
			jobRuns.WithLabelValues(sj.job.Name(), "skipped").Inc()
			logger.Warn("Skipping job run, previous run still in progress", logger.String("job", sj.job.Name()))
		}
	}()
}

func (s *Scheduler) run(ctx context.Context, sj *scheduledJob) (Summary, error) {
	name := sj.job.Name()
	if !sj.running.CompareAndSwap(false, true) {
		return Summary{Job: name}, ErrJobRunning
	}
	defer sj.running.Store(false)

	start := time.Now()
	logger.Info("Job started", logger.String("job", name))

	summary, err := sj.job.Run(ctx)
	jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	jobUsers.WithLabelValues(name, "succeeded").Add(float64(summary.Succeeded))
	jobUsers.WithLabelValues(name, "failed").Add(float64(summary.Failed))

	if err != nil {
		jobRuns.WithLabelValues(name, "error").Inc()
		logger.Error("Job run aborted, will retry on next schedule",
			logger.ErrorField(err),
			logger.String("job", name),
			logger.Int("processed", summary.Succeeded+summary.Failed),
		)
		return summary, err
	}

	jobRuns.WithLabelValues(name, "ok").Inc()
	jobLastSuccess.WithLabelValues(name).SetToCurrentTime()
	sj.lastRun.Store(&summary)
	logger.Info("Job finished",
		logger.String("job", name),
		logger.Int("users", summary.Total),
		logger.Int("succeeded", summary.Succeeded),
		logger.Int("failed", summary.Failed),
		logger.Duration("duration", time.Since(start)),
	)
	return summary, nil
}
