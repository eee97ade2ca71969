package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/johnayoung/go-ohlcv-archiver/internal/config"
	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// BatchRunner runs one batch of instruments. *Orchestrator implements it.
type BatchRunner interface {
	DownloadBatch(ctx context.Context, ids []string) (map[string]models.Outcome, error)
}

// SchedulerStats provides scheduler run counters
type SchedulerStats struct {
	CompletedRuns int64
	FailedRuns    int64
	SkippedRuns   int64
	LastRunTime   time.Time
	NextRunTime   time.Time
	LastSucceeded int
	LastFailed    int
	UptimeSeconds int64
	MemoryUsageMB float64
}

var (
	ErrSchedulerRunning    = errors.New("scheduler is already running")
	ErrSchedulerNotRunning = errors.New("scheduler is not running")
)

// DailyScheduler runs a batch once per day at a fixed wall-clock time.
// Overlapping runs are never started; a run still in progress at the next
// trigger causes that trigger to be skipped.
type DailyScheduler struct {
	cfg         config.SchedulerConfig
	runner      BatchRunner
	instruments []string
	logger      *slog.Logger

	cron *gocron.Scheduler
	job  *gocron.Job

	isRunning int32
	isPaused  int32
	inFlight  int32
	startTime time.Time

	completedRuns int64
	failedRuns    int64
	skippedRuns   int64

	mu            sync.RWMutex
	ctx           context.Context
	lastRunTime   time.Time
	lastSucceeded int
	lastFailed    int
}

// NewDailyScheduler creates a scheduler that runs instruments through runner at
// cfg.At in cfg.Timezone.
func NewDailyScheduler(cfg config.SchedulerConfig, runner BatchRunner, instruments []string, logger *slog.Logger) (*DailyScheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		return nil, errors.New("batch runner is required")
	}
	if len(instruments) == 0 {
		return nil, errors.New("no instruments to schedule")
	}

	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	if cfg.At == "" {
		cfg.At = "16:30"
	}

	s := &DailyScheduler{
		cfg:         cfg,
		runner:      runner,
		instruments: append([]string(nil), instruments...),
		logger:      logger.With("component", "scheduler"),
		cron:        gocron.NewScheduler(loc),
		ctx:         context.Background(),
	}

	job, err := s.cron.Every(1).Day().At(cfg.At).SingletonMode().Do(s.trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule daily run at %q: %w", cfg.At, err)
	}
	s.job = job
	return s, nil
}

// Start begins scheduling. Runs started by the schedule inherit ctx, so
// cancelling it interrupts a batch in progress.
func (s *DailyScheduler) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.isRunning, 0, 1) {
		return ErrSchedulerRunning
	}

	s.mu.Lock()
	s.ctx = ctx
	s.startTime = time.Now()
	s.mu.Unlock()

	s.cron.StartAsync()
	s.logger.Info("scheduler started",
		"at", s.cfg.At,
		"timezone", s.cron.Location().String(),
		"instruments", len(s.instruments),
		"next_run", s.NextRun())
	return nil
}

// Stop halts scheduling. A run in progress is not waited for.
func (s *DailyScheduler) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.isRunning, 1, 0) {
		return ErrSchedulerNotRunning
	}
	s.cron.Stop()
	s.logger.Info("scheduler stopped",
		"completed_runs", atomic.LoadInt64(&s.completedRuns),
		"failed_runs", atomic.LoadInt64(&s.failedRuns))
	return nil
}

// Pause makes scheduled triggers no-ops until Resume is called.
func (s *DailyScheduler) Pause() {
	if atomic.CompareAndSwapInt32(&s.isPaused, 0, 1) {
		s.logger.Info("scheduler paused")
	}
}

// Resume re-enables scheduled triggers.
func (s *DailyScheduler) Resume() {
	if atomic.CompareAndSwapInt32(&s.isPaused, 1, 0) {
		s.logger.Info("scheduler resumed", "next_run", s.NextRun())
	}
}

// IsRunning returns whether the scheduler is running
func (s *DailyScheduler) IsRunning() bool {
	return atomic.LoadInt32(&s.isRunning) == 1
}

// IsPaused returns whether the scheduler is paused
func (s *DailyScheduler) IsPaused() bool {
	return atomic.LoadInt32(&s.isPaused) == 1
}

// NextRun returns the time of the next scheduled trigger.
func (s *DailyScheduler) NextRun() time.Time {
	return s.job.NextRun()
}

// RunNow runs a batch immediately, outside the schedule. It fails if a batch is
// already in progress.
func (s *DailyScheduler) RunNow(ctx context.Context) (map[string]models.Outcome, error) {
	if !atomic.CompareAndSwapInt32(&s.inFlight, 0, 1) {
		return nil, errors.New("a batch is already in progress")
	}
	defer atomic.StoreInt32(&s.inFlight, 0)
	return s.run(ctx)
}

// GetStats returns scheduler run counters
func (s *DailyScheduler) GetStats() SchedulerStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var uptime int64
	if s.IsRunning() {
		uptime = int64(time.Since(s.startTime).Seconds())
	}

	return SchedulerStats{
		CompletedRuns: atomic.LoadInt64(&s.completedRuns),
		FailedRuns:    atomic.LoadInt64(&s.failedRuns),
		SkippedRuns:   atomic.LoadInt64(&s.skippedRuns),
		LastRunTime:   s.lastRunTime,
		NextRunTime:   s.job.NextRun(),
		LastSucceeded: s.lastSucceeded,
		LastFailed:    s.lastFailed,
		UptimeSeconds: uptime,
		MemoryUsageMB: float64(memStats.Alloc) / 1024 / 1024,
	}
}

// trigger is invoked by gocron at the scheduled time.
func (s *DailyScheduler) trigger() {
	if s.IsPaused() {
		atomic.AddInt64(&s.skippedRuns, 1)
		s.logger.Info("scheduled run skipped while paused")
		return
	}
	if !atomic.CompareAndSwapInt32(&s.inFlight, 0, 1) {
		atomic.AddInt64(&s.skippedRuns, 1)
		s.logger.Warn("scheduled run skipped, previous batch still in progress")
		return
	}
	defer atomic.StoreInt32(&s.inFlight, 0)

	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	if _, err := s.run(ctx); err != nil {
		s.logger.Error("scheduled run failed", "error", err)
	}
}

func (s *DailyScheduler) run(ctx context.Context) (map[string]models.Outcome, error) {
	start := time.Now()
	s.logger.Info("batch run starting", "instruments", len(s.instruments))

	outcomes, err := s.runner.DownloadBatch(ctx, s.instruments)

	succeeded, failed := 0, 0
	for _, o := range outcomes {
		if o.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}

	s.mu.Lock()
	s.lastRunTime = start
	s.lastSucceeded = succeeded
	s.lastFailed = failed
	s.mu.Unlock()

	if err != nil {
		atomic.AddInt64(&s.failedRuns, 1)
		return outcomes, err
	}
	atomic.AddInt64(&s.completedRuns, 1)
	s.logger.Info("batch run finished",
		"succeeded", succeeded,
		"failed", failed,
		"duration", time.Since(start),
		"next_run", s.NextRun())
	return outcomes, nil
}
