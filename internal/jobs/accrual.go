package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"nftrarity/internal/accrual"
)

// DefaultSchedule runs accrual daily at midnight
const DefaultSchedule = "0 0 * * *"

// Runner performs one accrual pass
type Runner interface {
	Run(ctx context.Context) (*accrual.RunReport, error)
}

// AccrualScheduler triggers accrual on a cron schedule and optionally once
// at start
type AccrualScheduler struct {
	runner     Runner
	schedule   string
	runOnStart bool
	logger     *slog.Logger

	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	// Metrics
	runs    atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	Schedule   string // standard five field cron spec, default midnight
	RunOnStart bool
}

// NewAccrualScheduler validates the schedule and returns a stopped scheduler
func NewAccrualScheduler(runner Runner, cfg SchedulerConfig, logger *slog.Logger) (*AccrualScheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid accrual schedule %q: %w", cfg.Schedule, err)
	}
	return &AccrualScheduler{
		runner:     runner,
		schedule:   cfg.Schedule,
		runOnStart: cfg.RunOnStart,
		logger:     logger,
	}, nil
}

// Start registers the cron job and begins scheduling
func (s *AccrualScheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("accrual scheduler already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{s.logger})))
	if _, err := s.cron.AddFunc(s.schedule, s.trigger); err != nil {
		s.running.Store(false)
		s.cancel()
		return fmt.Errorf("schedule accrual: %w", err)
	}
	s.cron.Start()

	s.logger.Info("accrual scheduler started", "schedule", s.schedule, "run_on_start", s.runOnStart)

	if s.runOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.trigger()
		}()
	}
	return nil
}

// Trigger runs one pass now, outside the schedule
func (s *AccrualScheduler) Trigger() {
	s.trigger()
}

func (s *AccrualScheduler) trigger() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	report, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, accrual.ErrRunInProgress):
		s.skipped.Add(1)
		s.logger.Warn("accrual run skipped, previous run still active")
	case err != nil:
		s.failed.Add(1)
		s.logger.Error("accrual run failed", "error", err, "took", time.Since(start))
	default:
		s.runs.Add(1)
		s.logger.Info("accrual run completed",
			"users", report.UsersProcessed,
			"failures", len(report.Failures),
			"took", time.Since(start))
	}
}

// Stop stops scheduling and waits for an in-flight run
func (s *AccrualScheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.logger.Info("stopping accrual scheduler")
	stopCtx := s.cron.Stop()
	s.cancel()
	<-stopCtx.Done()
	s.wg.Wait()
}

// GetMetrics returns run counters
func (s *AccrualScheduler) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"running":  s.running.Load(),
		"schedule": s.schedule,
		"runs":     s.runs.Load(),
		"skipped":  s.skipped.Load(),
		"failed":   s.failed.Load(),
	}
}

// cronLogger adapts slog to cron's logger interface
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
