package mailroute

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultReclaimSchedule runs reclamation hourly.
const DefaultReclaimSchedule = "@every 1h"

// Reclaimer is the part of Engine a Scheduler drives.
type Reclaimer interface {
	Reclaim(ctx context.Context) (*ReclaimResult, error)
}

// Scheduler runs Reclaim on a cron schedule, so reads can skip the
// implicit sweep (WithReclaimOnRead(false)). Runs never overlap.
type Scheduler struct {
	reclaimer Reclaimer
	logger    *slog.Logger
	timeout   time.Duration
	schedule  string
	cron      *cron.Cron

	mu   sync.Mutex
	last RunStatus
}

// RunStatus describes the most recent reclaim run.
type RunStatus struct {
	Result *ReclaimResult
	Err    error
	// At is when the run finished; zero when nothing has run yet.
	At time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedule sets the cron expression, such as "@every 10m" or "0 3 * * *".
// Default is DefaultReclaimSchedule.
func WithSchedule(expr string) SchedulerOption {
	return func(s *Scheduler) {
		if expr != "" {
			s.schedule = expr
		}
	}
}

// WithSchedulerLogger sets the scheduler's logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRunTimeout bounds each reclaim run. Default is 5 minutes.
func WithRunTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewScheduler creates a stopped scheduler. The schedule is validated here.
func NewScheduler(r Reclaimer, opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		reclaimer: r,
		logger:    slog.Default(),
		timeout:   5 * time.Minute,
		schedule:  DefaultReclaimSchedule,
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{s.logger}
	s.cron = cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return nil, fmt.Errorf("mailroute: invalid reclaim schedule %q: %w", s.schedule, err)
	}
	return s, nil
}

// Start begins running reclaim on schedule.
func (s *Scheduler) Start() {
	s.logger.Info("reclaim scheduler started", "schedule", s.schedule)
	s.cron.Start()
}

// Stop stops the schedule and waits for a running reclaim to finish or
// ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a reclaim immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (*ReclaimResult, error) {
	result, err := s.reclaimer.Reclaim(ctx)
	s.mu.Lock()
	s.last = RunStatus{Result: result, Err: err, At: time.Now()}
	s.mu.Unlock()
	return result, err
}

// Last returns the status of the most recent run.
func (s *Scheduler) Last() RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunNow(ctx); err != nil {
		s.logger.Error("scheduled reclaim failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
