package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// PollFunc runs one reconciliation pass.
type PollFunc func(ctx context.Context) error

// Scheduler fires PollFunc on a cron schedule. Ticks that arrive while a
// poll is still running are skipped, so polls never overlap.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	job     cron.Job
	entry   cron.EntryID
	poll    PollFunc
	logger  *slog.Logger
	timeout time.Duration
	base    context.Context

	running  atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
	lastErr  atomic.Value // string
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimeout bounds each poll. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New creates a new scheduler.
func New(poll PollFunc, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		poll:   poll,
		logger: logger,
		base:   context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	cl := cronLogger{logger}
	s.cron = cron.New(cron.WithLogger(cl))
	s.job = cron.NewChain(cron.Recover(cl)).Then(cron.FuncJob(s.run))
	return s
}

// SetSchedule installs the poll schedule, replacing any previous one. The
// schedule is a standard 5-field cron expression or a descriptor such as
// "@every 60s".
func (s *Scheduler) SetSchedule(spec string) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = s.cron.Schedule(sched, s.job)
	s.logger.Info("poll schedule registered", "schedule", spec)
	return nil
}

// Start runs one poll immediately, then polls on schedule. It blocks until
// ctx is cancelled and returns once any in-flight poll has finished.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.job.Run()
	}()

	s.cron.Start()
	s.logger.Info("scheduler started")

	<-ctx.Done()
	s.logger.Info("scheduler stopping, waiting for in-flight poll")
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) run() {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Warn("previous poll still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	// Cancelling the scheduler must not interrupt a poll halfway through
	// its writes; shutdown waits for it instead.
	ctx := context.WithoutCancel(base)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.runs.Add(1)
	if err := s.poll(ctx); err != nil {
		s.failures.Add(1)
		s.lastErr.Store(err.Error())
		s.logger.Error("poll failed", "error", err)
		return
	}
	s.lastErr.Store("")
}

// Stats is a snapshot of scheduler activity.
type Stats struct {
	Runs      int64     `json:"runs"`
	Skipped   int64     `json:"skipped"`
	Failures  int64     `json:"failures"`
	Running   bool      `json:"running"`
	LastError string    `json:"last_error,omitempty"`
	Next      time.Time `json:"next,omitzero"`
}

// Stats returns counters and the next scheduled poll time.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Runs:     s.runs.Load(),
		Skipped:  s.skipped.Load(),
		Failures: s.failures.Load(),
		Running:  s.running.Load(),
	}
	if v, ok := s.lastErr.Load().(string); ok {
		st.LastError = v
	}
	s.mu.Lock()
	entry := s.entry
	s.mu.Unlock()
	if entry != 0 {
		st.Next = s.cron.Entry(entry).Next
	}
	return st
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
