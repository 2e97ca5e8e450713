package scheduler

import (
	"context"
	"errors"
	"fmt"
	"policy_reminder/internal/app" // For ReminderRunner interface
	"policy_reminder/internal/domain/reminder"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ReminderScheduler is the process-scoped handle of the expiry reminder job.
// It owns the cron engine and guards against overlapping runs.
type ReminderScheduler struct {
	cronEngine *cron.Cron
	runner     app.ReminderRunner
	logger     *logrus.Entry
	cronSpec   string
	runTimeout time.Duration
	onFinish   func(*reminder.RunReport)

	running atomic.Bool
	mu      sync.RWMutex
	last    *reminder.RunReport
	started bool
	entryID cron.EntryID
}

// Options configures a ReminderScheduler.
type Options struct {
	CronSpec   string         // e.g., "0 9 * * *" (09:00 daily)
	Location   *time.Location // cron timezone, defaults to time.Local
	RunTimeout time.Duration
	// OnFinish is called after every run, scheduled or manual.
	OnFinish func(*reminder.RunReport)
}

func NewReminderScheduler(runner app.ReminderRunner, logger *logrus.Entry, opts Options) *ReminderScheduler {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	timeout := opts.RunTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	cronLogger := cron.PrintfLogger(logger)
	return &ReminderScheduler{
		cronEngine: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		runner:     runner,
		logger:     logger,
		cronSpec:   opts.CronSpec,
		runTimeout: timeout,
		onFinish:   opts.OnFinish,
	}
}

// Start registers the reminder job and starts the cron engine.
func (s *ReminderScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("reminder scheduler already started")
	}

	s.logger.WithField("cron_spec", s.cronSpec).Info("Starting reminder scheduler")
	id, err := s.cronEngine.AddFunc(s.cronSpec, func() {
		s.logger.Info("Cron job triggered for expiry reminders")
		ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()
		if _, err := s.RunNow(ctx); err != nil {
			if errors.Is(err, reminder.ErrRunInProgress) {
				return
			}
			s.logger.WithError(err).Error("Scheduled expiry reminder run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("could not add reminder cron job %q: %w", s.cronSpec, err)
	}

	s.entryID = id
	s.cronEngine.Start()
	s.started = true
	s.logger.Info("Reminder scheduler started")
	return nil
}

// Stop stops scheduling new runs and waits for a running one to finish.
// The job is unregistered so a later Start registers it exactly once.
func (s *ReminderScheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	if started {
		s.cronEngine.Remove(s.entryID)
		s.entryID = 0
	}
	s.mu.Unlock()
	if !started {
		return
	}

	s.logger.Info("Stopping reminder scheduler...")
	ctx := s.cronEngine.Stop() // waits for running jobs
	<-ctx.Done()
	s.logger.Info("Reminder scheduler gracefully stopped")
}

// RunNow executes one run immediately unless another run is in progress,
// in which case it returns reminder.ErrRunInProgress without running.
func (s *ReminderScheduler) RunNow(ctx context.Context) (*reminder.RunReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Previous expiry reminder run still in progress, skipping")
		return nil, reminder.ErrRunInProgress
	}
	defer s.running.Store(false)

	report, err := s.runSafely(ctx)
	if report != nil {
		s.mu.Lock()
		s.last = report
		s.mu.Unlock()
		if s.onFinish != nil {
			s.onFinish(report)
		}
	}
	return report, err
}

func (s *ReminderScheduler) runSafely(ctx context.Context) (report *reminder.RunReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reminder run panicked: %v", r)
			report = &reminder.RunReport{StartedAt: time.Now(), FinishedAt: time.Now(), Err: err}
		}
	}()
	return s.runner.RunOnce(ctx)
}

// Running reports whether a run is currently executing.
func (s *ReminderScheduler) Running() bool {
	return s.running.Load()
}

// LastReport returns the report of the most recently finished run, or nil.
func (s *ReminderScheduler) LastReport() *reminder.RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
