package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"rentbridge.com/app/internal/database"
)

const (
	DefaultInterval = 2 * time.Hour
	lockName        = "rentbridge.escrow_sweep"
)

var ErrSweepRunning = errors.New("escrow sweep already running")

// Releaser releases every held payment whose hold has elapsed.
type Releaser interface {
	ReleaseDue(ctx context.Context) (int, error)
}

type Options struct {
	// Schedule is a standard five-field cron expression or descriptor
	// ("@hourly", "@every 90m"). Empty derives it from Interval.
	Schedule string
	Interval time.Duration
	Location *time.Location
	Locker   database.Locker
	Logger   *slog.Logger
	Now      func() time.Time
}

// Status is a snapshot for the admin endpoint.
type Status struct {
	Started      bool       `json:"started"`
	Running      bool       `json:"running"`
	Schedule     string     `json:"schedule"`
	Interval     string     `json:"interval"`
	LastRunAt    *time.Time `json:"lastRunAt"`
	LastDuration string     `json:"lastDuration,omitempty"`
	LastReleased int        `json:"lastReleased"`
	LastSkipped  bool       `json:"lastSkipped"`
	LastError    string     `json:"lastError,omitempty"`
	NextRunAt    *time.Time `json:"nextRunAt"`
}

// Scheduler runs the auto-release sweep on a cron schedule. One sweep at a
// time per process; Locker extends that across instances.
type Scheduler struct {
	releaser Releaser
	spec     string
	schedule cron.Schedule
	interval time.Duration
	loc      *time.Location
	locker   database.Locker
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool

	mu     sync.Mutex
	cron   *cron.Cron
	entry  cron.EntryID
	cancel context.CancelFunc
	last   Status
}

func New(r Releaser, opts Options) (*Scheduler, error) {
	s := &Scheduler{
		releaser: r,
		interval: opts.Interval,
		loc:      opts.Location,
		locker:   opts.Locker,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.locker == nil {
		s.locker = database.NoopLocker{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.spec = opts.Schedule
	if s.spec == "" {
		s.spec = specFor(s.interval)
	}
	sched, err := cron.ParseStandard(s.spec)
	if err != nil {
		return nil, fmt.Errorf("escrow schedule %q: %w", s.spec, err)
	}
	s.schedule = sched
	return s, nil
}

// specFor turns an interval into a cron expression aligned to boundaries
// counted from midnight when the interval divides the hour or the day.
func specFor(d time.Duration) string {
	if d%time.Hour == 0 {
		if h := int(d / time.Hour); h == 24 {
			return "0 0 * * *"
		} else if h >= 1 && 24%h == 0 {
			return fmt.Sprintf("0 */%d * * *", h)
		}
	}
	if d%time.Minute == 0 {
		if m := int(d / time.Minute); m >= 1 && m < 60 && 60%m == 0 {
			return fmt.Sprintf("*/%d * * * *", m)
		}
	}
	return "@every " + d.String()
}

// Start launches the cron runner. Calling it twice is a no-op. Cancelling ctx
// stops the scheduler like Stop does.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.entry = c.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.sweep(runCtx); errors.Is(err, ErrSweepRunning) {
			s.logger.Warn("escrow sweep skipped, previous run still active")
		}
	}))
	s.cron = c
	s.cancel = cancel
	c.Start()

	go func() {
		<-runCtx.Done()
		s.stop(c)
	}()
	s.logger.Info("escrow scheduler started", "schedule", s.spec, "next_run_at", s.nextRun(s.now()))
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c != nil {
		s.stop(c)
	}
}

func (s *Scheduler) stop(c *cron.Cron) {
	s.mu.Lock()
	if s.cron != c {
		s.mu.Unlock()
		return
	}
	s.cron = nil
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	s.logger.Info("escrow scheduler stopped")
}

// Trigger runs one sweep now, unless one is already running.
func (s *Scheduler) Trigger(ctx context.Context) (int, error) {
	return s.sweep(ctx)
}

func (s *Scheduler) sweep(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, ErrSweepRunning
	}
	defer s.running.Store(false)

	start := s.now()
	released, err := s.runLocked(ctx)
	took := s.now().Sub(start)
	skipped := errors.Is(err, database.ErrLockHeld)
	if skipped {
		released, err = 0, nil
	}

	s.mu.Lock()
	at := start.In(s.loc)
	s.last.LastRunAt = &at
	s.last.LastDuration = took.String()
	s.last.LastReleased = released
	s.last.LastSkipped = skipped
	s.last.LastError = ""
	if err != nil {
		s.last.LastError = err.Error()
	}
	s.mu.Unlock()

	switch {
	case skipped:
		s.logger.InfoContext(ctx, "escrow sweep skipped, lock held elsewhere", "at", at)
	case err != nil:
		s.logger.ErrorContext(ctx, "escrow sweep failed", "at", at, "duration", took.String(), "released", released, "err", err)
	default:
		s.logger.InfoContext(ctx, "escrow sweep finished", "at", at, "duration", took.String(), "released", released)
	}
	return released, err
}

func (s *Scheduler) runLocked(ctx context.Context) (int, error) {
	release, err := s.locker.Acquire(ctx, lockName)
	if err != nil {
		return 0, err
	}
	defer release()
	return s.releaser.ReleaseDue(ctx)
}

// nextRun is the first scheduled time strictly after t, in the scheduler's location.
func (s *Scheduler) nextRun(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.last
	st.Started = s.cron != nil
	st.Running = s.running.Load()
	st.Schedule = s.spec
	st.Interval = s.interval.String()
	if s.cron != nil {
		next := s.cron.Entry(s.entry).Next
		if next.IsZero() {
			// The runner fills Next on its first pass.
			next = s.nextRun(s.now())
		}
		next = next.In(s.loc)
		st.NextRunAt = &next
	}
	return st
}

// cronLogger routes the runner's own messages into slog. Its info output is
// scheduling chatter, so it goes to debug.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
