package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
)

const (
	// missedRunGrace is how late a tick may be before the run counts as missed
	missedRunGrace = 5 * time.Minute

	defaultTickInterval = time.Minute
	scheduledRunTimeout = time.Hour
)

// Runner is what the scheduler drives. *Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, routes Routes, trigger string) (RunResult, error)
	ThreadRegions(ctx context.Context) ([]string, error)
	RefreshThreads(ctx context.Context, region string) (RefreshResult, error)
}

// RoutesFunc resolves the routes at the start of each scheduled run so
// directory and config changes are picked up.
type RoutesFunc func(ctx context.Context) (Routes, error)

// Schedule is one daily run time.
type Schedule struct {
	Hour    int
	Minute  int
	LastRun time.Time
	NextRun time.Time
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Location       *time.Location // nil means UTC
	Times          []string       // HH:MM
	RefreshThreads bool           // refresh every region with tracked threads after a run
}

// Scheduler runs the pipeline at fixed wall clock times.
type Scheduler struct {
	runner    Runner
	routes    RoutesFunc
	loc       *time.Location
	refresh   bool
	schedules []Schedule
	now       func() time.Time
	tick      time.Duration
	log       logger.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	ctx       context.Context
	wg        sync.WaitGroup
	busy      atomic.Bool
	missed    atomic.Int64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock replaces time.Now.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithTickInterval sets how often schedules are checked.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tick = d }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l logger.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

// SchedulerConfigFromSettings resolves the schedule settings.
func SchedulerConfigFromSettings(s *conf.Settings) (SchedulerConfig, error) {
	cfg := SchedulerConfig{Times: s.Schedule.Times, RefreshThreads: s.Schedule.RefreshThreads, Location: time.UTC}
	if s.Schedule.Timezone != "" {
		loc, err := time.LoadLocation(s.Schedule.Timezone)
		if err != nil {
			return cfg, errors.New(err).
				Component("pipeline").
				Category(errors.CategoryConfiguration).
				Context("timezone", s.Schedule.Timezone).
				Build()
		}
		cfg.Location = loc
	}
	return cfg, nil
}

// NewScheduler creates a scheduler. Every time in cfg must parse as HH:MM.
func NewScheduler(runner Runner, routes RoutesFunc, cfg SchedulerConfig, opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		runner:  runner,
		routes:  routes,
		loc:     cfg.Location,
		refresh: cfg.RefreshThreads,
		now:     time.Now,
		tick:    defaultTickInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.log == nil {
		s.log = logger.Global().Module("scheduler")
	}

	now := s.now().In(s.loc)
	for _, clock := range cfg.Times {
		hour, minute, err := conf.ParseClock(clock)
		if err != nil {
			return nil, errors.New(err).
				Component("pipeline").
				Category(errors.CategoryConfiguration).
				Context("time", clock).
				Build()
		}
		s.schedules = append(s.schedules, Schedule{
			Hour:    hour,
			Minute:  minute,
			NextRun: calculateNextRun(now, hour, minute),
		})
	}
	return s, nil
}

// Start begins the schedule loop. It returns immediately; the loop ends on
// Stop or when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true

	s.wg.Go(func() { s.run(s.ctx) })
	s.log.Info("scheduler started",
		logger.String("timezone", s.loc.String()),
		logger.Int("schedules", len(s.schedules)))
}

// Stop cancels the loop and any run in progress and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.isRunning = false
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Schedules returns a copy of the schedules with their next run times.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, len(s.schedules))
	copy(out, s.schedules)
	return out
}

// MissedRuns returns how many runs were skipped because the tick came late
// or a previous run was still going.
func (s *Scheduler) MissedRuns() int64 {
	return s.missed.Load()
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkSchedules(ctx, s.now())
		}
	}
}

// checkSchedules starts a run for every schedule that is due.
func (s *Scheduler) checkSchedules(ctx context.Context, now time.Time) {
	now = now.In(s.loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.schedules {
		schedule := &s.schedules[i]
		if now.Before(schedule.NextRun) {
			continue
		}

		if late := now.Sub(schedule.NextRun); late > missedRunGrace {
			s.missed.Add(1)
			s.log.Warn("missed scheduled run",
				logger.String("scheduled", schedule.NextRun.Format(time.RFC3339)),
				logger.Duration("late", late))
		} else {
			s.wg.Go(func() { s.runScheduled(ctx) })
		}

		schedule.LastRun = now
		schedule.NextRun = calculateNextRun(now, schedule.Hour, schedule.Minute)
	}
}

// runScheduled runs the pipeline and the optional refresh. Overlapping calls
// are dropped.
func (s *Scheduler) runScheduled(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.missed.Add(1)
		s.log.Warn("previous run still in progress, skipping")
		return
	}
	defer s.busy.Store(false)

	ctx, cancel := context.WithTimeout(ctx, scheduledRunTimeout)
	defer cancel()

	routes, err := s.routes(ctx)
	if err != nil {
		s.log.Error("failed to resolve routes", logger.Error(err))
		return
	}

	result, err := s.runner.Run(ctx, routes, TriggerScheduled)
	if err != nil {
		s.log.Error("scheduled run aborted", logger.String("run_id", result.RunID), logger.Error(err))
		return
	}
	if failed := result.Failed(); len(failed) > 0 {
		s.log.Warn("scheduled run finished with failures",
			logger.String("run_id", result.RunID),
			logger.Int("failed", len(failed)))
	}

	if !s.refresh {
		return
	}
	regions, err := s.runner.ThreadRegions(ctx)
	if err != nil {
		s.log.Error("failed to list thread regions", logger.Error(err))
		return
	}
	for _, region := range regions {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.runner.RefreshThreads(ctx, region); err != nil {
			s.log.Warn("thread refresh failed", logger.String("region", region), logger.Error(err))
		}
	}
}

// calculateNextRun returns the first hour:minute strictly after now, in now's location.
func calculateNextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !now.Before(next) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}
	return next
}
