package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/logger"
)

type fakeRunner struct {
	mu            sync.Mutex
	runs          []string
	refreshed     []string
	threadRegions []string
	regionsErr    error
	runErr        error
	block         chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, routes Routes, trigger string) (RunResult, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return RunResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, trigger)
	return RunResult{RunID: "run"}, f.runErr
}

func (f *fakeRunner) ThreadRegions(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threadRegions, f.regionsErr
}

func (f *fakeRunner) RefreshThreads(_ context.Context, region string) (RefreshResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, region)
	return RefreshResult{Region: region}, nil
}

func (f *fakeRunner) snapshot() (runs, refreshed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.runs...), append([]string(nil), f.refreshed...)
}

func staticRoutes(codes ...string) RoutesFunc {
	var routes []Route
	for _, c := range codes {
		routes = append(routes, Route{Region: c, Destination: "dest-" + c})
	}
	return func(context.Context) (Routes, error) { return NewRoutes(routes...), nil }
}

func mustDenver(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)
	return loc
}

func newTestScheduler(t *testing.T, runner Runner, routes RoutesFunc, cfg SchedulerConfig, now time.Time) *Scheduler {
	t.Helper()
	s, err := NewScheduler(runner, routes, cfg,
		WithSchedulerClock(func() time.Time { return now }),
		WithSchedulerLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)
	return s
}

func TestCalculateNextRun(t *testing.T) {
	t.Parallel()

	loc := mustDenver(t)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"later today", time.Date(2024, 6, 15, 6, 0, 0, 0, loc), time.Date(2024, 6, 15, 7, 0, 0, 0, loc)},
		{"exactly now", time.Date(2024, 6, 15, 7, 0, 0, 0, loc), time.Date(2024, 6, 16, 7, 0, 0, 0, loc)},
		{"just before", time.Date(2024, 6, 15, 6, 59, 59, 0, loc), time.Date(2024, 6, 15, 7, 0, 0, 0, loc)},
		{"already past", time.Date(2024, 6, 15, 7, 0, 1, 0, loc), time.Date(2024, 6, 16, 7, 0, 0, 0, loc)},
		{"month end", time.Date(2024, 6, 30, 18, 0, 0, 0, loc), time.Date(2024, 7, 1, 7, 0, 0, 0, loc)},
		// spring forward keeps the wall clock
		{"across DST", time.Date(2024, 3, 9, 8, 0, 0, 0, loc), time.Date(2024, 3, 10, 7, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calculateNextRun(tt.now, 7, 0)
			assert.True(t, tt.want.Equal(got), "want %v got %v", tt.want, got)
		})
	}
}

func TestNewSchedulerRejectsBadTimes(t *testing.T) {
	t.Parallel()

	_, err := NewScheduler(&fakeRunner{}, staticRoutes(), SchedulerConfig{Times: []string{"07:00", "25:99"}})
	require.Error(t, err)
}

func TestSchedulerConfigFromSettings(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{}
	s.Schedule.Timezone = "America/Denver"
	s.Schedule.Times = []string{"07:00", "17:00"}
	s.Schedule.RefreshThreads = true

	cfg, err := SchedulerConfigFromSettings(s)
	require.NoError(t, err)
	assert.Equal(t, "America/Denver", cfg.Location.String())
	assert.True(t, cfg.RefreshThreads)

	s.Schedule.Timezone = "Mars/Olympus_Mons"
	_, err = SchedulerConfigFromSettings(s)
	require.Error(t, err)
}

func TestCheckSchedulesRunsDueSchedule(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	loc := mustDenver(t)
	// US-CO-041 has threads but no route
	runner := &fakeRunner{threadRegions: []string{"US-CO-013", "US-CO-031", "US-CO-041"}}
	s := newTestScheduler(t, runner, staticRoutes("US-CO-013", "US-CO-031"),
		SchedulerConfig{Location: loc, Times: []string{"07:00", "17:00"}, RefreshThreads: true},
		time.Date(2024, 6, 15, 6, 55, 0, 0, loc))

	s.checkSchedules(t.Context(), time.Date(2024, 6, 15, 13, 0, 30, 0, time.UTC)) // 07:00:30 in Denver
	s.wg.Wait()

	runs, refreshed := runner.snapshot()
	assert.Equal(t, []string{TriggerScheduled}, runs)
	assert.Equal(t, []string{"US-CO-013", "US-CO-031", "US-CO-041"}, refreshed)

	schedules := s.Schedules()
	require.Len(t, schedules, 2)
	assert.True(t, schedules[0].NextRun.Equal(time.Date(2024, 6, 16, 7, 0, 0, 0, loc)))
	assert.True(t, schedules[1].NextRun.Equal(time.Date(2024, 6, 15, 17, 0, 0, 0, loc)))
	assert.Zero(t, s.MissedRuns())
}

func TestCheckSchedulesTickOnScheduledInstantRunsOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	loc := mustDenver(t)
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, staticRoutes("US-CO-013"),
		SchedulerConfig{Location: loc, Times: []string{"07:00"}},
		time.Date(2024, 6, 15, 6, 59, 0, 0, loc))

	s.checkSchedules(t.Context(), time.Date(2024, 6, 15, 7, 0, 0, 0, loc))
	s.wg.Wait()
	assert.True(t, s.Schedules()[0].NextRun.Equal(time.Date(2024, 6, 16, 7, 0, 0, 0, loc)))

	s.checkSchedules(t.Context(), time.Date(2024, 6, 15, 7, 1, 0, 0, loc))
	s.wg.Wait()

	runs, _ := runner.snapshot()
	assert.Equal(t, []string{TriggerScheduled}, runs)
	assert.Zero(t, s.MissedRuns())
}

func TestScheduledRefreshListErrorSkipsRefresh(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{threadRegions: []string{"US-CO-013"}, regionsErr: errors.New("store down")}
	s := newTestScheduler(t, runner, staticRoutes("US-CO-013"), SchedulerConfig{RefreshThreads: true}, testNow)

	s.runScheduled(t.Context())

	runs, refreshed := runner.snapshot()
	assert.Equal(t, []string{TriggerScheduled}, runs)
	assert.Empty(t, refreshed)
}

func TestCheckSchedulesSkipsLateRun(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	loc := mustDenver(t)
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, staticRoutes("US-CO-013"),
		SchedulerConfig{Location: loc, Times: []string{"07:00"}},
		time.Date(2024, 6, 15, 6, 55, 0, 0, loc))

	s.checkSchedules(t.Context(), time.Date(2024, 6, 15, 7, 10, 0, 0, loc))
	s.wg.Wait()

	runs, _ := runner.snapshot()
	assert.Empty(t, runs)
	assert.Equal(t, int64(1), s.MissedRuns())
	assert.True(t, s.Schedules()[0].NextRun.Equal(time.Date(2024, 6, 16, 7, 0, 0, 0, loc)))
}

func TestScheduledRunsDoNotOverlap(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{block: make(chan struct{})}
	s := newTestScheduler(t, runner, staticRoutes("US-CO-013"), SchedulerConfig{}, testNow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.runScheduled(t.Context())
	}()

	require.Eventually(t, s.busy.Load, time.Second, time.Millisecond)
	s.runScheduled(t.Context())
	assert.Equal(t, int64(1), s.MissedRuns())

	close(runner.block)
	<-done

	runs, refreshed := runner.snapshot()
	assert.Equal(t, []string{TriggerScheduled}, runs)
	assert.Empty(t, refreshed)
}

func TestScheduledRunRouteError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{}
	failing := func(context.Context) (Routes, error) { return Routes{}, errors.New("directory empty") }
	s := newTestScheduler(t, runner, failing, SchedulerConfig{RefreshThreads: true}, testNow)

	s.runScheduled(t.Context())

	runs, refreshed := runner.snapshot()
	assert.Empty(t, runs)
	assert.Empty(t, refreshed)
	assert.False(t, s.busy.Load())
}

func TestSchedulerStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newTestScheduler(t, &fakeRunner{}, staticRoutes(), SchedulerConfig{Times: []string{"07:00"}}, testNow)

	s.Start(t.Context())
	s.Start(t.Context())
	assert.True(t, s.IsRunning())

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())
}
