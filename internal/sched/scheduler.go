// Package sched owns the recurring scrape jobs: one per profile, dispatched
// from a central tick loop onto a bounded worker pool. It enforces the
// interval floor, coalesces overlapping ticks per profile, and survives
// worker panics.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/fundawatch/internal/metrics"
	"github.com/hazyhaar/fundawatch/internal/store"
	"github.com/hazyhaar/fundawatch/internal/timefmt"
)

// ErrUnknownJob is returned when an operation names a profile that has no
// registered job.
var ErrUnknownJob = errors.New("sched: unknown job")

// sentinelID is the startup no-op job that proves the dispatch path works.
const sentinelID = "startup-sentinel"

// CycleFunc runs one scrape cycle for a profile. It handles its own
// errors; the scheduler only bounds its runtime.
type CycleFunc func(ctx context.Context, profileID string)

// ProfileSource yields the persisted profile set for reconciliation.
type ProfileSource interface {
	ListProfiles() ([]store.ProfileSpec, error)
}

// Config configures the Scheduler.
type Config struct {
	// MaxConcurrent bounds simultaneous cycles. Default: 3.
	MaxConcurrent int

	// Floor is the minimum effective interval. 30m in constrained
	// deployments; never below 1m. Default: 1m.
	Floor time.Duration

	// AcquireTimeout bounds the wait for a worker slot; on timeout the
	// tick is dropped. Default: 120s.
	AcquireTimeout time.Duration

	// CycleBudget is the hard wall-clock limit per cycle. Default: 10m.
	CycleBudget time.Duration

	// CleanupGrace is how long an interrupted cycle gets to unwind.
	// Default: 30s.
	CleanupGrace time.Duration

	// MisfireGrace: a tick this late still fires once; later ones skip to
	// the next cadence point. Default: 1h.
	MisfireGrace time.Duration

	// Heartbeat is the reconciliation cadence. Zero means hourly on the
	// hour; constrained deployments set 30s.
	Heartbeat time.Duration

	// StaggerMin/StaggerMax bound the random first-fire delay of newly
	// added jobs. Defaults: 2m and 7m.
	StaggerMin time.Duration
	StaggerMax time.Duration

	Logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func (c *Config) defaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.Floor < time.Minute {
		c.Floor = time.Minute
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 120 * time.Second
	}
	if c.CycleBudget <= 0 {
		c.CycleBudget = 10 * time.Minute
	}
	if c.CleanupGrace <= 0 {
		c.CleanupGrace = 30 * time.Second
	}
	if c.MisfireGrace <= 0 {
		c.MisfireGrace = time.Hour
	}
	if c.StaggerMin <= 0 {
		c.StaggerMin = 2 * time.Minute
	}
	if c.StaggerMax <= c.StaggerMin {
		c.StaggerMax = 7 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
}

// job is one registry entry.
type job struct {
	id       string
	name     string
	interval time.Duration
	nextRun  time.Time
	inFlight bool
	oneShot  bool
}

// JobStatus is the externally visible view of one job.
type JobStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	NextRunTime string `json:"next_run_time"`
	Trigger     string `json:"trigger"`
}

// Status is the scheduler snapshot served by the status endpoint.
type Status struct {
	IsRunning        bool        `json:"is_running"`
	SchedulerRunning bool        `json:"scheduler_running"`
	JobsExecuted     int64       `json:"jobs_executed"`
	ScheduledJobs    int         `json:"scheduled_jobs"`
	LateJobs         []string    `json:"late_jobs"`
	Jobs             []JobStatus `json:"jobs"`
}

// Scheduler dispatches profile jobs onto the worker pool.
type Scheduler struct {
	cfg    Config
	run    CycleFunc
	source ProfileSource

	sem chan struct{}

	mu           sync.Mutex
	jobs         map[string]*job
	running      bool
	jobsRunning  bool // set by the sentinel's first execution
	jobsExecuted int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. Call Start to begin dispatching.
func New(run CycleFunc, source ProfileSource, cfg Config) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		cfg:    cfg,
		run:    run,
		source: source,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		jobs:   make(map[string]*job),
	}
}

// Start loads the profile set, schedules one job per profile plus the
// startup sentinel, and begins the dispatch and heartbeat loops.
// Idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Sentinel: a no-op 10s out that proves dispatch is live.
	s.jobs[sentinelID] = &job{
		id:      sentinelID,
		name:    "startup sentinel",
		nextRun: s.cfg.now().Add(10 * time.Second),
		oneShot: true,
	}
	s.mu.Unlock()

	if err := s.SyncWithProfiles(); err != nil {
		return fmt.Errorf("sched: initial sync: %w", err)
	}

	s.wg.Add(2)
	go s.dispatchLoop(runCtx)
	go s.heartbeatLoop(runCtx)

	s.cfg.Logger.Info("sched: started",
		"jobs", s.jobCount(), "max_concurrent", s.cfg.MaxConcurrent, "floor", s.cfg.Floor)
	return nil
}

// Stop cancels pending ticks and waits for in-flight cycles, bounded by
// the cycle budget plus cleanup grace.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.CycleBudget + s.cfg.CleanupGrace):
		s.cfg.Logger.Warn("sched: stop timed out waiting for workers")
	}
	s.cfg.Logger.Info("sched: stopped")
}

// AddOrUpdate inserts or replaces the job for a profile. New jobs get a
// random 2-7 minute first-fire stagger; updated jobs keep their phase
// unless the interval changed.
func (s *Scheduler) AddOrUpdate(id, name string, interval time.Duration) {
	interval = s.clamp(interval)

	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[id]; ok {
		j.name = name
		if j.interval != interval {
			j.interval = interval
			j.nextRun = s.cfg.now().Add(interval)
		}
		return
	}
	s.jobs[id] = &job{
		id:       id,
		name:     name,
		interval: interval,
		nextRun:  s.cfg.now().Add(s.stagger()),
	}
	metrics.JobsScheduled.Set(float64(len(s.jobs)))
}

// Remove cancels and forgets the job for a profile.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	metrics.JobsScheduled.Set(float64(len(s.jobs)))
}

// Trigger enqueues an immediate one-shot run without disturbing the
// periodic cadence. Returns ErrUnknownJob for unregistered profiles.
func (s *Scheduler) Trigger(ctx context.Context, id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if j.inFlight {
		s.mu.Unlock()
		return nil // a cycle is already running for this profile
	}
	j.inFlight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(ctx, id, false)
	return nil
}

// SyncWithProfiles reconciles the registry against the persisted profile
// set: adds missing jobs, removes orphans, reschedules jobs whose interval
// diverged by more than 10 seconds or sits below the floor.
func (s *Scheduler) SyncWithProfiles() error {
	specs, err := s.source.ListProfiles()
	if err != nil {
		return fmt.Errorf("sched: list profiles: %w", err)
	}

	want := make(map[string]store.ProfileSpec, len(specs))
	for _, spec := range specs {
		want[spec.ID] = spec
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, spec := range want {
		target := s.clamp(spec.Interval)
		j, ok := s.jobs[id]
		if !ok {
			s.jobs[id] = &job{
				id:       id,
				name:     spec.Name,
				interval: target,
				nextRun:  s.cfg.now().Add(s.stagger()),
			}
			s.cfg.Logger.Info("sched: job added", "profile", id, "interval", target)
			continue
		}
		j.name = spec.Name
		if diff := j.interval - target; diff > 10*time.Second || diff < -10*time.Second {
			j.interval = target
			j.nextRun = s.cfg.now().Add(target)
			s.cfg.Logger.Info("sched: job rescheduled", "profile", id, "interval", target)
		}
	}
	for id := range s.jobs {
		if id == sentinelID {
			continue
		}
		if _, ok := want[id]; !ok {
			delete(s.jobs, id)
			s.cfg.Logger.Info("sched: orphaned job removed", "profile", id)
		}
	}
	metrics.JobsScheduled.Set(float64(len(s.jobs)))
	return nil
}

// Status returns the snapshot served by the status endpoint.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.now()
	st := Status{
		IsRunning:        s.jobsRunning,
		SchedulerRunning: s.running,
		JobsExecuted:     s.jobsExecuted,
		LateJobs:         []string{},
	}
	for _, j := range s.jobs {
		if j.id == sentinelID {
			continue
		}
		st.ScheduledJobs++
		trigger := fmt.Sprintf("interval[%s]", j.interval)
		st.Jobs = append(st.Jobs, JobStatus{
			ID:          j.id,
			Name:        j.name,
			NextRunTime: timefmt.Format(j.nextRun),
			Trigger:     trigger,
		})
		if !j.inFlight && now.Sub(j.nextRun) > time.Minute {
			st.LateJobs = append(st.LateJobs, j.id)
		}
	}
	sort.Slice(st.Jobs, func(i, k int) bool { return st.Jobs[i].ID < st.Jobs[k].ID })
	return st
}

// Busy reports whether any cycle is currently in flight.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.inFlight {
			return true
		}
	}
	return false
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue fires every due job, applying misfire policy and per-profile
// coalescing.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.cfg.now()

	s.mu.Lock()
	var due []string
	for id, j := range s.jobs {
		if j.nextRun.After(now) {
			continue
		}
		late := now.Sub(j.nextRun)
		if late > s.cfg.MisfireGrace {
			// Too stale to fire; skip forward past now.
			j.nextRun = nextAfter(j.nextRun, j.interval, now)
			s.cfg.Logger.Warn("sched: misfire beyond grace, skipped",
				"profile", id, "late", late)
			continue
		}
		if j.inFlight {
			// Coalesce: the running cycle covers this tick.
			j.nextRun = nextAfter(j.nextRun, j.interval, now)
			continue
		}
		j.inFlight = true
		if j.oneShot {
			// Fires once, never again.
			j.nextRun = now.Add(100 * 365 * 24 * time.Hour)
		} else {
			j.nextRun = nextAfter(j.nextRun, j.interval, now)
		}
		due = append(due, id)
	}
	s.mu.Unlock()

	for _, id := range due {
		s.wg.Add(1)
		go s.execute(ctx, id, true)
	}
}

// execute acquires a worker slot and runs one cycle under the watchdog.
// Always clears the in-flight flag, always releases the slot.
func (s *Scheduler) execute(ctx context.Context, id string, periodic bool) {
	defer s.wg.Done()
	defer s.clearInFlight(id)

	// Slot acquisition with bounded wait; on timeout the tick drops and
	// the next one retries.
	acquire := time.NewTimer(s.cfg.AcquireTimeout)
	defer acquire.Stop()
	select {
	case s.sem <- struct{}{}:
	case <-acquire.C:
		s.cfg.Logger.Warn("sched: worker pool saturated, tick dropped", "profile", id)
		return
	case <-ctx.Done():
		return
	}
	defer func() { <-s.sem }()

	if id == sentinelID {
		s.mu.Lock()
		if !s.jobsRunning {
			s.jobsRunning = true
			s.cfg.Logger.Info("sched: dispatch path confirmed live")
		}
		s.jobsExecuted++
		delete(s.jobs, sentinelID)
		s.mu.Unlock()
		return
	}

	metrics.CyclesInFlight.Inc()
	defer metrics.CyclesInFlight.Dec()

	cycleCtx, cancel := context.WithTimeout(ctx, s.cfg.CycleBudget)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.cfg.Logger.Error("sched: cycle panicked",
					"profile", id, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		s.run(cycleCtx, id)
	}()

	select {
	case <-done:
	case <-cycleCtx.Done():
		// Budget elapsed (or shutdown): the cycle sees the cancelled
		// context; give it the cleanup grace before abandoning it.
		s.cfg.Logger.Warn("sched: cycle over budget, interrupting", "profile", id)
		select {
		case <-done:
		case <-time.After(s.cfg.CleanupGrace):
			s.cfg.Logger.Error("sched: cycle did not unwind within grace", "profile", id)
		}
	}

	s.mu.Lock()
	s.jobsExecuted++
	s.mu.Unlock()
}

func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		var wait time.Duration
		if s.cfg.Heartbeat > 0 {
			wait = s.cfg.Heartbeat
		} else {
			// Hourly, aligned to the top of the hour.
			now := s.cfg.now()
			wait = now.Truncate(time.Hour).Add(time.Hour).Sub(now)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			if err := s.SyncWithProfiles(); err != nil {
				s.cfg.Logger.Error("sched: heartbeat sync failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) clearInFlight(id string) {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok {
		j.inFlight = false
	}
	s.mu.Unlock()
}

// clamp applies the interval policy: sub-minute values are configuration
// errors and everything below the floor schedules at the floor.
func (s *Scheduler) clamp(interval time.Duration) time.Duration {
	if interval < s.cfg.Floor {
		return s.cfg.Floor
	}
	return interval
}

func (s *Scheduler) stagger() time.Duration {
	span := s.cfg.StaggerMax - s.cfg.StaggerMin
	return s.cfg.StaggerMin + time.Duration(rand.Int63n(int64(span)))
}

func (s *Scheduler) jobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// nextAfter advances from the scheduled fire time in whole intervals until
// strictly after now, keeping the original phase.
func nextAfter(from time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return now.Add(time.Minute)
	}
	next := from
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}
