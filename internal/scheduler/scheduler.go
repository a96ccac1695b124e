// Package scheduler runs named actions on a fixed interval until they are
// cancelled. Each job has its own loop; failing ticks never stop a job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/metrics"
)

var (
	// ErrInvalidInterval is returned for a non-positive interval
	ErrInvalidInterval = errors.New("interval must be positive")

	// ErrNilAction is returned when scheduling without an action
	ErrNilAction = errors.New("action is required")

	// ErrStopped is returned when scheduling on a stopped scheduler
	ErrStopped = errors.New("scheduler stopped")
)

// Action is the work of one tick. ctx is cancelled only when the scheduler
// stops, never by Cancel, so an in-flight action always finishes.
type Action func(ctx context.Context) error

// JobInfo is a snapshot of one job
type JobInfo struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Running   bool          `json:"running"`
	Runs      int           `json:"runs"`
	Failures  int           `json:"failures"`
	LastError string        `json:"last_error,omitempty"`
	LastRun   time.Time     `json:"last_run,omitempty"`
}

type job struct {
	name     string
	interval time.Duration
	action   Action

	stop chan struct{} // closed by Cancel or replacement
	done chan struct{} // closed when the loop has exited

	mu       sync.Mutex
	runs     int
	failures int
	lastErr  error
	lastRun  time.Time
}

func (j *job) info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()

	info := JobInfo{
		Name:     j.name,
		Interval: j.interval,
		Runs:     j.runs,
		Failures: j.failures,
		LastRun:  j.lastRun,
	}
	if j.lastErr != nil {
		info.LastError = j.lastErr.Error()
	}
	select {
	case <-j.done:
	default:
		info.Running = true
	}
	return info
}

// Scheduler is a registry of named recurring jobs
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*job
	retired map[*job]struct{}        // stopped jobs whose loop may still be finishing a tick
	pending map[string]chan struct{} // names being replaced, closed once installed
	onError func(name string, err error)
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithOnError registers a hook called after every failed tick
func WithOnError(fn func(name string, err error)) Option {
	return func(s *Scheduler) { s.onError = fn }
}

// New creates a scheduler whose actions run under a context derived from
// parent
func New(parent context.Context, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	s := &Scheduler{
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*job),
		retired: make(map[*job]struct{}),
		pending: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule starts running action every interval under name: the action runs
// immediately, then interval after each completion. An existing job with the
// same name is stopped first, and its loop has exited before the new one
// starts. Only callers of the same name wait for that; other jobs and readers
// proceed. An action must not reschedule its own name: that waits on itself.
func (s *Scheduler) Schedule(name string, action Action, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: job %s got %s", ErrInvalidInterval, name, interval)
	}
	if action == nil {
		return fmt.Errorf("%w: job %s", ErrNilAction, name)
	}

	s.mu.Lock()
	for {
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			return ErrStopped
		}
		wait, ok := s.pending[name]
		if !ok {
			break
		}
		s.mu.Unlock()
		<-wait
		s.mu.Lock()
	}

	// Claim the name, then wait for its old loops without holding s.mu
	claim := make(chan struct{})
	s.pending[name] = claim
	defer close(claim)

	if old, ok := s.jobs[name]; ok {
		close(old.stop)
		delete(s.jobs, name)
		s.retired[old] = struct{}{}
		log.Info().Str("job", name).Msg("Replacing scheduled job")
	}
	var loops []*job
	for old := range s.retired {
		if old.name == name {
			loops = append(loops, old)
		}
	}
	s.mu.Unlock()

	for _, old := range loops {
		<-old.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, name)

	if s.ctx.Err() != nil {
		return ErrStopped
	}

	j := &job{
		name:     name,
		interval: interval,
		action:   action,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.jobs[name] = j

	metrics.ScheduledJobs.Inc()
	go s.loop(j)

	log.Info().
		Str("job", name).
		Dur("interval", interval).
		Msg("Job scheduled")

	return nil
}

// Cancel stops the job under name at its next iteration boundary. It does
// not wait for an in-flight action. Unknown names are ignored.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return
	}
	close(j.stop)
	delete(s.jobs, name)
	s.retired[j] = struct{}{}

	log.Info().Str("job", name).Msg("Job cancelled")
}

// Jobs returns a snapshot of every scheduled job, sorted by name
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	infos := make([]JobInfo, len(jobs))
	for i, j := range jobs {
		infos[i] = j.info()
	}
	sort.Slice(infos, func(a, b int) bool { return infos[a].Name < infos[b].Name })
	return infos
}

// Job returns a snapshot of the job under name
func (s *Scheduler) Job(name string) (JobInfo, bool) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return JobInfo{}, false
	}
	return j.info(), true
}

// Stop cancels every job, cancels the action context and waits for all
// loops to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	var loops []*job
	for name, j := range s.jobs {
		close(j.stop)
		loops = append(loops, j)
		delete(s.jobs, name)
	}
	for j := range s.retired {
		loops = append(loops, j)
	}
	s.mu.Unlock()

	for _, j := range loops {
		<-j.done
	}
	log.Info().Int("jobs", len(loops)).Msg("Scheduler stopped")
}

func (s *Scheduler) loop(j *job) {
	defer func() {
		metrics.ScheduledJobs.Dec()
		s.mu.Lock()
		delete(s.retired, j)
		s.mu.Unlock()
		close(j.done)
	}()

	for {
		select {
		case <-j.stop:
			return
		case <-s.ctx.Done():
			return
		default:
		}

		s.tick(j)

		timer := time.NewTimer(j.interval)
		select {
		case <-j.stop:
			timer.Stop()
			return
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick runs the action once, recovering panics as failures
func (s *Scheduler) tick(j *job) {
	runID := uuid.New().String()
	startTime := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job %s panicked: %v", j.name, r)
			}
		}()
		return j.action(s.ctx)
	}()

	j.mu.Lock()
	j.runs++
	j.lastRun = startTime
	j.lastErr = err
	if err != nil {
		j.failures++
	}
	j.mu.Unlock()

	if err != nil {
		metrics.SchedulerTicks.WithLabelValues(j.name, metrics.ResultFailure).Inc()
		log.Error().
			Err(err).
			Str("job", j.name).
			Str("run_id", runID).
			Dur("duration", time.Since(startTime)).
			Msg("Scheduled job failed")
		if s.onError != nil {
			s.onError(j.name, err)
		}
		return
	}

	metrics.SchedulerTicks.WithLabelValues(j.name, metrics.ResultSuccess).Inc()
	log.Debug().
		Str("job", j.name).
		Str("run_id", runID).
		Dur("duration", time.Since(startTime)).
		Msg("Scheduled job completed")
}
