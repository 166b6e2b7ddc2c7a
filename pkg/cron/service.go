package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options configures the cron service
type Options struct {
	Logger  zerolog.Logger
	OnEvent func(evt Event)
	Now     func() time.Time
}

// Service runs registered jobs on their schedules. A job never overlaps
// itself: a tick that arrives while the previous run is still going is
// recorded as skipped.
type Service struct {
	jobs    map[string]*Job
	timers  map[string]*time.Timer
	options Options
	logger  zerolog.Logger
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewService creates a new cron service
func NewService(opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		jobs:    make(map[string]*Job),
		timers:  make(map[string]*time.Timer),
		options: opts,
		logger:  opts.Logger.With().Str("component", "cron").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers and schedules a job.
func (s *Service) Add(name string, schedule Schedule, run Func) (string, error) {
	if name == "" {
		return "", fmt.Errorf("job name is required")
	}
	if run == nil {
		return "", fmt.Errorf("job %s: run function is required", name)
	}
	next, err := NextRun(schedule, s.options.Now())
	if err != nil {
		return "", fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return "", fmt.Errorf("cron service stopped")
	}

	job := &Job{
		ID:       uuid.NewString(),
		Name:     name,
		Schedule: schedule,
		State:    JobState{NextRunAt: next},
		run:      run,
	}
	s.jobs[job.ID] = job
	s.scheduleJobLocked(job)

	s.logger.Info().Str("jobId", job.ID).Str("name", name).Time("nextRun", next).Msg("Job added")
	s.emit(Event{Action: EventActionAdded, JobID: job.ID, Name: name, NextRunAt: next})
	return job.ID, nil
}

// Remove cancels and forgets a job.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	s.cancelJobLocked(id)
	delete(s.jobs, id)
	s.emit(Event{Action: EventActionRemoved, JobID: id, Name: job.Name})
	return nil
}

// RunNow executes a job synchronously outside its schedule.
func (s *Service) RunNow(id string) error {
	s.mu.RLock()
	_, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	return s.executeJob(id, false)
}

// Jobs returns a snapshot of every job sorted by name.
func (s *Service) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		cp.run = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Stop cancels timers, cancels running jobs and waits for them to return.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	for id := range s.timers {
		s.cancelJobLocked(id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Cron service stopped")
}

func (s *Service) scheduleJobLocked(job *Job) {
	delay := job.State.NextRunAt.Sub(s.options.Now())
	if delay < 0 {
		delay = 0
	}

	id := job.ID
	s.timers[id] = time.AfterFunc(delay, func() {
		_ = s.executeJob(id, true)
	})

	s.logger.Debug().Str("jobId", id).Dur("delay", delay).Msg("Job scheduled")
}

func (s *Service) cancelJobLocked(id string) {
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) executeJob(id string, reschedule bool) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || s.stopped {
		s.mu.Unlock()
		return nil
	}
	if !job.State.RunningSince.IsZero() {
		job.State.LastStatus = "skipped"
		if reschedule {
			s.rescheduleLocked(job)
		}
		s.mu.Unlock()
		s.logger.Debug().Str("jobId", id).Str("name", job.Name).Msg("Job already running, skipping execution")
		return nil
	}
	start := s.options.Now()
	job.State.RunningSince = start
	run := job.run
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.logger.Debug().Str("jobId", id).Str("name", job.Name).Msg("Executing job")
	err := s.safeRun(run)

	s.mu.Lock()
	defer s.mu.Unlock()

	duration := s.options.Now().Sub(start)
	job.State.RunningSince = time.Time{}
	job.State.LastRunAt = start
	job.State.LastDuration = duration

	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		job.State.ConsecutiveErrors++
		s.logger.Error().
			Str("jobId", id).
			Str("name", job.Name).
			Err(err).
			Int("consecutiveErrors", job.State.ConsecutiveErrors).
			Msg("Job execution failed")
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
		job.State.ConsecutiveErrors = 0
		s.logger.Debug().Str("jobId", id).Dur("duration", duration).Msg("Job execution completed")
	}

	if reschedule {
		s.rescheduleLocked(job)
	}

	s.emit(Event{
		Action:    EventActionFinished,
		JobID:     id,
		Name:      job.Name,
		Status:    job.State.LastStatus,
		Error:     job.State.LastError,
		Duration:  duration,
		NextRunAt: job.State.NextRunAt,
	})
	return err
}

func (s *Service) rescheduleLocked(job *Job) {
	if s.stopped {
		return
	}
	if _, ok := s.jobs[job.ID]; !ok {
		return
	}
	next, err := NextRun(job.Schedule, s.options.Now())
	if err != nil {
		s.logger.Error().Str("jobId", job.ID).Err(err).Msg("Failed to calculate next run")
		return
	}
	job.State.NextRunAt = next
	s.scheduleJobLocked(job)
}

func (s *Service) safeRun(run Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return run(s.ctx)
}

func (s *Service) emit(evt Event) {
	if s.options.OnEvent != nil {
		s.options.OnEvent(evt)
	}
}
