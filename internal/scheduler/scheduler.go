// SPDX-License-Identifier: AGPL-3.0-only
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jolks/persona-agent/internal/errors"
	"github.com/jolks/persona-agent/internal/logging"
)

// JobFunc is the work a scheduled job performs on each run.
type JobFunc func(ctx context.Context) error

// JobStatus is a snapshot of a scheduled job.
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
}

type job struct {
	status  JobStatus
	fn      JobFunc
	entryID cron.EntryID
}

// Scheduler runs background jobs on cron schedules
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*job
	mu      sync.RWMutex
	timeout time.Duration
	logger  *logging.Logger
	ctx     context.Context
}

// NewScheduler creates a new scheduler instance. Each run is bounded by
// timeout when it is positive.
func NewScheduler(timeout time.Duration, logger *logging.Logger) *Scheduler {
	c := cron.New(
		cron.WithParser(cron.NewParser(
			cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(
			cron.Recover(cron.DefaultLogger),
		),
	)

	return &Scheduler{
		cron:    c,
		jobs:    make(map[string]*job),
		timeout: timeout,
		logger:  logger,
		ctx:     context.Background(),
	}
}

// Timeout returns the bound applied to each job run.
func (s *Scheduler) Timeout() time.Duration {
	return s.timeout
}

// Start begins the scheduler. Runs inherit ctx, and cancelling it stops
// the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// AddJob schedules fn under name.
func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return errors.AlreadyExists("job", name)
	}
	if fn == nil {
		return errors.InvalidInput("job function is required")
	}

	j := &job{status: JobStatus{Name: name, Schedule: schedule}, fn: fn}
	entryID, err := s.cron.AddFunc(schedule, func() { s.run(j) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	j.entryID = entryID
	s.jobs[name] = j
	s.updateNextRunTime(j)

	s.logger.Infof("Scheduled job %s (%s)", name, schedule)
	return nil
}

// RemoveJob unschedules the named job.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[name]
	if !exists {
		return errors.NotFound("job", name)
	}
	s.cron.Remove(j.entryID)
	delete(s.jobs, name)
	return nil
}

// Jobs returns a snapshot of every scheduled job, sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.status)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// RunNow executes the named job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	j, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return errors.NotFound("job", name)
	}
	return s.run(j)
}

func (s *Scheduler) run(j *job) error {
	// The job may have been removed between dispatch and execution.
	s.mu.RLock()
	_, exists := s.jobs[j.status.Name]
	ctx := s.ctx
	s.mu.RUnlock()
	if !exists {
		return nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := j.fn(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	j.status.LastRun = start
	j.status.Runs++
	if err != nil {
		j.status.LastError = err.Error()
		s.logger.Errorf("Job %s failed: %v", j.status.Name, err)
	} else {
		j.status.LastError = ""
		s.logger.Debugf("Job %s completed in %s", j.status.Name, time.Since(start))
	}
	s.updateNextRunTime(j)
	return err
}

// updateNextRunTime refreshes the job's next run time from its cron entry.
// Callers hold s.mu.
func (s *Scheduler) updateNextRunTime(j *job) {
	entry := s.cron.Entry(j.entryID)
	if entry.Valid() {
		j.status.NextRun = entry.Next
	}
}
