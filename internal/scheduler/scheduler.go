// Package scheduler triggers recurring mass runs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/loadout/internal/logging"
	"github.com/anstrom/loadout/internal/mass"
)

// MassRunner executes one mass run.
type MassRunner interface {
	Run(ctx context.Context, massType string) (*mass.Summary, error)
}

// ScheduledJob is the schedule of one mass type.
type ScheduledJob struct {
	MassType  string
	Schedule  string
	CronID    cron.EntryID
	LastRun   time.Time
	NextRun   time.Time
	LastError error
	Running   bool
}

// Scheduler manages the mass run schedules.
type Scheduler struct {
	cron    *cron.Cron
	runner  MassRunner
	jobs    map[string]*ScheduledJob
	mu      sync.RWMutex
	running bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *logging.Logger
}

// NewScheduler creates a scheduler that hands due runs to runner.
func NewScheduler(runner MassRunner, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		jobs:   make(map[string]*ScheduledJob),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.WithComponent("scheduler"),
	}
}

// AddMassJob schedules mass runs of massType. cronExpr accepts standard
// five field expressions and descriptors such as @daily.
func (s *Scheduler) AddMassJob(massType, cronExpr string) error {
	if !mass.IsType(massType) {
		return fmt.Errorf("mass profile %q is not supported, use day, week or month", massType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[massType]; exists {
		return fmt.Errorf("mass type %s is already scheduled", massType)
	}

	cronID, err := s.cron.AddFunc(cronExpr, func() { s.execute(massType) })
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobs[massType] = &ScheduledJob{MassType: massType, Schedule: cronExpr, CronID: cronID}
	s.logger.Info("Scheduled mass run", "type", massType, "schedule", cronExpr)
	return nil
}

// RemoveMassJob removes the schedule of massType.
func (s *Scheduler) RemoveMassJob(massType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[massType]
	if !exists {
		return fmt.Errorf("job not found")
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, massType)
	return nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops the scheduler, cancels running mass runs and waits for them.
// No run starts after Stop. A stopped scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if wasRunning {
		<-s.cron.Stop().Done()
	}
	s.cancel()
	s.wg.Wait()

	s.logger.Info("Scheduler stopped")
}

// Trigger runs massType now, outside its schedule, and waits for it.
func (s *Scheduler) Trigger(massType string) error {
	s.mu.RLock()
	_, exists := s.jobs[massType]
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if !exists {
		return fmt.Errorf("job not found")
	}
	s.execute(massType)
	return nil
}

// GetJobs returns a snapshot of the schedules ordered by mass type.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		if entry := s.cron.Entry(job.CronID); entry.Valid() {
			snapshot.NextRun = entry.Next
		}
		jobs = append(jobs, snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].MassType < jobs[j].MassType })
	return jobs
}

func (s *Scheduler) execute(massType string) {
	job, ok := s.prepareJobExecution(massType)
	if !ok {
		return
	}
	defer s.wg.Done()

	summary, err := s.runner.Run(s.ctx, massType)

	s.mu.Lock()
	job.Running = false
	job.LastError = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled mass run failed", "type", massType, "error", err)
		return
	}
	s.logger.Info("Scheduled mass run completed",
		"type", massType, "mass_id", summary.MassID, "targets", summary.Targets, "failed", len(summary.Failed))
}

// prepareJobExecution marks the job running unless it already is or the
// scheduler is stopped. On success the run is counted in s.wg, which the
// caller must release.
func (s *Scheduler) prepareJobExecution(massType string) (*ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, false
	}
	job, exists := s.jobs[massType]
	if !exists {
		return nil, false
	}
	if job.Running {
		s.logger.Warn("Mass run is already running, skipping", "type", massType)
		return nil, false
	}
	job.Running = true
	job.LastRun = time.Now()
	s.wg.Add(1)
	return job, true
}
