// Package workers provides the worker pool loadout uses to scan many targets
// at once. Jobs are queued, executed by a fixed number of goroutines with
// optional retries, and their results are delivered on a channel.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/loadout/internal/logging"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Result represents the result of executing a job.
type Result struct {
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
	Retries  int
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// MaxRetries is the maximum number of retries for failed jobs.
	MaxRetries int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:       4,
		QueueSize:  100,
		MaxRetries: 0,
		RetryDelay: time.Second,
	}
}

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config    Config
	jobs      chan Job
	results   chan Result
	wg        sync.WaitGroup
	logger    *logging.Logger
	startOnce sync.Once
	closeOnce sync.Once
	closed    int32
}

// New creates a new worker pool with the given configuration.
func New(config Config, logger *logging.Logger) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		results: make(chan Result, config.QueueSize),
		logger:  logger.WithComponent("workers"),
	}
}

// Start launches the workers. Jobs run under ctx; cancelling it stops
// retries and is seen by running jobs.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.logger.Info("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize)

		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.run(ctx, i)
		}

		go func() {
			p.wg.Wait()
			close(p.results)
		}()
	})
}

// Submit queues a job, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return fmt.Errorf("worker pool is closed")
	}

	select {
	case p.jobs <- job:
		p.logger.Debug("Job submitted to worker pool",
			"job_id", job.ID(),
			"job_type", job.Type())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the channel results are delivered on. It is closed once
// the pool is closed and every queued job has finished. Callers must drain it.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops accepting jobs. Queued jobs still run. Close must not race
// with Submit.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		atomic.StoreInt32(&p.closed, 1)
		close(p.jobs)
	})
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", "worker_id", id)
	defer p.logger.Debug("Worker stopped", "worker_id", id)

	for job := range p.jobs {
		p.results <- p.execute(ctx, id, job)
	}
}

// execute runs a single job with retry logic.
func (p *Pool) execute(ctx context.Context, workerID int, job Job) Result {
	result := Result{JobID: job.ID(), JobType: job.Type()}

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Error = err
			return result
		}

		start := time.Now()
		err := job.Execute(ctx)
		result.Duration = time.Since(start)
		result.Retries = attempt
		result.Error = err

		if err == nil {
			p.logger.Debug("Job completed successfully",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"duration", result.Duration,
				"worker_id", workerID,
				"retries", attempt)
			return result
		}

		if attempt < p.config.MaxRetries {
			p.logger.Debug("Job failed, retrying",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"attempt", attempt+1,
				"max_retries", p.config.MaxRetries,
				"error", err)

			select {
			case <-time.After(p.config.RetryDelay):
			case <-ctx.Done():
				result.Error = ctx.Err()
				return result
			}
		}
	}

	p.logger.Error("Job failed",
		"job_id", job.ID(),
		"job_type", job.Type(),
		"retries", result.Retries,
		"error", result.Error,
		"worker_id", workerID)
	return result
}

// RunAll executes jobs on a pool built from config and returns their
// results in completion order.
func RunAll(ctx context.Context, config Config, logger *logging.Logger, jobs []Job) []Result {
	pool := New(config, logger)
	pool.Start(ctx)

	go func() {
		defer pool.Close()
		for _, job := range jobs {
			if err := pool.Submit(ctx, job); err != nil {
				return
			}
		}
	}()

	results := make([]Result, 0, len(jobs))
	for result := range pool.Results() {
		results = append(results, result)
	}
	return results
}

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	id      string
	jobType string
	fn      func(ctx context.Context) error
}

// NewFuncJob creates a job that runs fn.
func NewFuncJob(id, jobType string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{id: id, jobType: jobType, fn: fn}
}

// Execute implements the Job interface.
func (j *FuncJob) Execute(ctx context.Context) error {
	return j.fn(ctx)
}

// ID implements the Job interface.
func (j *FuncJob) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *FuncJob) Type() string {
	return j.jobType
}
