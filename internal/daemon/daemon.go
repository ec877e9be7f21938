// Package daemon runs loadout as a long-lived service: scheduled mass runs,
// the HTTP API and periodic system metrics, until it is told to stop.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/anstrom/loadout/internal/api"
	"github.com/anstrom/loadout/internal/logging"
	"github.com/anstrom/loadout/internal/metrics"
	"github.com/anstrom/loadout/internal/scheduler"
)

// File permission constants.
const (
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600

	defaultHealthInterval  = 30 * time.Second
	defaultMetricsInterval = 15 * time.Second
)

// Options configure a daemon.
type Options struct {
	// PIDFile is written on start and removed on stop. Empty disables it.
	PIDFile string
	// Schedules maps mass types to cron expressions.
	Schedules       map[string]string
	API             api.Config
	HealthInterval  time.Duration
	MetricsInterval time.Duration
}

// Deps are the collaborators the daemon drives.
type Deps struct {
	Runner   scheduler.MassRunner
	Store    api.Store
	Database api.Pinger
	Metrics  *metrics.PrometheusMetrics
}

// Daemon represents the main daemon process.
type Daemon struct {
	opts      Options
	deps      Deps
	scheduler *scheduler.Scheduler
	server    *api.Server
	logger    *logging.Logger

	mu      sync.RWMutex
	running bool
	started time.Time
}

// New creates a daemon. Schedules are validated here so configuration
// mistakes surface before anything starts.
func New(opts Options, deps Deps, logger *logging.Logger) (*Daemon, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = defaultHealthInterval
	}
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = defaultMetricsInterval
	}

	d := &Daemon{
		opts:      opts,
		deps:      deps,
		scheduler: scheduler.NewScheduler(deps.Runner, logger),
		logger:    logger.WithComponent("daemon"),
	}

	types := make([]string, 0, len(opts.Schedules))
	for massType := range opts.Schedules {
		types = append(types, massType)
	}
	sort.Strings(types)
	for _, massType := range types {
		if err := d.scheduler.AddMassJob(massType, opts.Schedules[massType]); err != nil {
			return nil, fmt.Errorf("invalid schedule for %s: %w", massType, err)
		}
	}

	apiDeps := api.Deps{Store: deps.Store, Schedules: d.scheduler, Database: deps.Database}
	if deps.Metrics != nil {
		apiDeps.Metrics = deps.Metrics
	}
	d.server = api.New(opts.API, apiDeps, logger)
	return d, nil
}

// Scheduler returns the daemon's scheduler.
func (d *Daemon) Scheduler() *scheduler.Scheduler {
	return d.scheduler
}

// Run starts every component and blocks until ctx is canceled, a
// termination signal arrives or the API server fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer d.removePIDFile()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopSignals := d.setupSignalHandlers(cancel)
	defer stopSignals()

	if err := d.scheduler.Start(); err != nil {
		return err
	}
	defer d.scheduler.Stop()

	d.mu.Lock()
	d.running = true
	d.started = time.Now()
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	var wg sync.WaitGroup
	if d.deps.Metrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.deps.Metrics.StartPeriodicUpdates(ctx, d.opts.MetricsInterval)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.healthLoop(ctx)
	}()

	d.logger.InfoDaemon("Daemon started", "pid", os.Getpid(), "address", d.server.GetAddress(),
		"schedules", len(d.opts.Schedules))

	err := d.server.Start(ctx)
	cancel()
	wg.Wait()

	if err != nil {
		d.logger.ErrorDaemon("API server stopped with error", err)
		return err
	}
	d.logger.InfoDaemon("Daemon stopped")
	return nil
}

// IsRunning reports whether Run is active.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Status describes the daemon and its schedules in one line per item.
func (d *Daemon) Status() []string {
	d.mu.RLock()
	started := d.started
	d.mu.RUnlock()

	lines := []string{fmt.Sprintf("pid=%d uptime=%s", os.Getpid(), time.Since(started).Round(time.Second))}
	for _, job := range d.scheduler.GetJobs() {
		line := fmt.Sprintf("mass=%s schedule=%q running=%t", job.MassType, job.Schedule, job.Running)
		if !job.NextRun.IsZero() {
			line += " next=" + job.NextRun.Format(time.RFC3339)
		}
		if job.LastError != nil {
			line += " last_error=" + strconv.Quote(job.LastError.Error())
		}
		lines = append(lines, line)
	}
	return lines
}

// setupSignalHandlers stops the daemon on SIGTERM or SIGINT and dumps
// its status on SIGUSR1.
func (d *Daemon) setupSignalHandlers(cancel context.CancelFunc) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigChan:
				d.logger.Info("Received signal", "signal", sig.String())
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					cancel()
				case syscall.SIGUSR1:
					d.logger.Info("Daemon status", "status", strings.Join(d.Status(), "; "))
				}
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

func (d *Daemon) healthLoop(ctx context.Context) {
	if d.deps.Database == nil {
		return
	}
	ticker := time.NewTicker(d.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, d.opts.HealthInterval/2)
			if err := d.deps.Database.PingContext(pingCtx); err != nil {
				d.logger.Warn("Database health check failed", "error", err)
			}
			cancel()
		}
	}
}

func (d *Daemon) createPIDFile() error {
	if d.opts.PIDFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(d.opts.PIDFile), DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	if pid, running := ReadPID(d.opts.PIDFile); running {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.opts.PIDFile, []byte(strconv.Itoa(pid)), DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	d.logger.Debug("Created PID file", "path", d.opts.PIDFile, "pid", pid)
	return nil
}

func (d *Daemon) removePIDFile() {
	if d.opts.PIDFile == "" {
		return
	}
	if err := os.Remove(d.opts.PIDFile); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("Failed to remove PID file", "path", d.opts.PIDFile, "error", err)
	}
}

// ReadPID reads a PID file and reports whether that process is alive.
func ReadPID(path string) (int, bool) {
	// #nosec G304 - path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	return pid, process.Signal(syscall.Signal(0)) == nil
}
