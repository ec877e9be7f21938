// Package metrics provides Prometheus-based metrics collection for loadout.
// Engine, store and daemon code record into a PrometheusMetrics instance,
// usually the process-wide one returned by GetGlobalMetrics.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all loadout metrics
	namespace = "loadout"

	// Subsystems
	subsystemCommand  = "command"
	subsystemEngine   = "engine"
	subsystemDatabase = "database"
	subsystemMass     = "mass"
	subsystemHTTP     = "http"
	subsystemSystem   = "system"

	statusSuccess = "success"
	statusError   = "error"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Command metrics
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	activeCommands  prometheus.Gauge

	// Engine metrics
	passesTotal     *prometheus.CounterVec
	findingsTotal   *prometheus.CounterVec
	expansionsTotal *prometheus.CounterVec
	loadErrors      prometheus.Counter
	integrityErrors prometheus.Counter

	// Database metrics
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	// Mass run metrics
	massRuns    *prometheus.CounterVec
	massTargets *prometheus.CounterVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initCommandMetrics()
	pm.initEngineMetrics()
	pm.initDatabaseMetrics()
	pm.initMassMetrics()
	pm.initHTTPMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initCommandMetrics() {
	pm.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCommand,
			Name:      "total",
			Help:      "Total number of dispatched commands by bullet set and status",
		},
		[]string{"bullet_set", "status"},
	)

	pm.commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemCommand,
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of external commands in seconds",
			Buckets:   []float64{0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 900.0, 3600.0},
		},
		[]string{"bullet_set"},
	)

	pm.activeCommands = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemCommand,
			Name:      "active",
			Help:      "Number of external commands currently running",
		},
	)
}

func (pm *PrometheusMetrics) initEngineMetrics() {
	pm.passesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEngine,
			Name:      "passes_total",
			Help:      "Total number of bullet set passes by status",
		},
		[]string{"bullet_set", "status"},
	)

	pm.findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEngine,
			Name:      "findings_total",
			Help:      "Total number of aggregated findings by bullet set",
		},
		[]string{"bullet_set"},
	)

	pm.expansionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEngine,
			Name:      "expansions_total",
			Help:      "Total number of recursion targets by outcome",
		},
		[]string{"outcome"},
	)

	pm.loadErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEngine,
			Name:      "load_errors_total",
			Help:      "Total number of rule documents that failed to load",
		},
	)

	pm.integrityErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEngine,
			Name:      "integrity_errors_total",
			Help:      "Total number of dispatched commands without a retrievable execution record",
		},
	)
}

func (pm *PrometheusMetrics) initDatabaseMetrics() {
	pm.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of database queries by operation and status",
		},
		[]string{"operation", "status"},
	)

	pm.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		},
		[]string{"operation"},
	)
}

func (pm *PrometheusMetrics) initMassMetrics() {
	pm.massRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMass,
			Name:      "runs_total",
			Help:      "Total number of mass runs by type and status",
		},
		[]string{"mass_type", "status"},
	)

	pm.massTargets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMass,
			Name:      "targets_total",
			Help:      "Total number of targets scanned by mass runs by status",
		},
		[]string{"mass_type", "status"},
	)
}

func (pm *PrometheusMetrics) initHTTPMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "requests_total",
			Help:      "Total number of daemon HTTP requests by path and status",
		},
		[]string{"path", "status"},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.commandsTotal,
		pm.commandDuration,
		pm.activeCommands,
		pm.passesTotal,
		pm.findingsTotal,
		pm.expansionsTotal,
		pm.loadErrors,
		pm.integrityErrors,
		pm.dbQueries,
		pm.dbQueryDuration,
		pm.massRuns,
		pm.massTargets,
		pm.httpRequests,
		pm.memoryUsage,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// CommandStarted marks an external command as running.
func (pm *PrometheusMetrics) CommandStarted() {
	pm.activeCommands.Inc()
}

// CommandFinished records the outcome of an external command.
func (pm *PrometheusMetrics) CommandFinished(bulletSet string, duration time.Duration, err error) {
	pm.activeCommands.Dec()
	pm.commandsTotal.WithLabelValues(bulletSet, statusOf(err)).Inc()
	pm.commandDuration.WithLabelValues(bulletSet).Observe(duration.Seconds())
}

// PassCompleted records one bullet set pass and the findings it produced.
func (pm *PrometheusMetrics) PassCompleted(bulletSet string, findings int, err error) {
	pm.passesTotal.WithLabelValues(bulletSet, statusOf(err)).Inc()
	if findings > 0 {
		pm.findingsTotal.WithLabelValues(bulletSet).Add(float64(findings))
	}
}

// ExpansionRecorded counts a recursion target by outcome: expanded, cycle or depth.
func (pm *PrometheusMetrics) ExpansionRecorded(outcome string) {
	pm.expansionsTotal.WithLabelValues(outcome).Inc()
}

// LoadFailed counts a rule document that could not be loaded.
func (pm *PrometheusMetrics) LoadFailed() {
	pm.loadErrors.Inc()
}

// IntegrityFailed counts a missing execution record.
func (pm *PrometheusMetrics) IntegrityFailed() {
	pm.integrityErrors.Inc()
}

// RecordDatabaseQuery records a database query and its duration.
func (pm *PrometheusMetrics) RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	pm.dbQueries.WithLabelValues(operation, statusOf(err)).Inc()
	pm.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// MassRunCompleted records a finished mass run.
func (pm *PrometheusMetrics) MassRunCompleted(massType string, err error) {
	pm.massRuns.WithLabelValues(massType, statusOf(err)).Inc()
}

// MassTargetCompleted records one target of a mass run.
func (pm *PrometheusMetrics) MassTargetCompleted(massType string, err error) {
	pm.massTargets.WithLabelValues(massType, statusOf(err)).Inc()
}

// IncrementHTTPRequests increments the daemon HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(path, status string) {
	pm.httpRequests.WithLabelValues(path, status).Inc()
}

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())

	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates updates system metrics every interval until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

func statusOf(err error) string {
	if err != nil {
		return statusError
	}
	return statusSuccess
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
