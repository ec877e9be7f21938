package metrics

import "time"

// Expansion outcomes.
const (
	OutcomeExpanded = "expanded"
	OutcomeCycle    = "cycle"
	OutcomeDepth    = "depth"
)

// Recorder is the set of engine and store observations. It allows
// the engine to run with metrics disabled in tests and embedded use.
type Recorder interface {
	CommandStarted()
	CommandFinished(bulletSet string, duration time.Duration, err error)
	PassCompleted(bulletSet string, findings int, err error)
	ExpansionRecorded(outcome string)
	LoadFailed()
	IntegrityFailed()
	RecordDatabaseQuery(operation string, duration time.Duration, err error)
}

// Ensure that PrometheusMetrics implements Recorder.
var _ Recorder = (*PrometheusMetrics)(nil)

// Nop discards every observation.
type Nop struct{}

func (Nop) CommandStarted() {}
func (Nop) CommandFinished(string, time.Duration, error) {}
func (Nop) PassCompleted(string, int, error) {}
func (Nop) ExpansionRecorded(string) {}
func (Nop) LoadFailed() {}
func (Nop) IntegrityFailed() {}
func (Nop) RecordDatabaseQuery(string, time.Duration, error) {}
