package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/loadout/internal/logging"
	"github.com/anstrom/loadout/internal/mass"
)

type fakeRunner struct {
	calls   int32
	err     error
	block   chan struct{}
	mu      sync.Mutex
	types   []string
	started chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, massType string) (*mass.Summary, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.types = append(f.types, massType)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &mass.Summary{MassID: 1, Type: massType}, nil
}

func quietLogger() *logging.Logger {
	return logging.NewWithWriter(logging.DefaultConfig(), &bytes.Buffer{})
}

func TestAddMassJob(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, quietLogger())

	require.NoError(t, s.AddMassJob("day", "@daily"))
	require.NoError(t, s.AddMassJob("week", "0 3 * * 1"))

	assert.Error(t, s.AddMassJob("day", "@daily"), "duplicate type")
	assert.Error(t, s.AddMassJob("year", "@yearly"), "unknown type")
	assert.Error(t, s.AddMassJob("month", "not a schedule"))

	jobs := s.GetJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "day", jobs[0].MassType)
	assert.Equal(t, "week", jobs[1].MassType)
	assert.Equal(t, "0 3 * * 1", jobs[1].Schedule)
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, quietLogger())
	require.NoError(t, s.AddMassJob("month", "@monthly"))

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	jobs := s.GetJobs()
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].NextRun.After(time.Now()))

	s.Stop()
	s.Stop()
}

func TestTrigger(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, quietLogger())
	require.NoError(t, s.AddMassJob("day", "@daily"))

	require.NoError(t, s.Trigger("day"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))

	jobs := s.GetJobs()
	assert.False(t, jobs[0].LastRun.IsZero())
	assert.NoError(t, jobs[0].LastError)
	assert.False(t, jobs[0].Running)

	assert.Error(t, s.Trigger("week"))
}

func TestTriggerRecordsError(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("database down")}
	s := NewScheduler(runner, quietLogger())
	require.NoError(t, s.AddMassJob("week", "@weekly"))

	require.NoError(t, s.Trigger("week"))
	assert.EqualError(t, s.GetJobs()[0].LastError, "database down")
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewScheduler(runner, quietLogger())
	require.NoError(t, s.AddMassJob("day", "@daily"))

	done := make(chan struct{})
	go func() {
		_ = s.Trigger("day")
		close(done)
	}()
	<-runner.started

	require.NoError(t, s.Trigger("day"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))

	close(runner.block)
	<-done
}

func TestStopWaitsForRunAndRejectsNewOnes(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewScheduler(runner, quietLogger())
	require.NoError(t, s.AddMassJob("day", "@daily"))
	require.NoError(t, s.Start())

	done := make(chan struct{})
	go func() {
		_ = s.Trigger("day")
		close(done)
	}()
	<-runner.started

	s.Stop()
	job := s.GetJobs()[0]
	assert.False(t, job.Running, "Stop returned before the running mass run finished")
	assert.ErrorIs(t, job.LastError, context.Canceled)
	<-done

	assert.Error(t, s.Trigger("day"))
	assert.Error(t, s.Start())
	s.execute("day")
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
}

func TestRemoveMassJob(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, quietLogger())
	require.NoError(t, s.AddMassJob("day", "@daily"))

	require.NoError(t, s.RemoveMassJob("day"))
	assert.Error(t, s.RemoveMassJob("day"))
	assert.Empty(t, s.GetJobs())
}
