package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/metrics"
	"github.com/anstrom/loadout/internal/store"
)

func newTestRunner(st Store, timeout time.Duration) *Runner {
	return NewRunner(st, "/bin/sh", timeout, metrics.Nop{}, testLogger(io.Discard))
}

func runAndFetch(t *testing.T, r *Runner, mem *store.Memory, command string) store.ExecutionRecord {
	t.Helper()
	ctx := context.Background()
	id, err := r.Run(ctx, Dispatch{ScanID: 1, BulletSet: "t", Command: command, Token: "tok-" + command})
	require.NoError(t, err)

	records, err := mem.FetchExecutionRecords(ctx, 1, command, "tok-"+command)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	return records[0]
}

func TestRunner_CapturesStdout(t *testing.T) {
	mem := store.NewMemory()
	rec := runAndFetch(t, newTestRunner(mem, 0), mem, "echo one; echo two")

	assert.Equal(t, "one\ntwo\n", rec.Output)
	assert.Equal(t, "echo one; echo two", rec.Command)
	assert.Equal(t, int64(0), rec.ElapsedSeconds)
	assert.Equal(t, "00:00:00", rec.Elapsed())
}

func TestRunner_DiscardsStderr(t *testing.T) {
	mem := store.NewMemory()
	rec := runAndFetch(t, newTestRunner(mem, 0), mem, "echo out; echo err >&2")
	assert.Equal(t, "out\n", rec.Output)
}

func TestRunner_NonZeroExitIsRecorded(t *testing.T) {
	mem := store.NewMemory()
	rec := runAndFetch(t, newTestRunner(mem, 0), mem, "echo partial; exit 3")
	assert.Equal(t, "partial\n", rec.Output)
}

func TestRunner_MissingToolIsRecorded(t *testing.T) {
	mem := store.NewMemory()
	rec := runAndFetch(t, newTestRunner(mem, 0), mem, "definitely-not-a-real-tool-xyz --scan")
	assert.Empty(t, rec.Output)
}

func TestRunner_ElapsedWholeSeconds(t *testing.T) {
	mem := store.NewMemory()
	rec := runAndFetch(t, newTestRunner(mem, 0), mem, "sleep 1.2; echo done")
	assert.Equal(t, int64(1), rec.ElapsedSeconds)
}

func TestRunner_CommandTimeoutKeepsPartialOutput(t *testing.T) {
	mem := store.NewMemory()
	start := time.Now()
	rec := runAndFetch(t, newTestRunner(mem, 200*time.Millisecond), mem, "echo before; sleep 5; echo after")

	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Contains(t, rec.Output, "before")
	assert.NotContains(t, rec.Output, "after")
}

func TestRunner_ParentCancellationIsAnError(t *testing.T) {
	mem := store.NewMemory()
	r := newTestRunner(mem, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, Dispatch{ScanID: 1, Command: "sleep 5", Token: "x"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTimeout))

	records, fetchErr := mem.FetchExecutionRecords(context.Background(), 1, "sleep 5", "")
	require.NoError(t, fetchErr)
	assert.Empty(t, records, "interrupted commands are not recorded")

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = r.Run(canceled, Dispatch{ScanID: 1, Command: "echo hi", Token: "y"})
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))
}
