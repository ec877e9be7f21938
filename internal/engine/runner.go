package engine

import (
	"bytes"
	"context"
	stderrors "errors"
	"os/exec"
	"time"

	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/logging"
	"github.com/anstrom/loadout/internal/metrics"
	"github.com/anstrom/loadout/internal/store"
)

// waitDelay bounds how long Wait blocks on output pipes held open by
// grandchildren after the shell itself was killed.
const waitDelay = 2 * time.Second

// Dispatch is one command handed to the Runner.
type Dispatch struct {
	ScanID    int64
	BulletSet string
	Command   string
	Token     string
}

// Runner executes resolved commands through a shell and records the outcome
// as an execution record.
type Runner struct {
	store   Store
	shell   string
	timeout time.Duration
	metrics metrics.Recorder
	logger  *logging.Logger
}

// NewRunner creates a runner. A zero timeout disables the per-command limit.
func NewRunner(st Store, shell string, timeout time.Duration, rec metrics.Recorder, logger *logging.Logger) *Runner {
	return &Runner{
		store:   st,
		shell:   shell,
		timeout: timeout,
		metrics: rec,
		logger:  logger,
	}
}

// Run executes d.Command and stores its stdout and elapsed time. A non-zero
// exit status and a per-command timeout are recorded, not returned. Only
// cancellation of ctx and store write failures are errors.
func (r *Runner) Run(ctx context.Context, d Dispatch) (int64, error) {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.shell, "-c", d.Command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	logger := r.logger.WithScanID(d.ScanID).WithBulletSet(d.BulletSet).WithDispatch(d.Token)

	r.metrics.CommandStarted()
	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if err := ctx.Err(); err != nil {
		code := errors.CodeCanceled
		if stderrors.Is(err, context.DeadlineExceeded) {
			code = errors.CodeTimeout
		}
		scanErr := errors.WrapScanError(code, "Command interrupted", err).WithContext("command", d.Command)
		r.metrics.CommandFinished(d.BulletSet, duration, scanErr)
		return 0, scanErr
	}

	var exitErr *exec.ExitError
	switch {
	case runCtx.Err() != nil:
		logger.Warn("Command exceeded timeout, keeping partial output",
			"command", d.Command, "timeout", r.timeout)
	case runErr == nil:
	case stderrors.As(runErr, &exitErr):
		logger.Debug("Command exited with non-zero status", "command", d.Command, "exit_code", exitErr.ExitCode())
	default:
		logger.Warn("Command could not be run", "command", d.Command, "error", runErr)
	}
	if stderr.Len() > 0 {
		logger.Debug("Discarded command stderr", "command", d.Command, "bytes", stderr.Len())
	}

	rec := &store.ExecutionRecord{
		ScanID:         d.ScanID,
		Command:        d.Command,
		Token:          d.Token,
		ElapsedSeconds: int64(duration / time.Second),
		Output:         stdout.String(),
	}
	id, err := r.store.CreateExecutionRecord(ctx, rec)
	if err != nil {
		storeErr := errors.ErrStoreWrite(d.Command, err)
		r.metrics.CommandFinished(d.BulletSet, duration, storeErr)
		return 0, storeErr
	}

	r.metrics.CommandFinished(d.BulletSet, duration, nil)
	logger.Debug("Command recorded", "record_id", id, "elapsed", rec.Elapsed())
	return id, nil
}
