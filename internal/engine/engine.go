// Package engine runs bullet sets against a target. One pass loads a bullet
// set, runs all of its commands concurrently, lines the recorded output back
// up with the commands in declaration order, applies the loot rules and
// merges the matches into a FindingTable. Loot rules that name another
// bullet set cause further passes, run one after another.
package engine

import (
	"context"
	"time"

	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/logging"
	"github.com/anstrom/loadout/internal/metrics"
	"github.com/anstrom/loadout/internal/ruleset"
	"github.com/anstrom/loadout/internal/store"
)

// Store is the persistence the engine needs. It must be safe for concurrent use.
type Store interface {
	CreateExecutionRecord(ctx context.Context, rec *store.ExecutionRecord) (int64, error)
	FetchExecutionRecords(ctx context.Context, scanID int64, command, token string) ([]store.ExecutionRecord, error)
	CreateFinding(ctx context.Context, scanID, recordID int64, templateID int, match string) (int64, error)
}

const defaultShell = "/bin/sh"

// Options configures an Engine.
type Options struct {
	// Shell interprets every command, invoked as "<shell> -c <command>".
	Shell string
	// CommandTimeout bounds each command; zero means no limit.
	CommandTimeout time.Duration
	// MaxDepth bounds recursive expansion; zero means unlimited.
	MaxDepth int
	Metrics  metrics.Recorder
	Logger   *logging.Logger
}

// Selection names a top-level bullet set and the port it runs against.
type Selection struct {
	Name string
	Port string
}

// Result is the outcome of a run: one table per completed pass, in the order
// the passes ran, and the recursion targets that were not expanded.
// Warnings holds every rule document problem the run skipped over.
type Result struct {
	Tables   []*FindingTable
	Skipped  []string
	Warnings []*errors.LoadError
}

// Engine drives bullet set passes and their recursive expansion.
type Engine struct {
	loader   *ruleset.Loader
	store    Store
	runner   *Runner
	maxDepth int
	metrics  metrics.Recorder
	logger   *logging.Logger
}

// New creates an engine reading rule documents through loader and recording
// executions in st.
func New(loader *ruleset.Loader, st Store, opts Options) *Engine {
	if opts.Shell == "" {
		opts.Shell = defaultShell
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	logger := opts.Logger.WithComponent("engine")

	return &Engine{
		loader:   loader,
		store:    st,
		runner:   NewRunner(st, opts.Shell, opts.CommandTimeout, opts.Metrics, logger),
		maxDepth: opts.MaxDepth,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// RunBulletSet runs the named bullet set and every bullet set it expands into.
// A rule document that cannot be loaded is logged and contributes nothing.
// An IntegrityError, a store write failure or cancellation aborts the run and
// no partial result is returned.
func (e *Engine) RunBulletSet(ctx context.Context, scanID int64, name string, rctx ruleset.Context) (*Result, error) {
	return e.RunProfile(ctx, scanID, rctx, []Selection{{Name: name, Port: rctx.Port}})
}

// RunProfile runs several top-level bullet sets in order. Recursion
// bookkeeping is shared, so a (bullet set, port) pair runs at most once.
func (e *Engine) RunProfile(ctx context.Context, scanID int64, base ruleset.Context, selections []Selection) (*Result, error) {
	x := &expansion{
		scanID:  scanID,
		visited: make(map[visitKey]bool),
		result:  &Result{},
	}

	for _, sel := range selections {
		rctx := base
		if sel.Port != "" {
			rctx = base.WithPort(sel.Port)
		}
		if err := e.expand(ctx, x, sel.Name, rctx, 0); err != nil {
			return nil, err
		}
	}

	return x.result, nil
}

type visitKey struct {
	name string
	port string
}

// expansion is the state of one RunProfile call.
type expansion struct {
	scanID  int64
	visited map[visitKey]bool
	result  *Result
}

// skip records a recursion target that is not expanded.
func (x *expansion) skip(err *errors.LoadError) {
	x.result.Skipped = append(x.result.Skipped, err.Name)
	x.result.Warnings = append(x.result.Warnings, err)
}

func (e *Engine) expand(ctx context.Context, x *expansion, name string, rctx ruleset.Context, depth int) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapScanError(errors.CodeCanceled, "scan canceled", err)
	}

	logger := e.logger.WithScanID(x.scanID).WithBulletSet(name)

	key := visitKey{name: name, port: rctx.Port}
	if x.visited[key] {
		x.skip(errors.NewLoadError(errors.CodeRuleSetCycle, name, "already run in this scan", nil))
		e.logger.WithScanID(x.scanID).WarnSkipped(name, "already run in this scan", "port", rctx.Port, "depth", depth)
		e.metrics.ExpansionRecorded(metrics.OutcomeCycle)
		return nil
	}
	if e.maxDepth > 0 && depth > e.maxDepth {
		x.skip(errors.NewLoadError(errors.CodeRuleSetDepth, name, "maximum expansion depth reached", nil))
		e.logger.WithScanID(x.scanID).WarnSkipped(name, "maximum expansion depth", "depth", depth, "max_depth", e.maxDepth)
		e.metrics.ExpansionRecorded(metrics.OutcomeDepth)
		return nil
	}
	x.visited[key] = true
	if depth > 0 {
		e.metrics.ExpansionRecorded(metrics.OutcomeExpanded)
	}

	table, targets, err := e.pass(ctx, x.scanID, name, rctx)
	if err != nil {
		if loadErr, ok := errors.AsLoadError(err); ok {
			x.result.Warnings = append(x.result.Warnings, loadErr)
			logger.Warn("Bullet set could not be loaded, skipping", "error", err)
			e.metrics.LoadFailed()
			return nil
		}
		return err
	}
	x.result.Tables = append(x.result.Tables, table)

	for _, target := range targets {
		if err := e.expand(ctx, x, target, rctx, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// pass runs one bullet set and returns its table and recursion targets.
func (e *Engine) pass(ctx context.Context, scanID int64, name string, rctx ruleset.Context) (*FindingTable, []string, error) {
	set, err := e.loader.Load(name, rctx)
	if err != nil {
		return nil, nil, err
	}

	e.logger.WithScanID(scanID).WithBulletSet(name).Debug("Running bullet set",
		"commands", set.Len(), "port", rctx.Port)

	pairs, err := e.orchestrate(ctx, scanID, set)
	if err != nil {
		e.metrics.PassCompleted(name, 0, err)
		return nil, nil, err
	}

	ex := Extract(pairs)
	table := Aggregate(set.Name, rctx.Port, set.MaxID(), ex.Findings)
	e.metrics.PassCompleted(name, table.Count(), nil)

	return table, ex.Targets, nil
}
