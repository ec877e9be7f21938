// Package mass runs one bullet set against every registered mass target and
// reports the findings of such runs grouped by target.
package mass

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/logging"
	"github.com/anstrom/loadout/internal/scanning"
	"github.com/anstrom/loadout/internal/store"
	"github.com/anstrom/loadout/internal/workers"
)

// Types lists the supported mass run types.
var Types = []string{"day", "week", "month"}

// IsType reports whether t is a supported mass run type.
func IsType(t string) bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Scanner runs one scan.
type Scanner interface {
	Scan(ctx context.Context, req scanning.Request) (*scanning.Outcome, error)
}

// Store is the persistence mass runs need.
type Store interface {
	CreateMassRun(ctx context.Context, massType string) (int64, error)
	CompleteMassRun(ctx context.Context, massID int64) error
	AddMassTarget(ctx context.Context, target string) (int64, error)
	ListMassTargets(ctx context.Context) ([]store.MassTarget, error)
	ListMassFindings(ctx context.Context, massID int64) ([]store.FindingDetail, error)
}

// Recorder receives mass run metrics.
type Recorder interface {
	MassRunCompleted(massType string, err error)
	MassTargetCompleted(massType string, err error)
}

type nopRecorder struct{}

func (nopRecorder) MassRunCompleted(string, error)    {}
func (nopRecorder) MassTargetCompleted(string, error) {}

// Summary describes a finished mass run.
type Summary struct {
	MassID  int64
	Type    string
	Targets int
	// Failed maps targets whose scan failed to the error.
	Failed map[string]error
	// Fatal counts the failures that aborted a scan midway, such as a
	// missing execution record or a store write error.
	Fatal int
}

// TargetFindings is the findings of one target in a mass run.
type TargetFindings struct {
	Target   string
	Findings []store.FindingDetail
}

// Runner executes mass runs.
type Runner struct {
	scanner     Scanner
	store       Store
	bullets     map[string]string
	concurrency int
	metrics     Recorder
	logger      *logging.Logger
}

// NewRunner creates a Runner. bullets maps each mass type to the bullet set
// its runs use.
func NewRunner(scanner Scanner, st Store, bullets map[string]string, concurrency int,
	rec Recorder, logger *logging.Logger) *Runner {
	if rec == nil {
		rec = nopRecorder{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		scanner:     scanner,
		store:       st,
		bullets:     bullets,
		concurrency: concurrency,
		metrics:     rec,
		logger:      logger.WithComponent("mass"),
	}
}

// Bullet returns the bullet set configured for massType.
func (r *Runner) Bullet(massType string) (string, error) {
	if !IsType(massType) {
		return "", errors.NewConfigFieldError(errors.CodeValidation,
			"mass profile is not supported, use day, week or month", "type", massType)
	}
	bullet := r.bullets[massType]
	if bullet == "" {
		return "", errors.ErrConfigMissing("mass.bullets." + massType)
	}
	return bullet, nil
}

// Run scans every mass target with the bullet set of massType. A failing
// target is logged and counted; only store failures fail the run.
func (r *Runner) Run(ctx context.Context, massType string) (summary *Summary, err error) {
	defer func() { r.metrics.MassRunCompleted(massType, err) }()

	bullet, err := r.Bullet(massType)
	if err != nil {
		return nil, err
	}

	targets, err := r.store.ListMassTargets(ctx)
	if err != nil {
		return nil, err
	}

	massID, err := r.store.CreateMassRun(ctx, massType)
	if err != nil {
		return nil, err
	}

	logger := r.logger.WithMassRun(massID, massType)
	logger.Info("Mass run started", "bullet_set", bullet, "targets", len(targets))

	summary = &Summary{MassID: massID, Type: massType, Targets: len(targets), Failed: make(map[string]error)}
	var mu sync.Mutex

	jobs := make([]workers.Job, 0, len(targets))
	for _, t := range targets {
		target := t.Target
		jobs = append(jobs, workers.NewFuncJob(fmt.Sprintf("mass-%d-%d", massID, t.ID), "mass",
			func(ctx context.Context) error {
				_, scanErr := r.scanner.Scan(ctx, scanning.Request{
					Target:    target,
					BulletSet: bullet,
					MassID:    &massID,
				})
				r.metrics.MassTargetCompleted(massType, scanErr)
				if scanErr == nil {
					return nil
				}
				fatal := errors.IsFatal(scanErr)
				mu.Lock()
				summary.Failed[target] = scanErr
				if fatal {
					summary.Fatal++
				}
				mu.Unlock()
				if fatal {
					logger.Error("Mass target aborted", "target", target, "error", scanErr)
				} else {
					logger.Warn("Mass target failed", "target", target, "error", scanErr)
				}
				return scanErr
			}))
	}

	workers.RunAll(ctx, workers.Config{Size: r.concurrency, QueueSize: len(jobs)}, logger, jobs)

	if err := r.store.CompleteMassRun(context.WithoutCancel(ctx), massID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return summary, errors.WrapScanError(errors.CodeCanceled, "mass run interrupted", err)
	}

	logger.Info("Mass run completed", "targets", len(targets), "failed", len(summary.Failed), "fatal", summary.Fatal)
	return summary, nil
}

// AddTarget registers target for future mass runs.
func (r *Runner) AddTarget(ctx context.Context, target string) (int64, error) {
	target = strings.TrimSpace(target)
	if target == "" || strings.ContainsAny(target, " \t\n\r") {
		return 0, errors.ErrInvalidTarget(target)
	}
	return r.store.AddMassTarget(ctx, target)
}

// Targets returns the registered mass targets.
func (r *Runner) Targets(ctx context.Context) ([]store.MassTarget, error) {
	return r.store.ListMassTargets(ctx)
}

// Report returns the findings of a mass run grouped by target, targets in
// the order the store returns them.
func (r *Runner) Report(ctx context.Context, massID int64) ([]store.FindingDetail, []TargetFindings, error) {
	findings, err := r.store.ListMassFindings(ctx, massID)
	if err != nil {
		return nil, nil, err
	}
	return findings, Group(findings), nil
}

// Group splits findings into consecutive runs of the same target.
func Group(findings []store.FindingDetail) []TargetFindings {
	var groups []TargetFindings
	for i := range findings {
		f := findings[i]
		if n := len(groups); n > 0 && groups[n-1].Target == f.Target {
			groups[n-1].Findings = append(groups[n-1].Findings, f)
			continue
		}
		groups = append(groups, TargetFindings{Target: f.Target, Findings: []store.FindingDetail{f}})
	}
	return groups
}
