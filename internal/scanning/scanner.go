package scanning

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/anstrom/loadout/internal/engine"
	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/logging"
	"github.com/anstrom/loadout/internal/portscan"
	"github.com/anstrom/loadout/internal/report"
	"github.com/anstrom/loadout/internal/ruleset"
	"github.com/anstrom/loadout/internal/scratch"
	"github.com/anstrom/loadout/internal/store"
)

// DefaultProfile names scans that ran the port scan profile.
const DefaultProfile = "Default"

// Options configures a Scanner.
type Options struct {
	RulesPath   string
	PluginsPath string
	ScratchRoot string
	// DefaultBullet runs when no bullet set is requested and port scanning
	// is unavailable.
	DefaultBullet string
}

// Request describes one scan.
type Request struct {
	Target string
	// BulletSet selects a single bullet set; empty runs the default profile.
	BulletSet string
	MassID    *int64
}

// Outcome is the result of a completed scan.
type Outcome struct {
	ScanID  int64
	Report  *report.Report
	Ports   []portscan.Port
	Skipped []string
}

// Scanner runs scans.
type Scanner struct {
	engine *engine.Engine
	ports  *portscan.Scanner
	store  store.Store
	opts   Options
	logger *logging.Logger
	now    func() time.Time
}

// New creates a Scanner. ports may be nil, in which case scans without a
// bullet set fall back to Options.DefaultBullet.
func New(eng *engine.Engine, ports *portscan.Scanner, st store.Store, opts Options, logger *logging.Logger) *Scanner {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scanner{
		engine: eng,
		ports:  ports,
		store:  st,
		opts:   opts,
		logger: logger.WithComponent("scanning"),
		now:    time.Now,
	}
}

// Scan runs req to completion and returns the stored report.
func (s *Scanner) Scan(ctx context.Context, req Request) (*Outcome, error) {
	target := strings.TrimSpace(req.Target)
	if target == "" || strings.ContainsAny(target, "\n\r\x00") {
		return nil, errors.ErrInvalidTarget(req.Target)
	}
	if req.BulletSet == "" && s.ports == nil && s.opts.DefaultBullet == "" {
		return nil, errors.NewScanError(errors.CodeConfiguration,
			"no bullet set requested and no default profile available")
	}

	profile := req.BulletSet
	if profile == "" {
		profile = DefaultProfile
	}

	start := s.now()
	scanID, err := s.store.CreateScan(ctx, &store.Scan{Target: target, MassID: req.MassID, Profile: profile})
	if err != nil {
		return nil, errors.WrapScanErrorWithTarget(errors.CodeStoreWrite, "failed to create scan", target, err)
	}
	logger := s.logger.WithScanID(scanID)
	logger.InfoScan("Scan started", target, "profile", profile)

	outcome, err := s.run(ctx, scanID, target, req.BulletSet)
	elapsed := int64(s.now().Sub(start) / time.Second)
	if completeErr := s.store.CompleteScan(context.WithoutCancel(ctx), scanID, elapsed); completeErr != nil {
		logger.Warn("Failed to store scan run time", "error", completeErr)
	}
	if err != nil {
		if errors.IsIntegrityError(err) {
			logger.ErrorScan("Scan aborted, execution record missing", target, err)
		} else {
			logger.ErrorScan("Scan failed", target, err)
		}
		return nil, err
	}

	outcome.Report, err = report.Load(ctx, s.store, scanID, outcome.descriptions)
	if err != nil {
		return nil, err
	}
	logger.InfoScan("Scan completed", target,
		"findings", len(outcome.Report.Entries), "elapsed", store.FormatElapsed(elapsed))
	return &outcome.Outcome, nil
}

type runOutcome struct {
	Outcome
	descriptions report.Descriptions
}

func (s *Scanner) run(ctx context.Context, scanID int64, target, bulletSet string) (*runOutcome, error) {
	dir, err := scratch.New(s.opts.ScratchRoot)
	if err != nil {
		return nil, err
	}
	defer dir.Remove()

	rctx := ruleset.Context{
		Target:      ruleset.ShellQuote(target),
		RulesPath:   withSeparator(s.opts.RulesPath),
		ScratchDir:  dir.Path(),
		PluginsPath: withSeparator(s.opts.PluginsPath),
	}

	out := &runOutcome{Outcome: Outcome{ScanID: scanID}}
	var result *engine.Result

	switch {
	case bulletSet != "":
		result, err = s.engine.RunBulletSet(ctx, scanID, bulletSet, rctx)
	case s.ports != nil:
		var ports *portscan.Result
		ports, err = s.ports.Run(ctx, scanID, target, dir.Path())
		if err != nil {
			return nil, err
		}
		out.Ports = ports.Ports
		result, err = s.engine.RunProfile(ctx, scanID, rctx, ports.Selections)
	default:
		result, err = s.engine.RunBulletSet(ctx, scanID, s.opts.DefaultBullet, rctx)
	}
	if err != nil {
		return nil, err
	}

	findings := report.Merge(result.Tables)
	out.descriptions, err = report.Persist(ctx, s.store, scanID, findings)
	if err != nil {
		return nil, err
	}
	out.Skipped = result.Skipped
	return out, nil
}

func withSeparator(dir string) string {
	if dir == "" || strings.HasSuffix(dir, string(os.PathSeparator)) {
		return dir
	}
	return dir + string(os.PathSeparator)
}
