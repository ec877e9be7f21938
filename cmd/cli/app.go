package cli

import (
	"context"
	"fmt"

	"github.com/anstrom/loadout/internal/config"
	"github.com/anstrom/loadout/internal/db"
	"github.com/anstrom/loadout/internal/engine"
	"github.com/anstrom/loadout/internal/logging"
	"github.com/anstrom/loadout/internal/mass"
	"github.com/anstrom/loadout/internal/metrics"
	"github.com/anstrom/loadout/internal/portscan"
	"github.com/anstrom/loadout/internal/report"
	"github.com/anstrom/loadout/internal/ruleset"
	"github.com/anstrom/loadout/internal/scanning"
	"github.com/anstrom/loadout/internal/store"
)

// app wires the configured components for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *metrics.PrometheusMetrics
	database *db.DB
	store    store.Store
}

// newApp loads the configuration and opens the store. An ephemeral app
// keeps everything in memory and needs no database.
func newApp(ctx context.Context, ephemeral bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logging.Default(),
		metrics: metrics.GetGlobalMetrics(),
	}

	if ephemeral {
		a.store = store.NewMemory()
		return a, nil
	}

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	a.database = database
	a.store = db.NewStore(database, a.metrics)
	return a, nil
}

// Close releases the database connection.
func (a *app) Close() {
	if a.database == nil {
		return
	}
	if err := a.database.Close(); err != nil {
		a.logger.Warn("Failed to close database connection", "error", err)
	}
}

func (a *app) engine() *engine.Engine {
	return engine.New(ruleset.NewLoader(a.cfg.Engine.BulletsDir), a.store, engine.Options{
		Shell:          a.cfg.Engine.Shell,
		CommandTimeout: a.cfg.Engine.CommandTimeout,
		MaxDepth:       a.cfg.Engine.MaxDepth,
		Metrics:        a.metrics,
		Logger:         a.logger,
	})
}

// scanner builds the scan pipeline. Without port scanning, scans that name
// no bullet set fall back to engine.default_bullet.
func (a *app) scanner(portScan bool) *scanning.Scanner {
	var ports *portscan.Scanner
	if portScan {
		ports = portscan.NewScanner(portscan.NmapProber{}, portscan.NewHTTPComparer(),
			a.store, a.cfg.Engine.TopPorts, a.logger)
	}
	return scanning.New(a.engine(), ports, a.store, scanning.Options{
		RulesPath:     a.cfg.Engine.BulletsDir,
		PluginsPath:   a.cfg.Engine.PluginsDir,
		ScratchRoot:   a.cfg.Engine.ScratchRoot,
		DefaultBullet: a.cfg.Engine.DefaultBullet,
	}, a.logger)
}

func (a *app) massRunner() *mass.Runner {
	return mass.NewRunner(a.scanner(true), a.store, a.cfg.Mass.Bullets,
		a.cfg.Mass.Concurrency, a.metrics, a.logger)
}

// catalogue loads the finding templates. A missing catalogue only degrades
// the text report, so it is logged rather than returned.
func (a *app) catalogue() report.Catalogue {
	cat, err := report.LoadCatalogue(a.cfg.TemplatePath())
	if err != nil {
		a.logger.Warn("Finding templates unavailable", "path", a.cfg.TemplatePath(), "error", err)
		return report.Catalogue{}
	}
	return cat
}

// withApp runs fn with an app and closes it afterwards.
func withApp(ctx context.Context, ephemeral bool, fn func(a *app) error) error {
	a, err := newApp(ctx, ephemeral)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
