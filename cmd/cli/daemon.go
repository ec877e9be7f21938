package cli

import (
	"fmt"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/loadout/internal/api"
	"github.com/anstrom/loadout/internal/daemon"
	"github.com/anstrom/loadout/internal/db"
)

// daemonCmd runs the daemon in the foreground.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled mass scans and the HTTP API",
	Long: `Run loadout as a service in the foreground. Pending migrations are applied,
every mass type with both a schedule and a bullet set is scheduled, and the
HTTP API with health, reports and Prometheus metrics is served on
daemon.listen_addr:daemon.port until SIGTERM or SIGINT.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a daemon is running",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStatusCmd, daemonStopCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withApp(ctx, false, func(a *app) error {
		if _, err := db.NewMigrator(a.database.DB).Up(ctx); err != nil {
			return err
		}

		d, err := daemon.New(daemon.Options{
			PIDFile:   a.cfg.Daemon.PIDFile,
			Schedules: a.schedules(),
			API: api.Config{
				Addr:            a.cfg.GetDaemonAddress(),
				ShutdownTimeout: a.cfg.Daemon.ShutdownTimeout,
				CORSOrigins:     a.cfg.Daemon.CORSOrigins,
			},
		}, daemon.Deps{
			Runner:   a.massRunner(),
			Store:    a.store,
			Database: a.database.DB,
			Metrics:  a.metrics,
		}, a.logger)
		if err != nil {
			return err
		}
		return d.Run(ctx)
	})
}

// schedules returns the configured schedules whose mass type has a bullet
// set. The others could only ever fail, so they are skipped with a warning.
func (a *app) schedules() map[string]string {
	types := make([]string, 0, len(a.cfg.Mass.Schedules))
	for massType := range a.cfg.Mass.Schedules {
		types = append(types, massType)
	}
	sort.Strings(types)

	schedules := make(map[string]string, len(types))
	for _, massType := range types {
		if a.cfg.Mass.Bullets[massType] == "" {
			a.logger.Warn("Skipping schedule without a bullet set", "mass_type", massType)
			continue
		}
		schedules[massType] = a.cfg.Mass.Schedules[massType]
	}
	return schedules
}

func runDaemonStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pid, alive := daemon.ReadPID(cfg.Daemon.PIDFile)
	out := cmd.OutOrStdout()
	if !alive {
		fmt.Fprintln(out, "Daemon is not running.")
		return nil
	}
	fmt.Fprintf(out, "Daemon is running with PID %d on %s\n", pid, cfg.GetDaemonAddress())
	return nil
}

func runDaemonStop(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pid, alive := daemon.ReadPID(cfg.Daemon.PIDFile)
	if !alive {
		return fmt.Errorf("daemon is not running")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon with PID %d: %w", pid, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to daemon with PID %d\n", pid)
	return nil
}
