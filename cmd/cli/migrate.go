package cli

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/loadout/internal/db"
)

var migrateForce bool

// migrateCmd groups the schema migration commands.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateUp,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations are applied",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

var migrateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all loadout tables and migrate again",
	Long: `Drop all loadout tables, discarding every stored scan and mass run, and
apply the migrations again. Requires --force.`,
	Args: cobra.NoArgs,
	RunE: runMigrateReset,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd, migrateResetCmd)

	migrateResetCmd.Flags().BoolVar(&migrateForce, "force", false, "confirm that all data is dropped")
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withApp(ctx, false, func(a *app) error {
		ran, err := db.NewMigrator(a.database.DB).Up(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ran) == 0 {
			fmt.Fprintln(out, "Database schema is up to date.")
			return nil
		}
		for _, name := range ran {
			fmt.Fprintf(out, "Applied %s\n", name)
		}
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withApp(ctx, false, func(a *app) error {
		statuses, err := db.NewMigrator(a.database.DB).Status(ctx)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Migration", "Applied", "Applied At", "Modified")
		for _, s := range statuses {
			appliedAt := ""
			if s.Applied {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			if err := table.Append([]string{
				s.Name,
				yesNo(s.Applied),
				appliedAt,
				yesNo(s.Modified),
			}); err != nil {
				return err
			}
		}
		return table.Render()
	})
}

func runMigrateReset(cmd *cobra.Command, _ []string) error {
	if !migrateForce {
		return fmt.Errorf("reset drops all data, pass --force to confirm")
	}

	ctx := cmd.Context()
	return withApp(ctx, false, func(a *app) error {
		if err := db.NewMigrator(a.database.DB).Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database reset complete.")
		return nil
	})
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
