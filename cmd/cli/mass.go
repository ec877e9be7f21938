package cli

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/loadout/internal/mass"
	"github.com/anstrom/loadout/internal/report"
)

var (
	massType       string
	massReportJSON bool
)

// massCmd groups the mass run commands.
var massCmd = &cobra.Command{
	Use:   "mass",
	Short: "Run and inspect mass scans",
	Long: `Mass runs scan every registered mass target with the bullet set configured
for the run type under mass.bullets.`,
}

var massRunCmd = &cobra.Command{
	Use:     "run",
	Short:   "Scan every mass target",
	Example: `  loadout mass run --type day`,
	Args:    cobra.NoArgs,
	RunE:    runMassRun,
}

var massReportCmd = &cobra.Command{
	Use:   "report [mass-id]",
	Short: "Show the findings of a mass run grouped by target",
	Example: `  loadout mass report 3
  loadout mass report --json 3`,
	Args: cobra.ExactArgs(1),
	RunE: runMassReport,
}

var massTargetCmd = &cobra.Command{
	Use:   "target",
	Short: "Manage mass targets",
}

var massTargetAddCmd = &cobra.Command{
	Use:     "add [target]",
	Short:   "Register a mass target",
	Example: `  loadout mass target add example.com`,
	Args:    cobra.ExactArgs(1),
	RunE:    runMassTargetAdd,
}

var massTargetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mass targets",
	Args:  cobra.NoArgs,
	RunE:  runMassTargetList,
}

func init() {
	rootCmd.AddCommand(massCmd)
	massCmd.AddCommand(massRunCmd, massReportCmd, massTargetCmd)
	massTargetCmd.AddCommand(massTargetAddCmd, massTargetListCmd)

	massRunCmd.Flags().StringVar(&massType, "type", "day",
		"mass run type ("+strings.Join(mass.Types, ", ")+")")
	massReportCmd.Flags().BoolVar(&massReportJSON, "json", false, "print the findings as JSON")
}

func runMassRun(cmd *cobra.Command, _ []string) error {
	if !mass.IsType(massType) {
		return fmt.Errorf("unsupported mass type %q, use one of: %s", massType, strings.Join(mass.Types, ", "))
	}

	ctx := cmd.Context()
	return withApp(ctx, false, func(a *app) error {
		summary, err := a.massRunner().Run(ctx, massType)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Mass run %d (%s): %d targets, %d failed (%d aborted)\n",
			summary.MassID, summary.Type, summary.Targets, len(summary.Failed), summary.Fatal)
		for target, scanErr := range summary.Failed {
			fmt.Fprintf(out, "  %s: %v\n", target, scanErr)
		}
		return nil
	})
}

func runMassReport(cmd *cobra.Command, args []string) error {
	massID, err := parseID(args[0], "mass")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	return withApp(ctx, false, func(a *app) error {
		findings, grouped, err := a.massRunner().Report(ctx, massID)
		if err != nil {
			return err
		}
		if massReportJSON {
			return report.RenderJSON(cmd.OutOrStdout(), grouped)
		}
		return report.RenderMass(cmd.OutOrStdout(), massID, findings, a.catalogue())
	})
}

func runMassTargetAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, false, func(a *app) error {
		id, err := a.massRunner().AddTarget(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added mass target %d: %s\n", id, args[0])
		return nil
	})
}

func runMassTargetList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withApp(ctx, false, func(a *app) error {
		targets, err := a.massRunner().Targets(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(targets) == 0 {
			fmt.Fprintln(out, "No mass targets registered.")
			return nil
		}

		table := tablewriter.NewWriter(out)
		table.Header("ID", "Target", "Added")
		for _, t := range targets {
			if err := table.Append([]string{
				fmt.Sprint(t.ID),
				t.Target,
				t.CreatedAt.Format("2006-01-02 15:04:05"),
			}); err != nil {
				return err
			}
		}
		return table.Render()
	})
}
