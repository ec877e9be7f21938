package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/anstrom/loadout/internal/report"
)

var reportJSON bool

// reportCmd represents the report command.
var reportCmd = &cobra.Command{
	Use:   "report [scan-id]",
	Short: "Show the report of a stored scan",
	Example: `  loadout report 14
  loadout report --json 14`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

// listTestsCmd represents the list-tests command.
var listTestsCmd = &cobra.Command{
	Use:     "list-tests [target]",
	Short:   "List stored scans whose target contains the given text",
	Example: `  loadout list-tests example.com`,
	Args:    cobra.ExactArgs(1),
	RunE:    runListTests,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(listTestsCmd)

	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print the report as JSON")
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s id %q", what, arg)
	}
	return id, nil
}

func runReport(cmd *cobra.Command, args []string) error {
	scanID, err := parseID(args[0], "scan")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	return withApp(ctx, false, func(a *app) error {
		rep, err := report.Load(ctx, a.store, scanID, nil)
		if err != nil {
			return err
		}
		if reportJSON {
			return report.RenderJSON(cmd.OutOrStdout(), rep)
		}
		return report.RenderText(cmd.OutOrStdout(), rep, a.catalogue())
	})
}

func runListTests(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, false, func(a *app) error {
		scans, err := a.store.ListScansByTarget(ctx, args[0])
		if err != nil {
			return err
		}
		return report.RenderScans(cmd.OutOrStdout(), scans)
	})
}
