package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/loadout/internal/report"
	"github.com/anstrom/loadout/internal/scanning"
)

var (
	scanBullet     string
	scanJSON       bool
	scanEphemeral  bool
	scanNoPortScan bool
)

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan [target...]",
	Short: "Scan one or more targets",
	Long: `Scan each target in turn and print its report.

With --bullet only that bullet set (and the bullet sets its loot rules
expand into) runs. Without it the target is port scanned and the general
bullet set runs, followed by one bullet set per open service.`,
	Example: `  loadout scan 192.168.1.1
  loadout scan -b web example.com
  loadout scan --json -b ssl example.com example.org
  loadout scan --ephemeral -b quick 10.0.0.5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanBullet, "bullet", "b", "", "bullet set to run instead of the port scan profile")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the report as JSON")
	scanCmd.Flags().BoolVar(&scanEphemeral, "ephemeral", false, "keep results in memory instead of the database")
	scanCmd.Flags().BoolVar(&scanNoPortScan, "no-portscan", false,
		"without --bullet, run engine.default_bullet instead of port scanning")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, scanEphemeral, func(a *app) error {
		scanner := a.scanner(!scanNoPortScan)
		cat := report.Catalogue{}
		if !scanJSON {
			cat = a.catalogue()
		}

		out := cmd.OutOrStdout()
		for _, target := range args {
			outcome, err := scanner.Scan(ctx, scanning.Request{Target: target, BulletSet: scanBullet})
			if err != nil {
				return fmt.Errorf("scan of %s failed: %w", target, err)
			}
			if err := printScan(out, outcome, cat); err != nil {
				return err
			}
		}
		return nil
	})
}

func printScan(out io.Writer, outcome *scanning.Outcome, cat report.Catalogue) error {
	if scanJSON {
		return report.RenderJSON(out, outcome.Report)
	}
	if err := report.RenderText(out, outcome.Report, cat); err != nil {
		return err
	}
	for _, name := range outcome.Skipped {
		fmt.Fprintf(out, " -- Not expanded: %s\n", name)
	}
	return nil
}
