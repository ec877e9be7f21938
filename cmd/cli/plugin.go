package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/loadout/internal/logging"
	"github.com/anstrom/loadout/internal/plugins/domaincheck"
	"github.com/anstrom/loadout/internal/plugins/snmpcheck"
	"github.com/anstrom/loadout/internal/plugins/sshcheck"
)

var (
	domainResolver string
	domainTimeout  time.Duration

	sshPort    int
	sshTimeout time.Duration

	snmpPort        int
	snmpCommunities []string
	snmpTimeout     time.Duration
)

// pluginCmd groups the built-in plugins rule documents can call.
var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Run a built-in plugin",
	Long: `Built-in plugins print plain text for rule documents to match against,
e.g. a rule command of "loadout plugin domaincheck [target]".`,
}

var domainCheckCmd = &cobra.Command{
	Use:   "domaincheck [domain]",
	Short: "Report whether a domain is registered and signed with DNSSEC",
	Example: `  loadout plugin domaincheck example.com
  loadout plugin domaincheck --resolver 1.1.1.1:53 example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runDomainCheck,
}

var sshCheckCmd = &cobra.Command{
	Use:   "sshcheck [host]",
	Short: "Report an SSH server's version, host key and authentication methods",
	Example: `  loadout plugin sshcheck 10.0.0.5
  loadout plugin sshcheck --port 2222 example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runSSHCheck,
}

var snmpCheckCmd = &cobra.Command{
	Use:   "snmpcheck [host]",
	Short: "Report which SNMP community strings an agent accepts",
	Example: `  loadout plugin snmpcheck 10.0.0.1
  loadout plugin snmpcheck --community public,private,cisco 10.0.0.1`,
	Args: cobra.ExactArgs(1),
	RunE: runSNMPCheck,
}

func init() {
	rootCmd.AddCommand(pluginCmd)
	pluginCmd.AddCommand(domainCheckCmd, sshCheckCmd, snmpCheckCmd)

	domainCheckCmd.Flags().StringVar(&domainResolver, "resolver", "", "resolver address (default from /etc/resolv.conf)")
	domainCheckCmd.Flags().DurationVar(&domainTimeout, "timeout", 5*time.Second, "timeout per DNS query")

	sshCheckCmd.Flags().IntVar(&sshPort, "port", 22, "SSH port")
	sshCheckCmd.Flags().DurationVar(&sshTimeout, "timeout", 5*time.Second, "timeout for the whole exchange")

	snmpCheckCmd.Flags().IntVar(&snmpPort, "port", 161, "SNMP port")
	snmpCheckCmd.Flags().StringSliceVar(&snmpCommunities, "community", snmpcheck.DefaultCommunities,
		"community strings to try")
	snmpCheckCmd.Flags().DurationVar(&snmpTimeout, "timeout", 2*time.Second, "timeout per community string")
}

func runDomainCheck(cmd *cobra.Command, args []string) error {
	checker := domaincheck.New(domainResolver, domainTimeout, logging.Default())
	result, err := checker.Check(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return result.Write(cmd.OutOrStdout())
}

func runSSHCheck(cmd *cobra.Command, args []string) error {
	result, err := sshcheck.New(sshTimeout, logging.Default()).Check(cmd.Context(), args[0], sshPort)
	if err != nil {
		return err
	}
	return result.Write(cmd.OutOrStdout())
}

func runSNMPCheck(cmd *cobra.Command, args []string) error {
	checker := snmpcheck.New(snmpTimeout, logging.Default())
	result, err := checker.Check(cmd.Context(), args[0], snmpPort, snmpCommunities)
	if err != nil {
		return err
	}
	return result.Write(cmd.OutOrStdout())
}
