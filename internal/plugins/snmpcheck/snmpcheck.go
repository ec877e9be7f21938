// Package snmpcheck implements the snmpcheck plugin. It tries a list of
// community strings against an SNMP agent and reports which ones answer.
package snmpcheck

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/logging"
)

const (
	defaultPort    = 161
	defaultTimeout = 2 * time.Second

	// sysDescrOID is MIB-II system.sysDescr.0, which nearly every agent serves.
	sysDescrOID = ".1.3.6.1.2.1.1.1.0"
)

// DefaultCommunities are tried when none are given.
var DefaultCommunities = []string{"public", "private"}

// Community is the outcome for one community string.
type Community struct {
	Name     string `json:"name"`
	Open     bool   `json:"open"`
	SysDescr string `json:"sys_descr,omitempty"`
}

// Result is the outcome of one SNMP check.
type Result struct {
	Address     string      `json:"address"`
	Communities []Community `json:"communities"`
}

// Open returns the community strings the agent answered.
func (r *Result) Open() []string {
	var open []string
	for _, c := range r.Communities {
		if c.Open {
			open = append(open, c.Name)
		}
	}
	return open
}

// Write prints one line per community followed by a summary line.
func (r *Result) Write(w io.Writer) error {
	lines := []string{"ADDRESS: " + r.Address}
	for _, c := range r.Communities {
		state := "CLOSED"
		if c.Open {
			state = "OPEN"
		}
		lines = append(lines, fmt.Sprintf("COMMUNITY %s: %s", c.Name, state))
		if c.SysDescr != "" {
			lines = append(lines, fmt.Sprintf("SYSDESCR %s: %s", c.Name, c.SysDescr))
		}
	}
	open := "NONE"
	if names := r.Open(); len(names) > 0 {
		open = strings.Join(names, ",")
	}
	lines = append(lines, "OPEN COMMUNITIES: "+open)
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

// Checker probes SNMP agents.
type Checker struct {
	timeout time.Duration
	logger  *logging.Logger
}

// New creates a checker. timeout applies to each community string.
func New(timeout time.Duration, logger *logging.Logger) *Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Checker{timeout: timeout, logger: logger.WithComponent("snmpcheck")}
}

// Check queries sysDescr at host:port with each community over SNMP v2c.
// A port of 0 means 161. An agent that never answers is not an error:
// every community is reported closed.
func (c *Checker) Check(ctx context.Context, host string, port int, communities []string) (*Result, error) {
	host = strings.TrimSpace(host)
	if host == "" || strings.ContainsAny(host, " /\t\n") {
		return nil, errors.NewScanError(errors.CodeValidation, "no valid host provided").
			WithContext("host", host)
	}
	if port == 0 {
		port = defaultPort
	}
	if port < 0 || port > 65535 {
		return nil, errors.NewScanError(errors.CodeValidation, "port out of range").
			WithContext("port", port)
	}
	if len(communities) == 0 {
		communities = DefaultCommunities
	}

	result := &Result{Address: net.JoinHostPort(host, strconv.Itoa(port))}
	for _, community := range communities {
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapScanError(errors.CodeCanceled, "snmp check canceled", err)
		}
		entry, err := c.try(ctx, host, uint16(port), community)
		if err != nil {
			return nil, err
		}
		result.Communities = append(result.Communities, entry)
	}
	return result, nil
}

// try returns an error only when the client could not be set up.
func (c *Checker) try(ctx context.Context, host string, port uint16, community string) (Community, error) {
	entry := Community{Name: community}
	client := &gosnmp.GoSNMP{
		Target:    host,
		Port:      port,
		Transport: "udp",
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   c.timeout,
		Retries:   0,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return entry, errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "snmp connect failed", host, err)
	}
	defer client.Conn.Close()

	packet, err := client.Get([]string{sysDescrOID})
	if err != nil {
		c.logger.Debug("No SNMP answer", "target", host, "community", community, "error", err)
		return entry, nil
	}
	if packet.Error != gosnmp.NoError || len(packet.Variables) == 0 {
		return entry, nil
	}

	entry.Open = true
	switch value := packet.Variables[0].Value.(type) {
	case []byte:
		entry.SysDescr = strings.TrimSpace(string(value))
	case string:
		entry.SysDescr = strings.TrimSpace(value)
	}
	c.logger.Debug("SNMP community accepted", "target", host, "community", community)
	return entry, nil
}
