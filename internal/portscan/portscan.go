// Package portscan implements the default scan profile: a top-ports service
// scan of the target whose open ports decide which bullet sets run next.
package portscan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/loadout/internal/engine"
	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/logging"
	"github.com/anstrom/loadout/internal/store"
)

const (
	// GeneralBulletSet always runs first in the default profile.
	GeneralBulletSet = "general"
	// SSLBulletSet runs for https ports tunnelled over ssl.
	SSLBulletSet = "ssl"
	// ManagementTemplateID is the finding raised when a management service is exposed.
	ManagementTemplateID = 1

	defaultTopPorts = 50
	outputFile      = "nmap_scan.txt"
)

// managementServices are remote administration services that should not be
// reachable from the outside.
var managementServices = map[string]bool{
	"ssh":          true,
	"telnet":       true,
	"vnc":          true,
	"ftp":          true,
	"mysql":        true,
	"microsoft-ds": true,
	"msrpc":        true,
}

// Port is an open port found by the scan.
type Port struct {
	Number   uint16 `json:"port"`
	Protocol string `json:"protocol"`
	Service  string `json:"service"`
	Product  string `json:"product,omitempty"`
	Version  string `json:"version,omitempty"`
	Tunnel   string `json:"tunnel,omitempty"`
	// Duplicate marks 443 when it serves the same site as 80.
	Duplicate bool `json:"duplicate"`
}

// IsManagement reports whether the port runs a remote administration service.
func (p Port) IsManagement() bool {
	return managementServices[p.Service]
}

// Prober finds the open ports of a target.
type Prober interface {
	Probe(ctx context.Context, target string, topPorts int) ([]Port, error)
}

// SiteComparer reports whether plain and TLS HTTP serve the same site.
type SiteComparer interface {
	SameSite(ctx context.Context, target string) bool
}

// Store is the persistence the profile needs.
type Store interface {
	CreateExecutionRecord(ctx context.Context, rec *store.ExecutionRecord) (int64, error)
	CreateFinding(ctx context.Context, scanID, recordID int64, templateID int, match string) (int64, error)
}

// Result is the outcome of the port scan.
type Result struct {
	Ports      []Port
	Record     store.ExecutionRecord
	Selections []engine.Selection
	// Management is set when a management finding was stored.
	Management bool
}

// Scanner runs the default profile port scan.
type Scanner struct {
	prober   Prober
	comparer SiteComparer
	store    Store
	topPorts int
	logger   *logging.Logger
}

// NewScanner creates a port scan runner. A nil comparer disables the 80/443
// duplicate check.
func NewScanner(prober Prober, comparer SiteComparer, st Store, topPorts int, logger *logging.Logger) *Scanner {
	if topPorts <= 0 {
		topPorts = defaultTopPorts
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scanner{
		prober:   prober,
		comparer: comparer,
		store:    st,
		topPorts: topPorts,
		logger:   logger.WithComponent("portscan"),
	}
}

// Run scans target, records the scan as an execution record of scanID,
// writes the summary into scratchDir and returns the bullet sets to run.
func (s *Scanner) Run(ctx context.Context, scanID int64, target, scratchDir string) (*Result, error) {
	command := fmt.Sprintf("nmap --open --top-ports=%d -sV %s", s.topPorts, target)
	logger := s.logger.WithScanID(scanID)
	logger.InfoScan("Starting port scan", target, "top_ports", s.topPorts)

	start := time.Now()
	ports, err := s.prober.Probe(ctx, target, s.topPorts)
	if err != nil {
		return nil, errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "port scan failed", target, err)
	}
	elapsed := int64(time.Since(start) / time.Second)

	s.markDuplicates(ctx, target, ports)
	output := Summary(ports)

	if scratchDir != "" {
		path := filepath.Join(scratchDir, outputFile)
		if err := os.WriteFile(path, []byte(output), 0o600); err != nil {
			logger.Warn("Failed to write port scan output", "path", path, "error", err)
		}
	}

	rec := store.ExecutionRecord{
		ScanID:         scanID,
		Command:        command,
		Token:          uuid.NewString(),
		ElapsedSeconds: elapsed,
		Output:         output,
	}
	id, err := s.store.CreateExecutionRecord(ctx, &rec)
	if err != nil {
		return nil, errors.ErrStoreWrite(command, err)
	}
	rec.ID = id

	result := &Result{Ports: ports, Record: rec, Selections: Selections(ports)}

	for _, p := range ports {
		if p.IsManagement() {
			if _, err := s.store.CreateFinding(ctx, scanID, rec.ID, ManagementTemplateID, output); err != nil {
				return nil, errors.WrapScanErrorWithTarget(errors.CodeStoreWrite,
					"failed to store management finding", target, err)
			}
			result.Management = true
			break
		}
	}

	logger.InfoScan("Port scan completed", target,
		"open_ports", len(ports), "elapsed", store.FormatElapsed(elapsed))
	return result, nil
}

func (s *Scanner) markDuplicates(ctx context.Context, target string, ports []Port) {
	if s.comparer == nil {
		return
	}
	seen80 := false
	for i := range ports {
		switch ports[i].Number {
		case 80:
			seen80 = true
		case 443:
			if seen80 && s.comparer.SameSite(ctx, target) {
				s.logger.Info("Ports 80 and 443 serve the same site", "target", target)
				ports[i].Duplicate = true
			}
		}
	}
}

// Selections returns the bullet sets to run for ports: general first, then
// one per non-duplicate port named after its service, plus ssl for https
// tunnelled over ssl.
func Selections(ports []Port) []engine.Selection {
	selections := []engine.Selection{{Name: GeneralBulletSet}}
	for _, p := range ports {
		if p.Duplicate || p.Service == "" {
			continue
		}
		port := fmt.Sprint(p.Number)
		selections = append(selections, engine.Selection{Name: p.Service, Port: port})
		if p.Service == "https" && p.Tunnel == "ssl" {
			selections = append(selections, engine.Selection{Name: SSLBulletSet, Port: port})
		}
	}
	return selections
}

// Summary renders ports the way nmap's normal output lists them.
func Summary(ports []Port) string {
	var b strings.Builder
	b.WriteString("PORT\tSTATE\tSERVICE\tVERSION\n")
	for _, p := range ports {
		service := p.Service
		if p.Tunnel != "" {
			service = p.Tunnel + "/" + service
		}
		version := strings.TrimSpace(p.Product + " " + p.Version)
		fmt.Fprintf(&b, "%d/%s\topen\t%s\t%s\n", p.Number, p.Protocol, service, version)
	}
	return b.String()
}
