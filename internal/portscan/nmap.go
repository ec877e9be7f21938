package portscan

import (
	"context"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/loadout/internal/logging"
)

// NmapProber probes targets with a service detection nmap scan.
type NmapProber struct{}

// Probe runs nmap against target and returns its open ports.
func (NmapProber) Probe(ctx context.Context, target string, topPorts int) ([]Port, error) {
	scanner, err := nmap.NewScanner(ctx,
		nmap.WithTargets(target),
		nmap.WithMostCommonPorts(topPorts),
		nmap.WithServiceInfo(),
		nmap.WithSkipHostDiscovery(),
	)
	if err != nil {
		return nil, err
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, err
	}
	if warnings != nil && len(*warnings) > 0 {
		logging.Debug("Port scan completed with warnings", "target", target, "warnings", *warnings)
	}

	return openPorts(result), nil
}

// openPorts flattens the open ports of every host in result.
func openPorts(result *nmap.Run) []Port {
	var ports []Port
	for i := range result.Hosts {
		host := &result.Hosts[i]
		for j := range host.Ports {
			p := &host.Ports[j]
			if p.State.State != "open" {
				continue
			}
			ports = append(ports, Port{
				Number:   p.ID,
				Protocol: p.Protocol,
				Service:  p.Service.Name,
				Product:  p.Service.Product,
				Version:  p.Service.Version,
				Tunnel:   p.Service.Tunnel,
			})
		}
	}
	return ports
}
