// Package domaincheck implements the domaincheck plugin. It reports whether
// a domain is registered and whether its zone is signed, in a line format
// rule documents can match against.
package domaincheck

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/logging"
)

const (
	// DNSSECUnknown is reported when the zone could not be queried for keys.
	DNSSECUnknown = "Unknown"

	defaultResolver = "8.8.8.8:53"
	resolvConf      = "/etc/resolv.conf"
	defaultTimeout  = 5 * time.Second
	ednsBufferSize  = 4096
)

var domainPattern = regexp.MustCompile(`^([a-z0-9]+(-[a-z0-9]+)*\.)+[a-z]{2,}$`)

// Result is the outcome of one domain check.
type Result struct {
	Domain     string `json:"domain"`
	Registered bool   `json:"registered"`
	// DNSSEC is True, False or Unknown.
	DNSSEC string `json:"dnssec"`
	SOA    string `json:"soa,omitempty"`
}

// Write prints the result one field per line.
func (r *Result) Write(w io.Writer) error {
	lines := []string{
		"DOMAIN: " + r.Domain,
		"REGISTERED: " + pyBool(r.Registered),
		"DNSSEC ENABLED: " + r.DNSSEC,
	}
	if r.SOA != "" {
		lines = append(lines, "SOA: "+r.SOA)
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// Checker queries a resolver for domain registration and DNSSEC state.
type Checker struct {
	resolver string
	client   *dns.Client
	logger   *logging.Logger
}

// New creates a checker. An empty resolver means the first nameserver of
// /etc/resolv.conf, falling back to a public resolver.
func New(resolver string, timeout time.Duration, logger *logging.Logger) *Checker {
	if resolver == "" {
		resolver = systemResolver()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Checker{
		resolver: resolver,
		client:   &dns.Client{Timeout: timeout},
		logger:   logger.WithComponent("domaincheck"),
	}
}

func systemResolver() string {
	conf, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil || len(conf.Servers) == 0 {
		return defaultResolver
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}

// ValidateDomain lowercases domain and checks it is a plain host name.
func ValidateDomain(domain string) (string, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if !domainPattern.MatchString(domain) {
		return "", errors.NewScanError(errors.CodeValidation, "no valid domain name provided").
			WithContext("domain", domain)
	}
	return domain, nil
}

// Check looks up the SOA record of domain and, when it exists, its DNSKEY set.
func (c *Checker) Check(ctx context.Context, domain string) (*Result, error) {
	domain, err := ValidateDomain(domain)
	if err != nil {
		return nil, err
	}
	result := &Result{Domain: domain, DNSSEC: DNSSECUnknown}

	soa, err := c.query(ctx, domain, dns.TypeSOA, false)
	if err != nil {
		return nil, errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "SOA lookup failed", domain, err)
	}
	switch soa.Rcode {
	case dns.RcodeSuccess:
		result.Registered = true
	case dns.RcodeNameError:
		return result, nil
	default:
		return nil, errors.NewScanError(errors.CodeScanFailed,
			fmt.Sprintf("SOA lookup returned %s", dns.RcodeToString[soa.Rcode])).WithContext("domain", domain)
	}
	for _, rr := range soa.Answer {
		if record, ok := rr.(*dns.SOA); ok {
			result.SOA = fmt.Sprintf("%s %s %d", record.Ns, record.Mbox, record.Serial)
			break
		}
	}

	keys, err := c.query(ctx, domain, dns.TypeDNSKEY, true)
	if err != nil || keys.Rcode != dns.RcodeSuccess {
		c.logger.Debug("DNSKEY lookup inconclusive", "domain", domain, "error", err)
		return result, nil
	}
	result.DNSSEC = "False"
	for _, rr := range keys.Answer {
		if _, ok := rr.(*dns.DNSKEY); ok {
			result.DNSSEC = "True"
			break
		}
	}
	return result, nil
}

func (c *Checker) query(ctx context.Context, domain string, qtype uint16, dnssec bool) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	if dnssec {
		msg.SetEdns0(ednsBufferSize, true)
	}

	resp, _, err := c.client.ExchangeContext(ctx, msg, c.resolver)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		tcp := &dns.Client{Net: "tcp", Timeout: c.client.Timeout}
		resp, _, err = tcp.ExchangeContext(ctx, msg, c.resolver)
		if err != nil {
			return nil, err
		}
	}
	c.logger.Debug("DNS query answered",
		"domain", domain,
		"type", dns.TypeToString[qtype],
		"rcode", dns.RcodeToString[resp.Rcode],
		"answers", len(resp.Answer))
	return resp, nil
}
