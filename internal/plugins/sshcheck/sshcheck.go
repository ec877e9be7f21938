// Package sshcheck implements the sshcheck plugin: it completes an SSH key
// exchange with a server and reports its version, host key and offered
// authentication methods without ever sending a credential.
package sshcheck

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/logging"
)

const (
	defaultPort    = 22
	defaultTimeout = 5 * time.Second
	clientVersion  = "SSH-2.0-loadout"
	probeUser      = "loadout"
	maxVersionScan = 4096
)

// errProbe aborts an authentication method once it has been offered.
var errProbe = stderrors.New("authentication method probed")

// Result is the outcome of one SSH check.
type Result struct {
	Address     string   `json:"address"`
	Version     string   `json:"version"`
	HostKeyType string   `json:"host_key_type"`
	Fingerprint string   `json:"fingerprint"`
	Banner      string   `json:"banner,omitempty"`
	AuthMethods []string `json:"auth_methods"`
}

// PasswordAuth reports whether the server offered password authentication.
func (r *Result) PasswordAuth() bool {
	for _, m := range r.AuthMethods {
		if m == "password" || m == "keyboard-interactive" {
			return true
		}
	}
	return false
}

// Write prints the result one field per line.
func (r *Result) Write(w io.Writer) error {
	lines := []string{
		"ADDRESS: " + r.Address,
		"SSH VERSION: " + r.Version,
		"HOST KEY: " + r.HostKeyType + " " + r.Fingerprint,
		"AUTH METHODS: " + strings.Join(r.AuthMethods, ","),
		"PASSWORD AUTH: " + pyBool(r.PasswordAuth()),
	}
	if r.Banner != "" {
		lines = append(lines, "BANNER: "+strings.TrimSpace(r.Banner))
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

// Checker probes SSH servers.
type Checker struct {
	timeout time.Duration
	logger  *logging.Logger
}

// New creates a checker. timeout bounds the whole exchange.
func New(timeout time.Duration, logger *logging.Logger) *Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Checker{timeout: timeout, logger: logger.WithComponent("sshcheck")}
}

// Check connects to host:port. A port of 0 means 22.
func (c *Checker) Check(ctx context.Context, host string, port int) (*Result, error) {
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
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "connection failed", addr, err)
	}
	defer raw.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}

	conn := &versionConn{Conn: raw}
	p := &probe{methods: make(map[string]bool)}
	result := &Result{Address: addr}

	config := &ssh.ClientConfig{
		User:          probeUser,
		ClientVersion: clientVersion,
		Timeout:       c.timeout,
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			result.HostKeyType = key.Type()
			result.Fingerprint = ssh.FingerprintSHA256(key)
			return nil
		},
		BannerCallback: func(message string) error {
			result.Banner = message
			return nil
		},
		Auth: []ssh.AuthMethod{
			ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
				return nil, p.offered("publickey")
			}),
			ssh.PasswordCallback(func() (string, error) {
				return "", p.offered("password")
			}),
			ssh.KeyboardInteractive(func(string, string, []string, []bool) ([]string, error) {
				return nil, p.offered("keyboard-interactive")
			}),
		},
	}

	client, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err == nil {
		// The server let us in without credentials.
		go ssh.DiscardRequests(reqs)
		go func() {
			for ch := range chans {
				_ = ch.Reject(ssh.Prohibited, "no channels")
			}
		}()
		_ = client.Close()
		_ = p.offered("none")
	}
	result.Version = conn.version()
	if result.HostKeyType == "" {
		if err == nil {
			err = fmt.Errorf("no host key received")
		}
		return nil, errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "ssh handshake failed", addr, err)
	}
	result.AuthMethods = p.list()

	c.logger.Debug("SSH server probed",
		"address", addr,
		"version", result.Version,
		"host_key", result.HostKeyType,
		"auth_methods", result.AuthMethods)
	return result, nil
}

type probe struct {
	mu      sync.Mutex
	methods map[string]bool
}

func (p *probe) offered(method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.methods[method] = true
	return errProbe
}

func (p *probe) list() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.methods))
	for m := range p.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// versionConn records the start of what the server sends so its version
// line can be reported after the handshake.
type versionConn struct {
	net.Conn
	mu   sync.Mutex
	head bytes.Buffer
}

func (c *versionConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.mu.Lock()
	if room := maxVersionScan - c.head.Len(); room > 0 && n > 0 {
		c.head.Write(p[:min(n, room)])
	}
	c.mu.Unlock()
	return n, err
}

// version returns the first line starting with SSH-.
func (c *versionConn) version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	scanner := bufio.NewScanner(bytes.NewReader(c.head.Bytes()))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, "SSH-") {
			return line
		}
	}
	return ""
}
