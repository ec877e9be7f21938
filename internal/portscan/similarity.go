package portscan

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	bodyLimit          = 25000
	similarityCutoff   = 0.75
	defaultSiteTimeout = 10 * time.Second
)

// HTTPComparer fetches the plain and TLS front pages of a target and
// compares them.
type HTTPComparer struct {
	client *http.Client
	// urls maps a target to its plain and TLS URLs.
	urls func(target string) (plain, secure string)
}

// NewHTTPComparer creates a comparer that does not verify certificates.
func NewHTTPComparer() *HTTPComparer {
	return &HTTPComparer{
		client: &http.Client{
			Timeout: defaultSiteTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // assessment targets often use self-signed certificates
			},
		},
		urls: func(target string) (string, string) {
			host := strings.ReplaceAll(target, "'", "")
			return "http://" + host, "https://" + host
		},
	}
}

// SameSite reports whether both pages are more than 75% alike. Any fetch
// failure counts as different sites.
func (c *HTTPComparer) SameSite(ctx context.Context, target string) bool {
	plainURL, secureURL := c.urls(target)

	plain, err := c.fetch(ctx, plainURL)
	if err != nil {
		return false
	}
	secure, err := c.fetch(ctx, secureURL)
	if err != nil {
		return false
	}

	plain = strings.ReplaceAll(plain, "http://", "https://")
	return Similarity(secure, plain) > similarityCutoff
}

func (c *HTTPComparer) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Similarity returns the character level match ratio of a and b in [0, 1],
// treating spaces as junk, rounded to three decimals.
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	matcher := difflib.NewMatcherWithJunk(strings.Split(a, ""), strings.Split(b, ""), true,
		func(s string) bool { return s == " " })
	ratio := matcher.Ratio()
	return float64(int(ratio*1000+0.5)) / 1000
}
