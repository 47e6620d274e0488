package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultCheckInterval applies when neither the site nor the file sets one.
const DefaultCheckInterval = 2000 * time.Millisecond

type ProbeOptions struct {
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Timeout    time.Duration     `json:"timeout,omitempty"`
	IgnoreBody bool              `json:"ignoreBody,omitempty"`
}

// Website is a polled target. It is not modified after a poller takes it.
type Website struct {
	URL      *url.URL      `json:"-"`
	Host     string        `json:"host"`
	Interval time.Duration `json:"interval"`
	Options  ProbeOptions  `json:"options"`
}

func NewWebsite(raw string, interval time.Duration, opts ProbeOptions) (Website, error) {
	u, err := ParseURL(raw)
	if err != nil {
		return Website{}, err
	}
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return Website{URL: u, Host: u.String(), Interval: interval, Options: opts}, nil
}

// ParseURL parses raw and normalizes it so equal sites share one host tag:
// lower-case scheme and host, and "/" for an empty path.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("url %q: missing hostname", raw)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// NormalizeHost returns the host tag for raw, or raw itself when it does not parse.
func NormalizeHost(raw string) string {
	u, err := ParseURL(raw)
	if err != nil {
		return raw
	}
	return u.String()
}
