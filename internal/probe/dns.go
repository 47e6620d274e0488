package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// DNS failure classes, reported in dns_error messages.
const (
	ClassNXDomain    = "NXDOMAIN"
	ClassNoAddress   = "NO_A_RECORD"
	ClassServFail    = "SERVFAIL_or_TIMEOUT"
	ClassInvalidName = "INVALID_NAME"
)

type DNSAnswer struct {
	Address  string
	Duration time.Duration
}

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// DNSError is a failed resolution with its class.
type DNSError struct {
	Host  string
	Class string
	Err   error
}

func (e *DNSError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dns %s: %s", e.Class, e.Host)
	}
	return fmt.Sprintf("dns %s: %s: %v", e.Class, e.Host, e.Err)
}

func (e *DNSError) Unwrap() error { return e.Err }

type DNSProber struct {
	Resolver Resolver
}

func NewDNSProber() *DNSProber {
	return &DNSProber{Resolver: net.DefaultResolver}
}

// Resolve looks up A records for host and falls back to AAAA only when
// the IPv4 answer is empty.
func (d *DNSProber) Resolve(ctx context.Context, host string) (DNSAnswer, error) {
	host = strings.TrimSpace(host)
	if host == "" || strings.Contains(host, "://") {
		return DNSAnswer{}, &DNSError{Host: host, Class: ClassInvalidName}
	}

	start := time.Now()
	ips, err := d.Resolver.LookupIP(ctx, "ip4", host)
	if err != nil && !isNotFound(err) {
		return DNSAnswer{}, &DNSError{Host: host, Class: classify(err), Err: err}
	}
	if len(ips) == 0 {
		ips, err = d.Resolver.LookupIP(ctx, "ip6", host)
		if err != nil {
			return DNSAnswer{}, &DNSError{Host: host, Class: classify(err), Err: err}
		}
		if len(ips) == 0 {
			return DNSAnswer{}, &DNSError{Host: host, Class: ClassNoAddress}
		}
	}
	return DNSAnswer{Address: ips[0].String(), Duration: time.Since(start)}, nil
}

func isNotFound(err error) bool {
	var de *net.DNSError
	return errors.As(err, &de) && de.IsNotFound
}

func classify(err error) string {
	var de *net.DNSError
	if errors.As(err, &de) {
		switch {
		case de.IsNotFound:
			return ClassNXDomain
		case de.IsTemporary || de.Timeout():
			return ClassServFail
		}
	}
	return ClassServFail
}
