package probe

import (
	"context"
	"errors"
	"net"
	"testing"
)

type fakeResolver struct {
	v4, v6     []net.IP
	err4, err6 error
	asked      []string
}

func (f *fakeResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	f.asked = append(f.asked, network)
	if network == "ip4" {
		return f.v4, f.err4
	}
	return f.v6, f.err6
}

func TestDNSProber_PrefersIPv4(t *testing.T) {
	r := &fakeResolver{v4: []net.IP{net.ParseIP("10.0.0.1")}, v6: []net.IP{net.ParseIP("::1")}}
	d := &DNSProber{Resolver: r}
	ans, err := d.Resolve(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ans.Address != "10.0.0.1" {
		t.Fatalf("address = %s", ans.Address)
	}
	if len(r.asked) != 1 {
		t.Fatalf("want a single lookup, got %v", r.asked)
	}
}

func TestDNSProber_FallsBackToAAAA(t *testing.T) {
	notFound := &net.DNSError{Err: "no such host", Name: "v6.example", IsNotFound: true}
	r := &fakeResolver{err4: notFound, v6: []net.IP{net.ParseIP("2001:db8::1")}}
	d := &DNSProber{Resolver: r}
	ans, err := d.Resolve(context.Background(), "v6.example")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ans.Address != "2001:db8::1" {
		t.Fatalf("address = %s", ans.Address)
	}
}

func TestDNSProber_ClassifiesFailures(t *testing.T) {
	notFound := &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}
	d := &DNSProber{Resolver: &fakeResolver{err4: notFound, err6: notFound}}
	_, err := d.Resolve(context.Background(), "nope.invalid")
	var de *DNSError
	if !errors.As(err, &de) || de.Class != ClassNXDomain {
		t.Fatalf("want NXDOMAIN, got %v", err)
	}

	timeout := &net.DNSError{Err: "i/o timeout", Name: "slow.example", IsTimeout: true}
	d = &DNSProber{Resolver: &fakeResolver{err4: timeout}}
	_, err = d.Resolve(context.Background(), "slow.example")
	if !errors.As(err, &de) || de.Class != ClassServFail {
		t.Fatalf("want SERVFAIL_or_TIMEOUT, got %v", err)
	}

	_, err = d.Resolve(context.Background(), "")
	if !errors.As(err, &de) || de.Class != ClassInvalidName {
		t.Fatalf("want INVALID_NAME, got %v", err)
	}
}
