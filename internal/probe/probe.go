package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hamed0406/uptimed/internal/domain"
)

// Kind selects the transport of an HTTP prober.
type Kind int

const (
	KindHTTP Kind = iota
	KindHTTPS
)

func (k Kind) String() string {
	if k == KindHTTPS {
		return "https"
	}
	return "http"
}

// Response is the normalized outcome of one HTTP(S) request.
type Response struct {
	ProtocolVersion string
	StatusCode      int
	Headers         http.Header
	Trailers        http.Header
	Body            []byte
	TTFB            time.Duration
	Total           time.Duration
}

// Prober performs one request against a fixed website. It does not retry
// and does not follow redirects.
type Prober interface {
	Probe(ctx context.Context) (*Response, error)
	Kind() Kind
}

// New picks the prober variant from the website's scheme.
func New(w domain.Website) (Prober, error) {
	if w.URL == nil {
		return nil, fmt.Errorf("website %q has no parsed url", w.Host)
	}
	switch w.URL.Scheme {
	case "http":
		return newHTTPProber(KindHTTP, w), nil
	case "https":
		return newHTTPProber(KindHTTPS, w), nil
	default:
		return nil, fmt.Errorf("website %q: unsupported scheme %q", w.Host, w.URL.Scheme)
	}
}
