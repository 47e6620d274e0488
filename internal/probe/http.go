package probe

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/hamed0406/uptimed/internal/domain"
)

// maxBody caps how much of a response body is kept.
const maxBody = 4 << 20

type HTTPProber struct {
	Client *http.Client
	kind   Kind
	target string
	method string
	header http.Header
	ignore bool
}

func newHTTPProber(k Kind, w domain.Website) *HTTPProber {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if k == KindHTTPS {
		tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		tr.TLSClientConfig = nil
		tr.ForceAttemptHTTP2 = false
	}
	// Every probe opens a fresh connection so timings include connect.
	tr.DisableKeepAlives = true

	method := w.Options.Method
	if method == "" {
		method = http.MethodGet
	}
	h := make(http.Header, len(w.Options.Headers))
	for name, val := range w.Options.Headers {
		h.Set(name, val)
	}

	return &HTTPProber{
		Client: &http.Client{
			Transport: tr,
			Timeout:   w.Options.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		kind:   k,
		target: w.URL.String(),
		method: method,
		header: h,
		ignore: w.Options.IgnoreBody,
	}
}

func (h *HTTPProber) Kind() Kind { return h.kind }

// Probe sends one request. TTFB is taken when the first response byte
// arrives; Total once the body is drained, or at headers with IgnoreBody.
func (h *HTTPProber) Probe(ctx context.Context) (*Response, error) {
	var (
		start = time.Now()
		ttfb  time.Duration
	)
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() { ttfb = time.Since(start) },
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), h.method, h.target, nil)
	if err != nil {
		return nil, err
	}
	req.Header = h.header.Clone()

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &Response{
		ProtocolVersion: resp.Proto,
		StatusCode:      resp.StatusCode,
		Headers:         resp.Header,
		TTFB:            ttfb,
	}
	if out.TTFB == 0 {
		out.TTFB = time.Since(start)
	}
	if h.ignore {
		out.Total = time.Since(start)
		return out, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	out.Body = body
	out.Trailers = resp.Trailer
	out.Total = time.Since(start)
	return out, nil
}
