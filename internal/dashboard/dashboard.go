// Package dashboard aggregates recent measurements per website for the
// terminal dashboard and the HTTP API.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/repo"
)

const SummaryWindow = 10 * time.Minute

// Stats are milliseconds over the window. Count is zero when no sample
// exists, in which case the other fields are meaningless.
type Stats struct {
	Min   int64   `json:"min"`
	Avg   float64 `json:"avg"`
	Max   int64   `json:"max"`
	Count int     `json:"count"`
}

type AvailabilityStats struct {
	Min   float64 `json:"min"`
	Last  float64 `json:"last"`
	Max   float64 `json:"max"`
	Known bool    `json:"known"`
}

type Summary struct {
	Host         string            `json:"host"`
	Window       time.Duration     `json:"window"`
	ResponseTime Stats             `json:"responseTime"`
	TTFB         Stats             `json:"ttfb"`
	DNS          Stats             `json:"dns"`
	Availability AvailabilityStats `json:"availability"`
	Codes        map[string]int    `json:"codes"`
	HTTPErrors   int               `json:"httpErrors"`
	DNSErrors    int               `json:"dnsErrors"`
	LastIP       string            `json:"lastIP,omitempty"`
}

type Service struct {
	Reader repo.Reader
	Window time.Duration
}

func NewService(r repo.Reader) *Service {
	return &Service{Reader: r, Window: SummaryWindow}
}

func (s *Service) Summary(ctx context.Context, host string) (Summary, error) {
	sum := Summary{Host: host, Window: s.Window, Codes: map[string]int{}}

	q := func(m domain.Measurement) ([]domain.Record, error) {
		recs, err := s.Reader.Query(ctx, host, m, s.Window)
		if err != nil {
			return nil, fmt.Errorf("%s for %s: %w", m, host, err)
		}
		return recs, nil
	}

	var err error
	var recs []domain.Record
	if recs, err = q(domain.HTTPResponseTime); err != nil {
		return sum, err
	}
	sum.ResponseTime = durations(recs)
	if recs, err = q(domain.HTTPTTFB); err != nil {
		return sum, err
	}
	sum.TTFB = durations(recs)
	if recs, err = q(domain.DNSResponseTime); err != nil {
		return sum, err
	}
	sum.DNS = durations(recs)

	if recs, err = q(domain.Availability); err != nil {
		return sum, err
	}
	sum.Availability = availability(recs)

	if recs, err = q(domain.HTTPResponseCode); err != nil {
		return sum, err
	}
	for _, r := range recs {
		sum.Codes[r.Text(domain.FieldCode)]++
	}
	if recs, err = q(domain.HTTPError); err != nil {
		return sum, err
	}
	sum.HTTPErrors = len(recs)
	if recs, err = q(domain.DNSError); err != nil {
		return sum, err
	}
	sum.DNSErrors = len(recs)
	if recs, err = q(domain.DNSIP); err != nil {
		return sum, err
	}
	if len(recs) > 0 {
		sum.LastIP = recs[0].Text(domain.FieldIP)
	}
	return sum, nil
}

// Summaries returns one summary per host, in the given order.
func (s *Service) Summaries(ctx context.Context, hosts []string) ([]Summary, error) {
	out := make([]Summary, 0, len(hosts))
	for _, h := range hosts {
		sum, err := s.Summary(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// Alerts returns host's alert records after since, most recent first.
func (s *Service) Alerts(ctx context.Context, host string, since time.Time) ([]domain.Record, error) {
	return s.Reader.Since(ctx, host, domain.Alert, since)
}

func durations(recs []domain.Record) Stats {
	var st Stats
	var sum int64
	for _, r := range recs {
		v, ok := r.Int64(domain.FieldDuration)
		if !ok {
			continue
		}
		if st.Count == 0 || v < st.Min {
			st.Min = v
		}
		if st.Count == 0 || v > st.Max {
			st.Max = v
		}
		sum += v
		st.Count++
	}
	if st.Count > 0 {
		st.Avg = float64(sum) / float64(st.Count)
	}
	return st
}

func availability(recs []domain.Record) AvailabilityStats {
	var a AvailabilityStats
	for _, r := range recs {
		v, ok := r.Float64(domain.FieldPercentage)
		if !ok {
			continue
		}
		if !a.Known {
			// newest first
			a.Last, a.Min, a.Max, a.Known = v, v, v, true
			continue
		}
		a.Min = min(a.Min, v)
		a.Max = max(a.Max, v)
	}
	return a
}

// Feed hands out alerts not seen before, oldest first.
type Feed struct {
	svc *Service

	mu        sync.Mutex
	watermark map[string]time.Time
}

func NewFeed(svc *Service) *Feed {
	return &Feed{svc: svc, watermark: make(map[string]time.Time)}
}

func (f *Feed) Next(ctx context.Context, hosts []string) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Record
	for _, h := range hosts {
		recs, err := f.svc.Alerts(ctx, h, f.watermark[h])
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			continue
		}
		f.watermark[h] = recs[0].Time
		out = append(out, recs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// Render writes summaries as an aligned table followed by alerts.
func Render(w io.Writer, sums []Summary, alerts []domain.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tAVAIL min/last/max\tRESP ms min/avg/max\tTTFB ms min/avg/max\tDNS ms\tCODES\tERRORS\tIP")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			s.Host,
			formatAvailability(s.Availability),
			formatStats(s.ResponseTime),
			formatStats(s.TTFB),
			formatStats(s.DNS),
			formatCodes(s.Codes),
			s.HTTPErrors, s.DNSErrors,
			orDash(s.LastIP),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "ALERTS")
	for _, a := range alerts {
		if _, err := fmt.Fprintf(w, "  %s\n", a.Text(domain.FieldError)); err != nil {
			return err
		}
	}
	return nil
}

func formatStats(s Stats) string {
	if s.Count == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%.0f/%d", s.Min, s.Avg, s.Max)
}

func formatAvailability(a AvailabilityStats) string {
	if !a.Known {
		return "-"
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) + "%" }
	return f(a.Min) + "/" + f(a.Last) + "/" + f(a.Max)
}

func formatCodes(codes map[string]int) string {
	if len(codes) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(codes))
	for k := range codes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += k + "x" + strconv.Itoa(codes[k])
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
