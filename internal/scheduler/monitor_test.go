package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
)

const host = "https://example.com/"

// ---- shared helpers ----

type fakeReader struct {
	mu    sync.Mutex
	codes []domain.Record
	errs  []domain.Record
	last  *domain.Record
	err   error
}

func (f *fakeReader) set(codes, errs []domain.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes, f.errs = codes, errs
}

func (f *fakeReader) Query(ctx context.Context, h string, m domain.Measurement, window time.Duration) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	switch m {
	case domain.HTTPResponseCode:
		return f.codes, nil
	case domain.HTTPError:
		return f.errs, nil
	}
	return nil, nil
}

func (f *fakeReader) Since(ctx context.Context, h string, m domain.Measurement, since time.Time) ([]domain.Record, error) {
	return f.Query(ctx, h, m, 0)
}

func (f *fakeReader) Last(ctx context.Context, h string, m domain.Measurement) (*domain.Record, error) {
	return f.last, f.err
}

// sample builds ten response codes of which ok are 200 and the rest 503.
func sample(ok int) []domain.Record {
	out := make([]domain.Record, 0, 10)
	for i := 0; i < 10; i++ {
		code := 503
		if i < ok {
			code = 200
		}
		out = append(out, domain.NewCode(host, code, time.Now()))
	}
	return out
}

type memNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (m *memNotifier) Send(ctx context.Context, title, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = append(m.titles, title)
	return nil
}

func (m *memNotifier) n() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.titles)
}

func newTestMonitor(r *fakeReader, rec *recorder) *Monitor {
	return NewMonitor(zap.NewNop(), host, r, rec.write, nil, MonitorConfig{Interval: 5 * time.Millisecond})
}

func alerts(rec *recorder) []string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var out []string
	for _, r := range rec.records {
		if r.Measurement == domain.Alert {
			out = append(out, r.Text(domain.FieldError))
		}
	}
	return out
}

// ---- tests ----

func TestAvailability_Ratio(t *testing.T) {
	cases := []struct {
		name  string
		codes []int
		errs  int
		want  float64
	}{
		{"all ok", []int{200, 200, 301}, 0, 100},
		{"one 404", []int{200, 404, 200, 200}, 0, 75},
		{"errors count", []int{200}, 1, 50},
		{"only errors", nil, 3, 0},
		{"5xx", []int{500, 502}, 0, 0},
	}
	for _, tc := range cases {
		var codes, errs []domain.Record
		for _, c := range tc.codes {
			codes = append(codes, domain.NewCode(host, c, time.Now()))
		}
		for i := 0; i < tc.errs; i++ {
			errs = append(errs, domain.NewError(domain.HTTPError, host, "timeout", time.Now()))
		}
		got := Availability(codes, errs)
		if got != tc.want {
			t.Fatalf("%s: want %v got %v", tc.name, tc.want, got)
		}
		if got < 0 || got > 100 {
			t.Fatalf("%s: out of range %v", tc.name, got)
		}
	}
}

func TestMonitor_AllOKNeverAlerts(t *testing.T) {
	r := &fakeReader{}
	rec := &recorder{}
	m := newTestMonitor(r, rec)
	if err := m.Seed(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 10; i++ {
		r.set(sample(10)[:i], nil)
		pct, err := m.Evaluate(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if pct != 100 {
			t.Fatalf("evaluation %d: want 100, got %v", i, pct)
		}
	}
	if rec.count(domain.Availability) != 10 {
		t.Fatalf("want an availability record per evaluation, got %d", rec.count(domain.Availability))
	}
	if n := len(alerts(rec)); n != 0 {
		t.Fatalf("want no alerts, got %d", n)
	}
	if m.State() != StateUp {
		t.Fatalf("want up, got %s", m.State())
	}
}

func TestMonitor_DownThenRecovered(t *testing.T) {
	r := &fakeReader{}
	rec := &recorder{}
	nt := &memNotifier{}
	m := newTestMonitor(r, rec)
	m.Notifier = nt
	var pushed []domain.Record
	m.OnAlert = func(a domain.Record) { pushed = append(pushed, a) }

	if m.State() != StateUnknown {
		t.Fatalf("want unknown before evaluating, got %s", m.State())
	}

	r.set(sample(6), nil)
	if _, err := m.Evaluate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.State() != StateDown {
		t.Fatalf("want down, got %s", m.State())
	}
	r.set(sample(9), nil)
	if _, err := m.Evaluate(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := alerts(rec)
	if len(got) != 2 {
		t.Fatalf("want 2 alerts, got %d: %v", len(got), got)
	}
	if !strings.HasPrefix(got[0], "ALERT: Website "+host+" is down. availability=60,") {
		t.Fatalf("unexpected down message %q", got[0])
	}
	if !strings.HasPrefix(got[1], "RECOVERED: Website "+host+" is now up. availability=90,") {
		t.Fatalf("unexpected recovery message %q", got[1])
	}
	if len(pushed) != 2 {
		t.Fatalf("OnAlert saw %d alerts", len(pushed))
	}
	waitFor(t, time.Second, func() bool { return nt.n() == 2 })
}

func TestMonitor_AlertsOnlyOnThresholdCrossings(t *testing.T) {
	r := &fakeReader{}
	rec := &recorder{}
	m := newTestMonitor(r, rec)

	// 100 90 70 60 70 80 100 50 50 -> crossings at 70, 80, 50
	seq := []int{10, 9, 7, 6, 7, 8, 10, 5, 5}
	for _, ok := range seq {
		r.set(sample(ok), nil)
		if _, err := m.Evaluate(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(alerts(rec)); n != 3 {
		t.Fatalf("want 3 alerts, got %d", n)
	}
}

func TestMonitor_SeedFromLastAvailability(t *testing.T) {
	last := domain.NewAvailability(host, 50, time.Now())
	r := &fakeReader{last: &last}
	rec := &recorder{}
	m := newTestMonitor(r, rec)
	if err := m.Seed(context.Background()); err != nil {
		t.Fatal(err)
	}
	if down, _ := m.AlertState(); !down {
		t.Fatalf("seed below threshold must start in alert")
	}

	// still down: no new alert
	r.set(sample(5), nil)
	if _, err := m.Evaluate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(alerts(rec)); n != 0 {
		t.Fatalf("want no alert while staying down, got %d", n)
	}

	r.set(sample(10), nil)
	if _, err := m.Evaluate(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := alerts(rec)
	if len(got) != 1 || !strings.HasPrefix(got[0], "RECOVERED") {
		t.Fatalf("want a single recovery, got %v", got)
	}
}

func TestMonitor_NoDataIsFatal(t *testing.T) {
	r := &fakeReader{}
	rec := &recorder{}
	m := newTestMonitor(r, rec)

	if _, err := m.Evaluate(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("want ErrNoData, got %v", err)
	}

	fatal := make(chan error, 1)
	m.Fatal = func(err error) { fatal <- err }
	m.Start()
	defer m.Stop()
	select {
	case err := <-fatal:
		if !errors.Is(err, ErrNoData) {
			t.Fatalf("fatal got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("loop did not report the empty window")
	}
	if rec.total() != 0 {
		t.Fatalf("no records may be written without data")
	}
}

func TestMonitor_StartStopLoop(t *testing.T) {
	r := &fakeReader{}
	r.set(sample(10), nil)
	rec := &recorder{}
	m := newTestMonitor(r, rec)

	m.Start()
	waitFor(t, time.Second, func() bool { return rec.count(domain.Availability) >= 2 })
	m.Stop()
	n := rec.total()
	time.Sleep(30 * time.Millisecond)
	if rec.total() != n {
		t.Fatalf("monitor kept writing after Stop")
	}
	m.Stop() // idempotent
}
