package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/notify"
	"github.com/hamed0406/uptimed/internal/repo"
)

const (
	AlertThreshold     = 80.0
	EvaluationInterval = 2 * time.Second
	AvailabilityWindow = 2 * time.Minute
)

// ErrNoData means the window held neither response codes nor errors.
var ErrNoData = errors.New("no measurements in availability window")

type MonitorState string

const (
	StateUnknown MonitorState = "unknown"
	StateUp      MonitorState = "up"
	StateDown    MonitorState = "down"
)

type MonitorConfig struct {
	Interval  time.Duration
	Window    time.Duration
	Threshold float64
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:  EvaluationInterval,
		Window:    AvailabilityWindow,
		Threshold: AlertThreshold,
	}
}

// Monitor evaluates one host's availability on a fixed cadence and writes
// an alert record each time the threshold is crossed.
type Monitor struct {
	Logger   *zap.Logger
	Host     string
	Reader   repo.Reader
	Write    WriteFunc
	Notifier notify.Notifier
	OnAlert  func(domain.Record)
	// Fatal receives evaluation failures; the loop stops after calling it.
	Fatal func(error)

	cfg MonitorConfig
	now func() time.Time

	mu              sync.Mutex
	alertState      bool
	evaluated       bool
	lastEvaluatedAt time.Time
	stop            chan struct{}
	done            chan struct{}
}

func NewMonitor(
	logger *zap.Logger,
	host string,
	reader repo.Reader,
	write WriteFunc,
	fatal func(error),
	cfg MonitorConfig,
) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		Logger: logger,
		Host:   host,
		Reader: reader,
		Write:  write,
		Fatal:  fatal,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Seed sets the initial alert state from the last availability record:
// down when it was below the threshold, up otherwise or when none exists.
func (m *Monitor) Seed(ctx context.Context) error {
	rec, err := m.Reader.Last(ctx, m.Host, domain.Availability)
	if err != nil {
		return fmt.Errorf("last availability for %s: %w", m.Host, err)
	}
	state := false
	if rec != nil {
		if pct, ok := rec.Float64(domain.FieldPercentage); ok {
			state = pct < m.cfg.Threshold
		}
	}
	m.mu.Lock()
	m.alertState = state
	m.mu.Unlock()

	m.Logger.Info("availability_seeded", zap.String("host", m.Host), zap.Bool("alert_state", state))
	return nil
}

func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stop, m.done)
}

// Stop clears the timer and waits for an evaluation in progress.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	if stop == nil {
		m.mu.Unlock()
		return
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	m.mu.Unlock()
	<-done
}

func (m *Monitor) run(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if _, err := m.Evaluate(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.Logger.Error("availability_evaluation_failed", zap.String("host", m.Host), zap.Error(err))
				if m.Fatal != nil {
					m.Fatal(err)
				}
				return
			}
		}
	}
}

// State reports unknown before the first evaluation, then up or down.
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !m.evaluated:
		return StateUnknown
	case m.alertState:
		return StateDown
	default:
		return StateUp
	}
}

func (m *Monitor) AlertState() (bool, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alertState, m.lastEvaluatedAt
}

// Evaluate runs one availability pass and returns the computed percentage.
func (m *Monitor) Evaluate(ctx context.Context) (float64, error) {
	codes, err := m.Reader.Query(ctx, m.Host, domain.HTTPResponseCode, m.cfg.Window)
	if err != nil {
		return 0, fmt.Errorf("query response codes for %s: %w", m.Host, err)
	}
	errs, err := m.Reader.Query(ctx, m.Host, domain.HTTPError, m.cfg.Window)
	if err != nil {
		return 0, fmt.Errorf("query http errors for %s: %w", m.Host, err)
	}
	if len(codes) == 0 && len(errs) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoData, m.Host)
	}

	pct := Availability(codes, errs)
	now := m.now()
	m.Write(ctx, []domain.Record{domain.NewAvailability(m.Host, pct, now)})

	var (
		alert *domain.Record
		title string
	)
	m.mu.Lock()
	m.evaluated = true
	m.lastEvaluatedAt = now
	switch {
	case pct < m.cfg.Threshold && !m.alertState:
		m.alertState = true
		rec := domain.NewAlert(m.Host, DownMessage(m.Host, pct, now), now)
		alert, title = &rec, "🔴 Target DOWN"
	case pct >= m.cfg.Threshold && m.alertState:
		m.alertState = false
		rec := domain.NewAlert(m.Host, RecoveredMessage(m.Host, pct, now), now)
		alert, title = &rec, "🟢 Target RECOVERED"
	}
	m.mu.Unlock()

	if alert == nil {
		return pct, nil
	}

	m.Write(ctx, []domain.Record{*alert})
	m.Logger.Warn("availability_alert",
		zap.String("host", m.Host),
		zap.Float64("availability", pct),
		zap.String("message", alert.Text(domain.FieldError)),
	)
	if m.OnAlert != nil {
		m.OnAlert(*alert)
	}
	if m.Notifier != nil {
		// Best-effort send off the evaluation path.
		go func(text string) {
			nctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := m.Notifier.Send(nctx, title, text); err != nil {
				m.Logger.Warn("alert_notify_error", zap.String("host", m.Host), zap.Error(err))
			}
		}(alert.Text(domain.FieldError))
	}
	return pct, nil
}

// Availability is the share of non-4xx/5xx response codes among all
// codes and errors, in percent.
func Availability(codes, errs []domain.Record) float64 {
	total := len(codes) + len(errs)
	if total == 0 {
		return 0
	}
	ok := 0
	for _, c := range codes {
		if !isErrorCode(c.Text(domain.FieldCode)) {
			ok++
		}
	}
	return 100 * float64(ok) / float64(total)
}

func isErrorCode(code string) bool {
	return code != "" && (code[0] == '4' || code[0] == '5')
}

func DownMessage(host string, pct float64, at time.Time) string {
	return fmt.Sprintf("ALERT: Website %s is down. availability=%s, time=%s",
		host, strconv.FormatFloat(pct, 'f', -1, 64), at.Format(time.RFC1123Z))
}

func RecoveredMessage(host string, pct float64, at time.Time) string {
	return fmt.Sprintf("RECOVERED: Website %s is now up. availability=%s, time=%s",
		host, strconv.FormatFloat(pct, 'f', -1, 64), at.Format(time.RFC1123Z))
}
