package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/probe"
)

// WriteFunc hands records to the measurement sink. Sink failures are the
// callee's business.
type WriteFunc func(ctx context.Context, records []domain.Record)

type DNSResolver interface {
	Resolve(ctx context.Context, host string) (probe.DNSAnswer, error)
}

type PollerState int32

const (
	PollerIdle PollerState = iota
	PollerRunning
	PollerStopped
)

func (s PollerState) String() string {
	switch s {
	case PollerIdle:
		return "idle"
	case PollerRunning:
		return "running"
	default:
		return "stopped"
	}
}

var ErrNotIdle = errors.New("poller is not idle")

// Poller drives one website. Each tick fires an HTTP(S) probe and a DNS
// probe and returns without waiting for either; slow probes may overlap
// later ticks.
type Poller struct {
	Logger      *zap.Logger
	Website     domain.Website
	Prober      probe.Prober
	DNS         DNSResolver
	Write       WriteFunc
	OnFirstPoll func(host string)

	now   func() time.Time
	first sync.Once

	mu    sync.Mutex
	state PollerState
	stop  chan struct{}
	done  chan struct{}
}

func NewPoller(
	logger *zap.Logger,
	w domain.Website,
	write WriteFunc,
	onFirstPoll func(host string),
) (*Poller, error) {
	p, err := probe.New(w)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		Logger:      logger,
		Website:     w,
		Prober:      p,
		DNS:         probe.NewDNSProber(),
		Write:       write,
		OnFirstPoll: onFirstPoll,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (p *Poller) State() PollerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start moves idle to running and schedules the repeating tick.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PollerIdle {
		return fmt.Errorf("%w: %s is %s", ErrNotIdle, p.Website.Host, p.state)
	}
	p.state = PollerRunning
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stop, p.done)

	p.Logger.Info("poller_started",
		zap.String("host", p.Website.Host),
		zap.String("kind", p.Prober.Kind().String()),
		zap.Duration("interval", p.Website.Interval),
	)
	return nil
}

// Stop cancels the tick. Probes already in flight are left to finish and
// may still write.
func (p *Poller) Stop() {
	p.mu.Lock()
	switch p.state {
	case PollerIdle:
		p.state = PollerStopped
		p.mu.Unlock()
		return
	case PollerStopped:
		p.mu.Unlock()
		return
	}
	p.state = PollerStopped
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	<-done
	p.Logger.Info("poller_stopped", zap.String("host", p.Website.Host))
}

func (p *Poller) run(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(p.Website.Interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			select {
			case <-stop:
				return
			default:
			}
			p.tick()
		}
	}
}

func (p *Poller) tick() {
	// Not derived from the loop: stopping must not cancel in-flight probes.
	ctx := context.Background()
	go p.pollHTTP(ctx)
	go p.pollDNS(ctx)
}

func (p *Poller) pollHTTP(ctx context.Context) {
	host := p.Website.Host
	resp, err := p.Prober.Probe(ctx)
	now := p.now()
	if err != nil {
		p.Logger.Debug("http_probe_failed", zap.String("host", host), zap.Error(err))
		p.Write(ctx, []domain.Record{domain.NewError(domain.HTTPError, host, err.Error(), now)})
	} else {
		p.Logger.Debug("http_probe",
			zap.String("host", host),
			zap.Int("status", resp.StatusCode),
			zap.Duration("ttfb", resp.TTFB),
			zap.Duration("total", resp.Total),
		)
		p.Write(ctx, []domain.Record{
			domain.NewDuration(domain.HTTPResponseTime, host, resp.Total, now),
			domain.NewCode(host, resp.StatusCode, now),
			domain.NewDuration(domain.HTTPTTFB, host, resp.TTFB, now),
		})
	}

	// Availability inputs now exist for this host.
	p.first.Do(func() {
		if p.OnFirstPoll != nil {
			p.OnFirstPoll(host)
		}
	})
}

func (p *Poller) pollDNS(ctx context.Context) {
	host := p.Website.Host
	ans, err := p.DNS.Resolve(ctx, p.Website.URL.Hostname())
	now := p.now()
	if err != nil {
		p.Logger.Debug("dns_probe_failed", zap.String("host", host), zap.Error(err))
		p.Write(ctx, []domain.Record{domain.NewError(domain.DNSError, host, err.Error(), now)})
		return
	}
	p.Write(ctx, []domain.Record{
		domain.NewIP(host, ans.Address, now),
		domain.NewDuration(domain.DNSResponseTime, host, ans.Duration, now),
	})
}
