// Package daemon owns the pollers and availability monitors of a running
// uptime checker and the single write path into the measurement store.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/config"
	"github.com/hamed0406/uptimed/internal/control"
	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/logging"
	"github.com/hamed0406/uptimed/internal/notify"
	"github.com/hamed0406/uptimed/internal/repo"
	"github.com/hamed0406/uptimed/internal/scheduler"
)

// PruneSchedule is the cron spec of the retention job.
const PruneSchedule = "@every 1h"

var ErrStopped = errors.New("daemon already stopped")

// PollerFactory builds the poller of one website.
type PollerFactory func(
	logger *zap.Logger,
	w domain.Website,
	write scheduler.WriteFunc,
	onFirstPoll func(host string),
) (*scheduler.Poller, error)

type Options struct {
	Logger *zap.Logger
	// Home receives error dumps.
	Home          string
	Notifier      notify.Notifier
	MonitorConfig scheduler.MonitorConfig
	// OnAlert sees every alert record after it was written.
	OnAlert   func(domain.Record)
	NewPoller PollerFactory
	// Exit ends the process after a fatal error. Defaults to os.Exit.
	Exit func(code int)
	Now  func() time.Time
}

// HostStatus is the live view of one monitored website.
type HostStatus struct {
	Host          string    `json:"host"`
	Poller        string    `json:"poller"`
	Availability  string    `json:"availability"`
	LastEvaluated time.Time `json:"lastEvaluated,omitempty"`
}

type Supervisor struct {
	log  *zap.Logger
	cfg  *config.Config
	sink repo.Sink
	opts Options

	pollers []*scheduler.Poller
	cron    *cron.Cron

	createMu sync.Mutex

	mu       sync.Mutex
	started  bool
	stopped  bool
	monitors map[string]*scheduler.Monitor
	control  io.Closer

	stopOnce  sync.Once
	fatalOnce sync.Once
	fatalErr  error
	done      chan struct{}
}

// New builds one idle poller per configured website. Nothing runs until
// StartAll.
func New(cfg *config.Config, sink repo.Sink, opts Options) (*Supervisor, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewPoller == nil {
		opts.NewPoller = scheduler.NewPoller
	}
	sites, err := cfg.Websites()
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		log:      opts.Logger,
		cfg:      cfg,
		sink:     sink,
		opts:     opts,
		monitors: make(map[string]*scheduler.Monitor),
		done:     make(chan struct{}),
	}
	for _, w := range sites {
		p, err := opts.NewPoller(opts.Logger, w, s.Write, s.onFirstPoll)
		if err != nil {
			return nil, fmt.Errorf("poller for %s: %w", w.Host, err)
		}
		s.pollers = append(s.pollers, p)
	}
	return s, nil
}

// AttachControl registers the control channel closed last by StopAll.
func (s *Supervisor) AttachControl(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.control = c
}

// StartAll starts every poller and the retention job.
func (s *Supervisor) StartAll() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	var err error
	for _, p := range s.pollers {
		err = multierr.Append(err, p.Start())
	}
	if r := s.cfg.Database.Retention; r > 0 {
		s.cron = cron.New()
		if _, cerr := s.cron.AddFunc(PruneSchedule, s.prune); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("schedule retention: %w", cerr))
		} else {
			s.cron.Start()
		}
	}
	s.log.Info("daemon_started", zap.Int("websites", len(s.pollers)))
	return err
}

// StopAll stops the pollers, then the monitors, then the control channel.
// It is idempotent and safe to call from a control handler.
func (s *Supervisor) StopAll() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		monitors := make([]*scheduler.Monitor, 0, len(s.monitors))
		for _, m := range s.monitors {
			monitors = append(monitors, m)
		}
		ctl := s.control
		s.mu.Unlock()

		for _, p := range s.pollers {
			p.Stop()
		}
		for _, m := range monitors {
			m.Stop()
		}
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		if ctl != nil {
			if err := ctl.Close(); err != nil {
				s.log.Warn("control_close_error", zap.Error(err))
			}
		}
		s.log.Info("daemon_stopped")
		close(s.done)
	})
}

// Stop implements control.Handler.
func (s *Supervisor) Stop() { s.StopAll() }

// Done is closed once StopAll has finished.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Err returns the fatal error that ended the daemon, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

func (s *Supervisor) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Status is the resolved configuration answered on the control channel.
func (s *Supervisor) Status() control.StatusMessage {
	return control.StatusMessage{
		Website:  s.cfg.Website,
		Database: s.cfg.Database.Redacted(),
	}
}

// Hosts reports poller and availability state per website, sorted by host.
func (s *Supervisor) Hosts() []HostStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HostStatus, 0, len(s.pollers))
	for _, p := range s.pollers {
		hs := HostStatus{
			Host:         p.Website.Host,
			Poller:       p.State().String(),
			Availability: string(scheduler.StateUnknown),
		}
		if m, ok := s.monitors[p.Website.Host]; ok {
			hs.Availability = string(m.State())
			_, hs.LastEvaluated = m.AlertState()
		}
		out = append(out, hs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// Write stores records. A missing database is created once and the write
// retried; any other failure is fatal.
func (s *Supervisor) Write(ctx context.Context, records []domain.Record) {
	if len(records) == 0 {
		return
	}
	err := s.sink.Write(ctx, records)
	if errors.Is(err, repo.ErrDatabaseNotFound) {
		if cerr := s.createDatabase(ctx); cerr != nil {
			err = cerr
		} else {
			err = s.sink.Write(ctx, records)
		}
	}
	if err == nil {
		return
	}
	if s.isStopped() {
		s.log.Debug("write_after_stop_dropped", zap.Error(err))
		return
	}
	s.fatal(fmt.Errorf("write %s: %w", records[0].Measurement, err))
}

func (s *Supervisor) createDatabase(ctx context.Context) error {
	s.createMu.Lock()
	defer s.createMu.Unlock()
	if err := s.sink.CreateDatabase(ctx); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	s.log.Info("database_created", zap.String("database", s.cfg.Database.Database))
	return nil
}

// onFirstPoll starts the availability monitor of host once its first
// HTTP outcome has been written.
func (s *Supervisor) onFirstPoll(host string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if _, ok := s.monitors[host]; ok {
		s.mu.Unlock()
		return
	}
	m := scheduler.NewMonitor(s.log, host, s.sink, s.Write, s.fatal, s.opts.MonitorConfig)
	m.Notifier = s.opts.Notifier
	m.OnAlert = s.opts.OnAlert
	s.monitors[host] = m
	s.mu.Unlock()

	if err := m.Seed(context.Background()); err != nil {
		if !errors.Is(err, repo.ErrDatabaseNotFound) {
			s.fatal(err)
			return
		}
		s.log.Warn("availability_seed_skipped", zap.String("host", host), zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	m.Start()
	s.log.Info("monitor_started", zap.String("host", host))
}

// fatal dumps err to an error file in the daemon home and exits non-zero.
// It may run on a monitor's own goroutine, so shutdown happens elsewhere.
func (s *Supervisor) fatal(err error) {
	s.fatalOnce.Do(func() {
		s.mu.Lock()
		s.fatalErr = err
		s.mu.Unlock()

		s.log.Error("daemon_fatal", zap.Error(err))
		if p, werr := logging.WriteErrorFile(s.opts.Home, s.opts.Now(), err.Error()); werr != nil {
			s.log.Error("error_file_write_failed", zap.Error(werr))
		} else {
			s.log.Info("error_file_written", zap.String("path", p))
		}
		go func() {
			s.StopAll()
			_ = s.log.Sync()
			s.opts.Exit(1)
		}()
	})
}

func (s *Supervisor) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	before := s.opts.Now().Add(-s.cfg.Database.Retention)
	n, err := s.sink.Prune(ctx, before)
	switch {
	case errors.Is(err, repo.ErrDatabaseNotFound):
	case err != nil:
		s.log.Warn("retention_prune_error", zap.Error(err))
	default:
		s.log.Info("retention_pruned", zap.Int64("deleted", n), zap.Time("before", before))
	}
}
