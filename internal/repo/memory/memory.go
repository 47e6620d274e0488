package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/repo"
)

var _ repo.Sink = (*Store)(nil)

type Store struct {
	mu      sync.RWMutex
	exists  bool
	records []domain.Record
	now     func() time.Time
}

type Option func(*Store)

// WithoutDatabase starts the store in the "database not found" state until
// CreateDatabase is called.
func WithoutDatabase() Option {
	return func(s *Store) { s.exists = false }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		exists:  true,
		records: make([]domain.Record, 0, 128),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (m *Store) CreateDatabase(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = true
	return nil
}

func (m *Store) Write(ctx context.Context, records []domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return repo.ErrDatabaseNotFound
	}
	stamped, err := repo.Stamp(records, m.now())
	if err != nil {
		return err
	}
	m.records = append(m.records, stamped...)
	return nil
}

func (m *Store) Query(ctx context.Context, host string, ms domain.Measurement, window time.Duration) ([]domain.Record, error) {
	return m.Since(ctx, host, ms, m.now().Add(-window))
}

func (m *Store) Since(ctx context.Context, host string, ms domain.Measurement, since time.Time) ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.exists {
		return nil, repo.ErrDatabaseNotFound
	}
	var out []domain.Record
	for _, r := range m.records {
		if r.Tags.Host == host && r.Measurement == ms && r.Time.After(since) {
			out = append(out, r)
		}
	}
	// newest first; equal timestamps keep reverse insertion order
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	reverseTies(out)
	return out, nil
}

func (m *Store) Last(ctx context.Context, host string, ms domain.Measurement) (*domain.Record, error) {
	rows, err := m.Since(ctx, host, ms, time.Time{})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	r := rows[0]
	return &r, nil
}

func (m *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var n int64
	for _, r := range m.records {
		if r.Time.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return n, nil
}

func (m *Store) Close() error { return nil }

// All returns a copy of every stored record in insertion order.
func (m *Store) All() []domain.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Record, len(m.records))
	copy(out, m.records)
	return out
}

func reverseTies(rs []domain.Record) {
	for i := 0; i < len(rs); {
		j := i + 1
		for j < len(rs) && rs[j].Time.Equal(rs[i].Time) {
			j++
		}
		for a, b := i, j-1; a < b; a, b = a+1, b-1 {
			rs[a], rs[b] = rs[b], rs[a]
		}
		i = j
	}
}
