package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/repo"
)

var _ repo.Sink = (*Store)(nil)

//go:embed schema.sql
var schemaSQL string

// invalid_catalog_name
const codeDatabaseMissing = "3D000"

type Store struct {
	cfg *pgxpool.Config
	log *zap.Logger
	now func() time.Time

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// New connects to dsn. A database that does not exist yet is not an error
// here; it is reported as repo.ErrDatabaseNotFound by later calls.
func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{cfg: cfg, log: log, now: func() time.Time { return time.Now().UTC() }}
	if _, err := s.connect(ctx); err != nil && !errors.Is(err, repo.ErrDatabaseNotFound) {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func (s *Store) connect(ctx context.Context) (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return s.pool, nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, classify(fmt.Errorf("ping: %w", err))
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s.pool = pool
	return pool, nil
}

// CreateDatabase creates the configured database through the maintenance
// database and then connects to it.
func (s *Store) CreateDatabase(ctx context.Context) error {
	name := s.cfg.ConnConfig.Database
	admin := s.cfg.ConnConfig.Copy()
	admin.Database = "postgres"

	conn, err := pgx.ConnectConfig(ctx, admin)
	if err != nil {
		return fmt.Errorf("connect maintenance db: %w", err)
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	var pgErr *pgconn.PgError
	if err != nil && !(errors.As(err, &pgErr) && pgErr.Code == "42P04") { // duplicate_database
		return fmt.Errorf("create database %s: %w", name, err)
	}
	s.log.Info("database_created", zap.String("database", name))

	_, err = s.connect(ctx)
	return err
}

func (s *Store) Write(ctx context.Context, records []domain.Record) error {
	pool, err := s.connect(ctx)
	if err != nil {
		return err
	}
	stamped, err := repo.Stamp(records, s.now())
	if err != nil {
		return err
	}
	b := &pgx.Batch{}
	for _, r := range stamped {
		b.Queue(`INSERT INTO measurements (measurement, host, time, fields) VALUES ($1, $2, $3, $4)`,
			string(r.Measurement), r.Tags.Host, r.Time, r.Fields)
	}
	if err := pool.SendBatch(ctx, b).Close(); err != nil {
		return classify(fmt.Errorf("insert measurements: %w", err))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, host string, m domain.Measurement, window time.Duration) ([]domain.Record, error) {
	return s.Since(ctx, host, m, s.now().Add(-window))
}

func (s *Store) Since(ctx context.Context, host string, m domain.Measurement, since time.Time) ([]domain.Record, error) {
	pool, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `
SELECT measurement, host, time, fields
  FROM measurements
 WHERE host = $1 AND measurement = $2 AND time > $3
 ORDER BY time DESC, id DESC`, host, string(m), since)
	if err != nil {
		return nil, classify(fmt.Errorf("query %s: %w", m, err))
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Last(ctx context.Context, host string, m domain.Measurement) (*domain.Record, error) {
	pool, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	row := pool.QueryRow(ctx, `
SELECT measurement, host, time, fields
  FROM measurements
 WHERE host = $1 AND measurement = $2
 ORDER BY time DESC, id DESC
 LIMIT 1`, host, string(m))
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &r, nil
}

func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	pool, err := s.connect(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, `DELETE FROM measurements WHERE time < $1`, before)
	if err != nil {
		return 0, classify(fmt.Errorf("prune: %w", err))
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var (
		name   string
		host   string
		at     time.Time
		fields map[string]any
	)
	if err := row.Scan(&name, &host, &at, &fields); err != nil {
		return domain.Record{}, err
	}
	return domain.Record{
		Measurement: domain.Measurement(name),
		Tags:        domain.Tags{Host: host},
		Fields:      fields,
		Time:        at.UTC(),
	}, nil
}

// classify marks a missing database so callers can recover from it.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeDatabaseMissing {
		return fmt.Errorf("%w: %s", repo.ErrDatabaseNotFound, pgErr.Message)
	}
	return err
}
