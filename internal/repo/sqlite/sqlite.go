package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/repo"
)

var _ repo.Sink = (*Store)(nil)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("sqlite store closed")

// Store keeps one database file per database name. The file is opened
// lazily, so a missing file surfaces as repo.ErrDatabaseNotFound on use.
type Store struct {
	path string
	log  *zap.Logger
	now  func() time.Time

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

func New(dir, name string, log *zap.Logger) *Store {
	if name == "" {
		name = repo.DefaultDatabase
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		path: filepath.Join(dir, name+".db"),
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Path() string { return s.path }

func dsn(path, mode string) string {
	return "file:" + path + "?mode=" + mode + "&_busy_timeout=5000&_journal_mode=WAL"
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.db != nil {
		return s.db, nil
	}
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", s.path, repo.ErrDatabaseNotFound)
	}
	db, err := s.open("rw")
	if err != nil {
		return nil, err
	}
	s.db = db
	return db, nil
}

func (s *Store) open(mode string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(s.path, mode))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	db.SetMaxOpenConns(1)
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (s *Store) CreateDatabase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.db != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := s.open("rwc")
	if err != nil {
		return err
	}
	s.db = db
	s.log.Info("database_created", zap.String("path", s.path))
	return nil
}

func (s *Store) Write(ctx context.Context, records []domain.Record) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	stamped, err := repo.Stamp(records, s.now())
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO measurements (measurement, host, time, fields) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range stamped {
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("encode fields: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, string(r.Measurement), r.Tags.Host, r.Time.UnixNano(), string(fields)); err != nil {
			return fmt.Errorf("insert %s: %w", r.Measurement, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Query(ctx context.Context, host string, m domain.Measurement, window time.Duration) ([]domain.Record, error) {
	return s.Since(ctx, host, m, s.now().Add(-window))
}

func (s *Store) Since(ctx context.Context, host string, m domain.Measurement, since time.Time) ([]domain.Record, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var after int64
	if !since.IsZero() {
		after = since.UnixNano()
	}
	rows, err := db.QueryContext(ctx, `
SELECT measurement, host, time, fields
  FROM measurements
 WHERE host = ? AND measurement = ? AND time > ?
 ORDER BY time DESC, id DESC`, host, string(m), after)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", m, err)
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
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `
SELECT measurement, host, time, fields
  FROM measurements
 WHERE host = ? AND measurement = ?
 ORDER BY time DESC, id DESC
 LIMIT 1`, host, string(m))
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM measurements WHERE time < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (domain.Record, error) {
	var (
		name   string
		host   string
		nanos  int64
		fields string
	)
	if err := sc.Scan(&name, &host, &nanos, &fields); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Record{}, err
		}
		return domain.Record{}, fmt.Errorf("scan measurement: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(fields)))
	dec.UseNumber()
	var f map[string]any
	if err := dec.Decode(&f); err != nil {
		return domain.Record{}, fmt.Errorf("decode fields: %w", err)
	}
	return domain.Record{
		Measurement: domain.Measurement(name),
		Tags:        domain.Tags{Host: host},
		Fields:      f,
		Time:        time.Unix(0, nanos).UTC(),
	}, nil
}
