package repo

import (
	"context"
	"errors"
	"time"

	"github.com/hamed0406/uptimed/internal/domain"
)

// ErrDatabaseNotFound is returned by a Sink whose database does not exist
// yet. CreateDatabase recovers from it.
var ErrDatabaseNotFound = errors.New("database not found")

// DefaultDatabase names the database when the configuration does not.
const DefaultDatabase = "uptime-checker"

// Ports (interfaces) for the measurement store.
type Writer interface {
	Write(ctx context.Context, records []domain.Record) error
}

type Reader interface {
	// Query returns host's records of kind m newer than now-window, most recent first.
	Query(ctx context.Context, host string, m domain.Measurement, window time.Duration) ([]domain.Record, error)
	// Since returns host's records of kind m strictly after since, most recent first.
	// A zero since returns every record.
	Since(ctx context.Context, host string, m domain.Measurement, since time.Time) ([]domain.Record, error)
	// Last returns nil, nil when host has no record of kind m.
	Last(ctx context.Context, host string, m domain.Measurement) (*domain.Record, error)
}

type Sink interface {
	Writer
	Reader
	CreateDatabase(ctx context.Context) error
	// Prune deletes records older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Stamp fills zero timestamps with now and rejects invalid records.
func Stamp(records []domain.Record, now time.Time) ([]domain.Record, error) {
	out := make([]domain.Record, len(records))
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if r.Time.IsZero() {
			r.Time = now
		}
		out[i] = r
	}
	return out, nil
}
