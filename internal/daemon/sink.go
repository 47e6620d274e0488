package daemon

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/config"
	"github.com/hamed0406/uptimed/internal/repo"
	"github.com/hamed0406/uptimed/internal/repo/memory"
	"github.com/hamed0406/uptimed/internal/repo/postgres"
	"github.com/hamed0406/uptimed/internal/repo/sqlite"
)

var ErrNoDSN = errors.New("postgres driver needs database.dsn or DATABASE_URL")

// OpenSink picks the measurement store named by db.Driver.
func OpenSink(ctx context.Context, db config.Database, log *zap.Logger) (repo.Sink, error) {
	switch db.Driver {
	case "memory":
		return memory.New(), nil
	case "", "sqlite":
		return sqlite.New(db.Dir, db.Database, log), nil
	case "postgres":
		if db.DSN == "" {
			return nil, ErrNoDSN
		}
		return postgres.New(ctx, db.DSN, log)
	default:
		return nil, fmt.Errorf("unknown database driver %q", db.Driver)
	}
}
