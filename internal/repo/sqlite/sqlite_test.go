package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/repo"
)

const host = "https://example.com/"

func TestStore_MissingDatabaseThenCreate(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "data"), "", zap.NewNop())
	defer s.Close()

	err := s.Write(ctx, []domain.Record{domain.NewCode(host, 200, time.Time{})})
	require.True(t, errors.Is(err, repo.ErrDatabaseNotFound), "got %v", err)

	_, err = s.Last(ctx, host, domain.Availability)
	require.ErrorIs(t, err, repo.ErrDatabaseNotFound)

	require.NoError(t, s.CreateDatabase(ctx))
	require.NoError(t, s.Write(ctx, []domain.Record{domain.NewCode(host, 200, time.Time{})}))
	assert.Equal(t, "uptime-checker.db", filepath.Base(s.Path()))
}

func TestStore_WriteQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir(), "test", zap.NewNop())
	defer s.Close()
	require.NoError(t, s.CreateDatabase(ctx))

	now := time.Now().UTC()
	require.NoError(t, s.Write(ctx, []domain.Record{
		domain.NewDuration(domain.HTTPResponseTime, host, 120*time.Millisecond, now.Add(-5*time.Minute)),
		domain.NewDuration(domain.HTTPResponseTime, host, 80*time.Millisecond, now.Add(-30*time.Second)),
		domain.NewCode(host, 503, now.Add(-20*time.Second)),
		domain.NewAvailability(host, 66.5, now.Add(-10*time.Second)),
		domain.NewCode("https://other/", 200, now),
	}))

	rows, err := s.Query(ctx, host, domain.HTTPResponseTime, 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	d, ok := rows[0].Int64(domain.FieldDuration)
	require.True(t, ok)
	assert.Equal(t, int64(80), d)

	codes, err := s.Query(ctx, host, domain.HTTPResponseCode, 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, "503", codes[0].Text(domain.FieldCode))

	last, err := s.Last(ctx, host, domain.Availability)
	require.NoError(t, err)
	require.NotNil(t, last)
	pct, ok := last.Float64(domain.FieldPercentage)
	require.True(t, ok)
	assert.InDelta(t, 66.5, pct, 1e-9)

	none, err := s.Last(ctx, "https://nobody/", domain.Availability)
	require.NoError(t, err)
	assert.Nil(t, none)

	all, err := s.Since(ctx, host, domain.HTTPResponseTime, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Time.After(all[1].Time), "want newest first")
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir(), "prune", zap.NewNop())
	defer s.Close()
	require.NoError(t, s.CreateDatabase(ctx))

	now := time.Now().UTC()
	require.NoError(t, s.Write(ctx, []domain.Record{
		domain.NewCode(host, 200, now.Add(-48*time.Hour)),
		domain.NewCode(host, 200, now),
	}))
	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_ReopensExistingFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := New(dir, "reopen", zap.NewNop())
	require.NoError(t, s.CreateDatabase(ctx))
	require.NoError(t, s.Write(ctx, []domain.Record{domain.NewAlert(host, "ALERT", time.Time{})}))
	require.NoError(t, s.Close())

	again := New(dir, "reopen", zap.NewNop())
	defer again.Close()
	rows, err := again.Since(ctx, host, domain.Alert, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ALERT", rows[0].Text(domain.FieldError))
}

func TestStore_WriteAfterCloseDoesNotReopen(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir(), "test", zap.NewNop())
	require.NoError(t, s.CreateDatabase(ctx))
	require.NoError(t, s.Close())

	err := s.Write(ctx, []domain.Record{domain.NewCode(host, 200, time.Time{})})
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.Last(ctx, host, domain.HTTPResponseCode)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.CreateDatabase(ctx), ErrClosed)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Nil(t, s.db)
}
