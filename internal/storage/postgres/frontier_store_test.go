package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/lookuply/frontier/internal/frontier"
)

var recordCols = []string{
	"url_key", "url", "domain", "status", "priority", "attempts",
	"claimed_by", "lease_expires_at", "next_eligible_at", "last_error",
	"created_at", "updated_at",
}

func testRecord(now time.Time) frontier.URLRecord {
	return frontier.URLRecord{
		Key:       "abc123",
		URL:       "https://example.com/page",
		Domain:    "example.com",
		Status:    frontier.StatusPending,
		Priority:  5,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInsertIfAbsentInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFrontierStoreWithPool(mock, "frontier_urls")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := testRecord(now)

	mock.ExpectExec("INSERT INTO frontier_urls").
		WithArgs(
			rec.Key,
			rec.URL,
			rec.Domain,
			string(rec.Status),
			rec.Priority,
			rec.Attempts,
			rec.ClaimedBy,
			rec.LeaseExpiresAt,
			rec.NextEligibleAt,
			rec.LastError,
			rec.CreatedAt,
			rec.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	stored, created, err := store.InsertIfAbsent(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, rec.Key, stored.Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsentReturnsExistingOnConflict(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFrontierStoreWithPool(mock, "frontier_urls")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := testRecord(now)

	mock.ExpectExec("INSERT INTO frontier_urls").
		WithArgs(
			rec.Key,
			rec.URL,
			rec.Domain,
			string(rec.Status),
			rec.Priority,
			rec.Attempts,
			rec.ClaimedBy,
			rec.LeaseExpiresAt,
			rec.NextEligibleAt,
			rec.LastError,
			rec.CreatedAt,
			rec.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT (.+) FROM frontier_urls WHERE url_key").
		WithArgs(rec.Key).
		WillReturnRows(pgxmock.NewRows(recordCols).AddRow(
			rec.Key, rec.URL, rec.Domain, "pending", 9, 0,
			"", (*time.Time)(nil), (*time.Time)(nil), "", now, now,
		))

	existing, created, err := store.InsertIfAbsent(context.Background(), rec)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, 9, existing.Priority)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetStatusApplies(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFrontierStoreWithPool(mock, "frontier_urls")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	next := testRecord(now)
	next.Status = frontier.StatusDone
	next.Attempts = 1

	mock.ExpectExec("UPDATE frontier_urls SET").
		WithArgs(
			next.Key,
			"claimed",
			"node-a",
			string(next.Status),
			next.Priority,
			next.Attempts,
			next.ClaimedBy,
			next.LeaseExpiresAt,
			next.NextEligibleAt,
			next.LastError,
			next.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	guard := frontier.Guard{Status: frontier.StatusClaimed, Owner: "node-a"}
	ok, err := store.CompareAndSetStatus(context.Background(), next.Key, guard, next)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetStatusGuardMiss(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFrontierStoreWithPool(mock, "frontier_urls")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	next := testRecord(now)
	next.Status = frontier.StatusClaimed

	mock.ExpectExec("UPDATE frontier_urls SET").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(next.Key).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.CompareAndSetStatus(context.Background(), next.Key, frontier.Guard{Status: frontier.StatusPending}, next)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetStatusUnknownKey(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFrontierStoreWithPool(mock, "frontier_urls")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	next := testRecord(now)
	next.Status = frontier.StatusClaimed

	mock.ExpectExec("UPDATE frontier_urls SET").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(next.Key).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = store.CompareAndSetStatus(context.Background(), next.Key, frontier.Guard{Status: frontier.StatusPending}, next)
	require.ErrorIs(t, err, frontier.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanBuildsConditionsAndOrder(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFrontierStoreWithPool(mock, "frontier_urls")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery(`SELECT (.+) FROM frontier_urls WHERE status = \$1 AND lease_expires_at < \$2 ORDER BY created_at ASC, url_key ASC LIMIT \$3`).
		WithArgs("claimed", now, 10).
		WillReturnRows(pgxmock.NewRows(recordCols).AddRow(
			"k1", "https://a.com/x", "a.com", "claimed", 0, 1,
			"node-a", &now, (*time.Time)(nil), "", now, now,
		))

	out, err := store.Scan(context.Background(), frontier.ScanQuery{
		Status:        frontier.StatusClaimed,
		ExpiredBefore: &now,
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "node-a", out[0].ClaimedBy)
	require.Equal(t, frontier.StatusClaimed, out[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanByPriorityOrder(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFrontierStoreWithPool(mock, "frontier_urls")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery(`SELECT (.+) FROM frontier_urls WHERE status = \$1 ORDER BY priority DESC, created_at ASC, url_key ASC LIMIT \$2`).
		WithArgs("pending", 5).
		WillReturnRows(pgxmock.NewRows(recordCols).
			AddRow("k1", "https://a.com/x", "a.com", "pending", 9, 0, "", (*time.Time)(nil), (*time.Time)(nil), "", now, now).
			AddRow("k2", "https://b.com/y", "b.com", "pending", 1, 0, "", (*time.Time)(nil), (*time.Time)(nil), "", now, now))

	out, err := store.Scan(context.Background(), frontier.ScanQuery{
		Status:     frontier.StatusPending,
		ByPriority: true,
		Limit:      5,
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "k1", out[0].Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUnknownKey(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFrontierStoreWithPool(mock, "frontier_urls")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM frontier_urls WHERE url_key").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, frontier.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUnknownKey(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFrontierStoreWithPool(mock, "frontier_urls")
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM frontier_urls").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err = store.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, frontier.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFrontierStoreWithPool(mock, "frontier_urls")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 3).
			AddRow("done", 2))
	mock.ExpectQuery("SELECT domain, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"domain", "count"}).
			AddRow("a.com", 4).
			AddRow("b.com", 1))

	stats, err := store.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, stats.Total)
	require.Equal(t, 3, stats.ByStatus[frontier.StatusPending])
	require.Equal(t, 2, stats.ByStatus[frontier.StatusDone])
	require.Equal(t, 0, stats.ByStatus[frontier.StatusDead])
	require.Equal(t, 4, stats.ByDomain["a.com"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewFrontierStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewFrontierStore(context.Background(), FrontierStoreConfig{})
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewFrontierStoreWithPool(mock, "bad;table")
	require.Error(t, err)

	_, err = NewFrontierStoreWithPool(nil, "frontier_urls")
	require.Error(t, err)
}
