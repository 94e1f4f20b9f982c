// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lookuply/frontier/internal/frontier"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// FrontierStoreConfig controls the Postgres connection pool used for
// frontier rows.
type FrontierStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// FrontierStore persists URL records in Postgres. All conditional writes
// are single-statement UPDATEs whose WHERE clause re-checks the guard, so
// any number of frontier processes can share one table safely.
type FrontierStore struct {
	pool  querier
	table string
}

const recordColumns = `url_key, url, domain, status, priority, attempts, claimed_by, lease_expires_at, next_eligible_at, last_error, created_at, updated_at`

// NewFrontierStore creates a Postgres-backed FrontierStore using the
// provided config.
func NewFrontierStore(ctx context.Context, cfg FrontierStoreConfig) (*FrontierStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "frontier_urls"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &FrontierStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewFrontierStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewFrontierStoreWithPool(pool querier, table string) (*FrontierStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "frontier_urls"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &FrontierStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *FrontierStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *FrontierStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("frontier store is not configured")
	}
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping: %w: %v", frontier.ErrStoreUnavailable, err)
	}
	return nil
}

// InsertIfAbsent inserts rec unless its key already exists. On a duplicate
// key the existing row is returned unchanged.
func (s *FrontierStore) InsertIfAbsent(ctx context.Context, rec frontier.URLRecord) (frontier.URLRecord, bool, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (url_key) DO NOTHING`, s.table, recordColumns)

	tag, err := s.pool.Exec(ctx, query,
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
	)
	if err != nil {
		return frontier.URLRecord{}, false, fmt.Errorf("insert url: %w: %v", frontier.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 1 {
		return rec, true, nil
	}
	existing, err := s.Get(ctx, rec.Key)
	if err != nil {
		return frontier.URLRecord{}, false, err
	}
	return existing, false, nil
}

// CompareAndSetStatus applies next's mutable fields iff guard still holds.
// The guard is re-evaluated inside the UPDATE's WHERE clause, which is
// what makes concurrent claimants safe.
func (s *FrontierStore) CompareAndSetStatus(ctx context.Context, key string, guard frontier.Guard, next frontier.URLRecord) (bool, error) {
	var (
		where = []string{"url_key = $1", "status = $2"}
		args  = []any{key, string(guard.Status)}
	)
	if guard.Owner != "" {
		args = append(args, guard.Owner)
		where = append(where, fmt.Sprintf("claimed_by = $%d", len(args)))
	}
	if guard.ExpiredBefore != nil {
		args = append(args, *guard.ExpiredBefore)
		where = append(where, fmt.Sprintf("lease_expires_at < $%d", len(args)))
	}
	if guard.EligibleBefore != nil {
		args = append(args, *guard.EligibleBefore)
		where = append(where, fmt.Sprintf("next_eligible_at <= $%d", len(args)))
	}

	base := len(args)
	args = append(args,
		string(next.Status),
		next.Priority,
		next.Attempts,
		next.ClaimedBy,
		next.LeaseExpiresAt,
		next.NextEligibleAt,
		next.LastError,
		next.UpdatedAt,
	)
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $%d,
	priority = $%d,
	attempts = $%d,
	claimed_by = $%d,
	lease_expires_at = $%d,
	next_eligible_at = $%d,
	last_error = $%d,
	updated_at = $%d
WHERE %s`, s.table,
		base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		strings.Join(where, " AND "))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update url: %w: %v", frontier.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Zero rows means the guard failed or the key is unknown.
	var exists bool
	existsQuery := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE url_key = $1)", s.table)
	if err := s.pool.QueryRow(ctx, existsQuery, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("check url exists: %w: %v", frontier.ErrStoreUnavailable, err)
	}
	if !exists {
		return false, frontier.ErrNotFound
	}
	return false, nil
}

// Scan returns records matching q in dispatch order.
func (s *FrontierStore) Scan(ctx context.Context, q frontier.ScanQuery) ([]frontier.URLRecord, error) {
	var (
		where = []string{"status = $1"}
		args  = []any{string(q.Status)}
	)
	if q.ExpiredBefore != nil {
		args = append(args, *q.ExpiredBefore)
		where = append(where, fmt.Sprintf("lease_expires_at < $%d", len(args)))
	}
	if q.EligibleBefore != nil {
		args = append(args, *q.EligibleBefore)
		where = append(where, fmt.Sprintf("next_eligible_at <= $%d", len(args)))
	}

	order := "created_at ASC, url_key ASC"
	if q.ByPriority {
		order = "priority DESC, created_at ASC, url_key ASC"
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s", recordColumns, s.table, strings.Join(where, " AND "), order)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan urls: %w: %v", frontier.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []frontier.URLRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan url row: %w: %v", frontier.ErrStoreUnavailable, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan urls: %w: %v", frontier.ErrStoreUnavailable, err)
	}
	return out, nil
}

// Get fetches one record by key.
func (s *FrontierStore) Get(ctx context.Context, key string) (frontier.URLRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE url_key = $1", recordColumns, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return frontier.URLRecord{}, frontier.ErrNotFound
		}
		return frontier.URLRecord{}, fmt.Errorf("get url: %w: %v", frontier.ErrStoreUnavailable, err)
	}
	return rec, nil
}

// Delete removes a record by key.
func (s *FrontierStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE url_key = $1", s.table)
	tag, err := s.pool.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("delete url: %w: %v", frontier.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return frontier.ErrNotFound
	}
	return nil
}

// Counts returns per-status and per-domain totals.
func (s *FrontierStore) Counts(ctx context.Context) (frontier.Stats, error) {
	stats := frontier.Stats{
		ByStatus: make(map[frontier.Status]int, len(frontier.AllStatuses)),
		ByDomain: make(map[string]int),
	}
	for _, status := range frontier.AllStatuses {
		stats.ByStatus[status] = 0
	}

	statusQuery := fmt.Sprintf("SELECT status, COUNT(*) FROM %s GROUP BY status", s.table)
	rows, err := s.pool.Query(ctx, statusQuery)
	if err != nil {
		return frontier.Stats{}, fmt.Errorf("count by status: %w: %v", frontier.ErrStoreUnavailable, err)
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return frontier.Stats{}, fmt.Errorf("count by status: %w: %v", frontier.ErrStoreUnavailable, err)
		}
		stats.ByStatus[frontier.Status(status)] = count
		stats.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return frontier.Stats{}, fmt.Errorf("count by status: %w: %v", frontier.ErrStoreUnavailable, err)
	}

	domainQuery := fmt.Sprintf("SELECT domain, COUNT(*) FROM %s GROUP BY domain", s.table)
	rows, err = s.pool.Query(ctx, domainQuery)
	if err != nil {
		return frontier.Stats{}, fmt.Errorf("count by domain: %w: %v", frontier.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			domain string
			count  int
		)
		if err := rows.Scan(&domain, &count); err != nil {
			return frontier.Stats{}, fmt.Errorf("count by domain: %w: %v", frontier.ErrStoreUnavailable, err)
		}
		stats.ByDomain[domain] = count
	}
	if err := rows.Err(); err != nil {
		return frontier.Stats{}, fmt.Errorf("count by domain: %w: %v", frontier.ErrStoreUnavailable, err)
	}
	return stats, nil
}

func scanRecord(row pgx.Row) (frontier.URLRecord, error) {
	var (
		rec    frontier.URLRecord
		status string
	)
	err := row.Scan(
		&rec.Key,
		&rec.URL,
		&rec.Domain,
		&status,
		&rec.Priority,
		&rec.Attempts,
		&rec.ClaimedBy,
		&rec.LeaseExpiresAt,
		&rec.NextEligibleAt,
		&rec.LastError,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return frontier.URLRecord{}, err
	}
	rec.Status = frontier.Status(status)
	return rec, nil
}
