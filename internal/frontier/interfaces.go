package frontier

import (
	"context"
	"time"
)

// Guard is the precondition a conditional status update re-verifies at
// commit time. Scans are advisory; the guard is what makes a transition
// safe under concurrent callers on separate processes.
type Guard struct {
	// Status the record must still hold. Required.
	Status Status
	// Owner, when non-empty, requires claimed_by to match.
	Owner string
	// ExpiredBefore, when set, requires the lease to have expired before
	// the given instant.
	ExpiredBefore *time.Time
	// EligibleBefore, when set, requires next_eligible_at to be at or
	// before the given instant.
	EligibleBefore *time.Time
}

// ScanQuery selects candidate records. Results are a snapshot, not a
// reservation: every follow-up transition re-checks its Guard.
type ScanQuery struct {
	Status         Status
	ExpiredBefore  *time.Time
	EligibleBefore *time.Time
	// ByPriority orders priority descending, created_at ascending.
	// Otherwise ordering is created_at ascending.
	ByPriority bool
	Limit      int
}

// Store is the durable record set. All mutual exclusion across processes
// is expressed through these conditional primitives; no in-process lock
// is assumed to protect frontier state.
type Store interface {
	// InsertIfAbsent inserts rec when its key is novel and reports whether
	// the insert happened. On a duplicate key it returns the existing
	// record untouched.
	InsertIfAbsent(ctx context.Context, rec URLRecord) (URLRecord, bool, error)

	// CompareAndSetStatus applies next's mutable fields iff guard still
	// holds for key. It reports false, without error, when the guard
	// failed on an existing record; ErrNotFound when the key is unknown.
	CompareAndSetStatus(ctx context.Context, key string, guard Guard, next URLRecord) (bool, error)

	// Scan returns records matching q.
	Scan(ctx context.Context, q ScanQuery) ([]URLRecord, error)

	// Get fetches one record, ErrNotFound when absent.
	Get(ctx context.Context, key string) (URLRecord, error)

	// Delete removes a record outright. Operator purge only; the crawl
	// lifecycle never deletes (dead records are tombstones).
	Delete(ctx context.Context, key string) error

	// Counts returns per-status and per-domain record counts.
	Counts(ctx context.Context) (Stats, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
