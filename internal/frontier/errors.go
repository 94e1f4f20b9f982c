package frontier

import "errors"

// Error taxonomy surfaced to callers. Handlers map these onto HTTP
// statuses; everything else is an internal failure.
var (
	// ErrInvalidURL marks input rejected before any store mutation.
	ErrInvalidURL = errors.New("invalid url")

	// ErrClaimConflict marks a Complete/Fail whose ownership or status
	// precondition no longer holds. The caller's lease is stale and the
	// report must not be retried.
	ErrClaimConflict = errors.New("claim conflict")

	// ErrNotFound marks an unknown key.
	ErrNotFound = errors.New("url not found")

	// ErrStoreUnavailable marks a transient storage failure. Sweeps are
	// idempotent, so blind retry with backoff is safe.
	ErrStoreUnavailable = errors.New("store unavailable")
)
