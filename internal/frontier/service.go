package frontier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lookuply/frontier/internal/metrics"
)

// Policy holds the tunable crawl bookkeeping knobs. None of the numeric
// values are load-bearing for correctness; they come from configuration.
type Policy struct {
	// LeaseDuration is the default exclusive-claim lifetime handed out by
	// Dispatch when the request does not override it.
	LeaseDuration time.Duration
	// MaxRetries bounds claim-to-failure cycles before a record goes dead.
	MaxRetries int
	// BackoffBase seeds the exponential retry delay.
	BackoffBase time.Duration
	// BackoffCeiling caps the retry delay.
	BackoffCeiling time.Duration
	// DispatchOverfetch multiplies maxCount when scanning candidates so
	// politeness skips and claim races still leave enough to hand out.
	DispatchOverfetch int
	// SweepBatch bounds how many records one reclaim/requeue pass touches.
	SweepBatch int
}

func (p Policy) withDefaults() Policy {
	if p.LeaseDuration <= 0 {
		p.LeaseDuration = 30 * time.Minute
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = time.Minute
	}
	if p.BackoffCeiling <= 0 {
		p.BackoffCeiling = time.Hour
	}
	if p.DispatchOverfetch <= 0 {
		p.DispatchOverfetch = 4
	}
	if p.SweepBatch <= 0 {
		p.SweepBatch = 500
	}
	return p
}

// Backoff returns the retry delay after the given number of attempts
// (attempts >= 1), doubling per attempt up to the ceiling.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.BackoffCeiling {
			return p.BackoffCeiling
		}
	}
	if delay > p.BackoffCeiling {
		delay = p.BackoffCeiling
	}
	return delay
}

// Event names emitted when records reach a terminal state.
const (
	EventURLDone = "url.done"
	EventURLDead = "url.dead"
)

// Service owns all frontier policy: dedup, priority ordering, politeness,
// lease accounting, bounded retry. Any number of Service instances may run
// concurrently; correctness rests on the Store's conditional writes, never
// on in-process locking.
type Service struct {
	store     Store
	clock     Clock
	policy    Policy
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewService constructs a Service. publisher and topic may be zero when
// lifecycle events are not wanted.
func NewService(store Store, clock Clock, policy Policy, publisher Publisher, topic string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		clock:     clock,
		policy:    policy.withDefaults(),
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}
}

// Enqueue normalizes rawURL and inserts a pending record when the key is
// novel. An already-present key is a no-op success: the existing record is
// returned unchanged and created is false. Concurrent enqueues of the same
// novel key resolve to exactly one record via the store's insert-if-absent.
func (s *Service) Enqueue(ctx context.Context, rawURL string, priority int) (URLRecord, bool, error) {
	key, domain, err := Normalize(rawURL)
	if err != nil {
		return URLRecord{}, false, err
	}
	now := s.clock.Now()
	rec := URLRecord{
		Key:       key,
		URL:       rawURL,
		Domain:    domain,
		Status:    StatusPending,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	stored, created, err := s.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		return URLRecord{}, false, fmt.Errorf("insert url: %w", err)
	}
	if created {
		metrics.ObserveEnqueue(domain)
		s.logger.Debug("url enqueued",
			zap.String("key", key),
			zap.String("domain", domain),
			zap.Int("priority", priority),
		)
	}
	return stored, created, nil
}

// DispatchRequest asks for up to MaxCount exclusive claims on behalf of Node.
type DispatchRequest struct {
	Node     string
	MaxCount int
	// Lease overrides the policy default when positive.
	Lease time.Duration
}

// Dispatch claims up to req.MaxCount pending records for req.Node, highest
// priority first, oldest first within a priority tier, at most one record
// per domain per call. Each claim is an individual compare-and-set guarded
// on the record still being pending, so candidates that raced away are
// skipped rather than double-claimed; the result may be shorter than
// MaxCount.
func (s *Service) Dispatch(ctx context.Context, req DispatchRequest) ([]URLRecord, error) {
	if req.Node == "" {
		return nil, fmt.Errorf("dispatch: node identity is required")
	}
	if req.MaxCount <= 0 {
		return nil, fmt.Errorf("dispatch: max count must be > 0")
	}
	lease := req.Lease
	if lease <= 0 {
		lease = s.policy.LeaseDuration
	}

	candidates, err := s.store.Scan(ctx, ScanQuery{
		Status:     StatusPending,
		ByPriority: true,
		Limit:      req.MaxCount * s.policy.DispatchOverfetch,
	})
	if err != nil {
		return nil, fmt.Errorf("scan pending: %w", err)
	}

	now := s.clock.Now()
	expiry := now.Add(lease)
	seenDomains := make(map[string]bool, req.MaxCount)
	claimed := make([]URLRecord, 0, req.MaxCount)

	for _, cand := range candidates {
		if len(claimed) == req.MaxCount {
			break
		}
		if err := ctx.Err(); err != nil {
			// Claims already committed stay valid; the caller simply gets
			// what was handed out so far.
			return claimed, err
		}
		if seenDomains[cand.Domain] {
			continue
		}

		next := cand
		next.Status = StatusClaimed
		next.ClaimedBy = req.Node
		next.LeaseExpiresAt = &expiry
		next.Attempts = cand.Attempts + 1
		next.LastError = ""
		next.NextEligibleAt = nil
		next.UpdatedAt = now

		ok, err := s.store.CompareAndSetStatus(ctx, cand.Key, Guard{Status: StatusPending}, next)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return claimed, fmt.Errorf("claim %s: %w", cand.Key, err)
		}
		if !ok {
			// Raced away to another dispatcher; benign skip.
			metrics.ObserveClaimConflict()
			continue
		}
		seenDomains[cand.Domain] = true
		claimed = append(claimed, next)
	}

	metrics.ObserveDispatch(req.Node, len(claimed))
	s.logger.Debug("dispatch completed",
		zap.String("node", req.Node),
		zap.Int("requested", req.MaxCount),
		zap.Int("claimed", len(claimed)),
	)
	return claimed, nil
}

// Complete records a successful crawl. The report is accepted only while
// the caller still owns the claim; a late report after the lease was
// reclaimed and reassigned fails with ErrClaimConflict and changes nothing.
func (s *Service) Complete(ctx context.Context, key, owner string) (URLRecord, error) {
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return URLRecord{}, err
	}
	if rec.Status != StatusClaimed || rec.ClaimedBy != owner {
		return URLRecord{}, fmt.Errorf("%w: %s is %s (claimed by %q)", ErrClaimConflict, key, rec.Status, rec.ClaimedBy)
	}

	next := rec
	next.Status = StatusDone
	next.ClaimedBy = ""
	next.LeaseExpiresAt = nil
	next.LastError = ""
	next.NextEligibleAt = nil
	next.UpdatedAt = s.clock.Now()

	ok, err := s.store.CompareAndSetStatus(ctx, key, Guard{Status: StatusClaimed, Owner: owner}, next)
	if err != nil {
		return URLRecord{}, fmt.Errorf("complete %s: %w", key, err)
	}
	if !ok {
		return URLRecord{}, fmt.Errorf("%w: %s changed concurrently", ErrClaimConflict, key)
	}

	metrics.ObserveComplete(next.Domain)
	s.publish(ctx, EventURLDone, next)
	return next, nil
}

// Fail records a crawl failure under the same ownership precondition as
// Complete. While attempts remain it schedules an exponentially backed-off
// retry; once retries are exhausted the record goes dead and is never
// dispatched again.
func (s *Service) Fail(ctx context.Context, key, owner, errorDetail string) (URLRecord, error) {
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return URLRecord{}, err
	}
	if rec.Status != StatusClaimed || rec.ClaimedBy != owner {
		return URLRecord{}, fmt.Errorf("%w: %s is %s (claimed by %q)", ErrClaimConflict, key, rec.Status, rec.ClaimedBy)
	}

	now := s.clock.Now()
	next := rec
	next.ClaimedBy = ""
	next.LeaseExpiresAt = nil
	next.LastError = errorDetail
	next.UpdatedAt = now
	if rec.Attempts >= s.policy.MaxRetries {
		next.Status = StatusDead
		next.NextEligibleAt = nil
	} else {
		next.Status = StatusFailed
		eligible := now.Add(s.policy.Backoff(rec.Attempts))
		next.NextEligibleAt = &eligible
	}

	ok, err := s.store.CompareAndSetStatus(ctx, key, Guard{Status: StatusClaimed, Owner: owner}, next)
	if err != nil {
		return URLRecord{}, fmt.Errorf("fail %s: %w", key, err)
	}
	if !ok {
		return URLRecord{}, fmt.Errorf("%w: %s changed concurrently", ErrClaimConflict, key)
	}

	if next.Status == StatusDead {
		metrics.ObserveDead(next.Domain)
		s.publish(ctx, EventURLDead, next)
		s.logger.Warn("url exhausted retries",
			zap.String("key", key),
			zap.Int("attempts", next.Attempts),
			zap.String("last_error", errorDetail),
		)
	} else {
		metrics.ObserveFail(next.Domain)
	}
	return next, nil
}

// ReclaimExpired returns claimed records whose lease expired before now to
// the pending pool, clearing claim fields and preserving attempts (a slow
// worker is not a failed one). Each record is reclaimed at most once per
// expiry, so concurrent sweeps are harmless.
func (s *Service) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.Scan(ctx, ScanQuery{
		Status:        StatusClaimed,
		ExpiredBefore: &now,
		Limit:         s.policy.SweepBatch,
	})
	if err != nil {
		return 0, fmt.Errorf("scan expired claims: %w", err)
	}

	reclaimed := 0
	for _, rec := range expired {
		if err := ctx.Err(); err != nil {
			return reclaimed, err
		}
		next := rec
		next.Status = StatusPending
		next.ClaimedBy = ""
		next.LeaseExpiresAt = nil
		next.UpdatedAt = s.clock.Now()

		ok, err := s.store.CompareAndSetStatus(ctx, rec.Key, Guard{
			Status:        StatusClaimed,
			ExpiredBefore: &now,
		}, next)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return reclaimed, fmt.Errorf("reclaim %s: %w", rec.Key, err)
		}
		if !ok {
			// True owner finished it, or another sweep got here first.
			continue
		}
		reclaimed++
		s.logger.Info("reclaimed expired lease",
			zap.String("key", rec.Key),
			zap.String("stale_owner", rec.ClaimedBy),
		)
	}
	if reclaimed > 0 {
		metrics.ObserveReclaim(reclaimed)
	}
	return reclaimed, nil
}

// RequeueEligibleRetries returns failed records whose backoff has elapsed
// to the pending pool, leaving priority and attempts untouched. Idempotent
// under concurrent invocation.
func (s *Service) RequeueEligibleRetries(ctx context.Context, now time.Time) (int, error) {
	eligible, err := s.store.Scan(ctx, ScanQuery{
		Status:         StatusFailed,
		EligibleBefore: &now,
		Limit:          s.policy.SweepBatch,
	})
	if err != nil {
		return 0, fmt.Errorf("scan eligible retries: %w", err)
	}

	requeued := 0
	for _, rec := range eligible {
		if err := ctx.Err(); err != nil {
			return requeued, err
		}
		next := rec
		next.Status = StatusPending
		next.LastError = ""
		next.NextEligibleAt = nil
		next.UpdatedAt = s.clock.Now()

		ok, err := s.store.CompareAndSetStatus(ctx, rec.Key, Guard{
			Status:         StatusFailed,
			EligibleBefore: &now,
		}, next)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return requeued, fmt.Errorf("requeue %s: %w", rec.Key, err)
		}
		if !ok {
			continue
		}
		requeued++
	}
	if requeued > 0 {
		metrics.ObserveRetryRequeue(requeued)
	}
	return requeued, nil
}

// Stats returns a read-only snapshot of record counts per status and domain.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	stats, err := s.store.Counts(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count records: %w", err)
	}
	for _, status := range AllStatuses {
		metrics.SetRecordCount(string(status), stats.ByStatus[status])
	}
	return stats, nil
}

// Get fetches one record by key.
func (s *Service) Get(ctx context.Context, key string) (URLRecord, error) {
	return s.store.Get(ctx, key)
}

// Remove purges a record outright. Operator use only.
func (s *Service) Remove(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}

func (s *Service) publish(ctx context.Context, event string, rec URLRecord) {
	if s.publisher == nil || s.topic == "" {
		return
	}
	payload := map[string]any{
		"event":    event,
		"key":      rec.Key,
		"url":      rec.URL,
		"domain":   rec.Domain,
		"status":   string(rec.Status),
		"attempts": rec.Attempts,
		"at":       rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.LastError != "" {
		payload["last_error"] = rec.LastError
	}
	if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
		s.logger.Warn("publish lifecycle event failed",
			zap.String("event", event),
			zap.String("key", rec.Key),
			zap.Error(err),
		)
	}
}
