// Package sweeper runs the background maintenance loops: returning
// expired leases to the pending pool and requeueing failed URLs whose
// backoff has elapsed.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lookuply/frontier/internal/frontier"
)

// Maintainer is the subset of the frontier service the sweeper drives.
type Maintainer interface {
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)
	RequeueEligibleRetries(ctx context.Context, now time.Time) (int, error)
}

// Sweeper periodically invokes lease reclaim and retry requeue. Both
// passes are idempotent, so overlapping sweepers on separate processes
// never double-apply a transition.
type Sweeper struct {
	service         Maintainer
	clock           frontier.Clock
	reclaimInterval time.Duration
	requeueInterval time.Duration
	logger          *zap.Logger
}

// New constructs a Sweeper. Non-positive intervals disable the
// corresponding loop.
func New(service Maintainer, clock frontier.Clock, reclaimInterval, requeueInterval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		service:         service,
		clock:           clock,
		reclaimInterval: reclaimInterval,
		requeueInterval: requeueInterval,
		logger:          logger,
	}
}

// Run blocks until ctx is canceled, driving both loops on their own
// tickers.
func (s *Sweeper) Run(ctx context.Context) {
	var reclaimC, requeueC <-chan time.Time

	if s.reclaimInterval > 0 {
		ticker := time.NewTicker(s.reclaimInterval)
		defer ticker.Stop()
		reclaimC = ticker.C
	}
	if s.requeueInterval > 0 {
		ticker := time.NewTicker(s.requeueInterval)
		defer ticker.Stop()
		requeueC = ticker.C
	}

	s.logger.Info("sweeper started",
		zap.Duration("reclaim_interval", s.reclaimInterval),
		zap.Duration("requeue_interval", s.requeueInterval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-reclaimC:
			s.ReclaimOnce(ctx)
		case <-requeueC:
			s.RequeueOnce(ctx)
		}
	}
}

// ReclaimOnce runs a single lease-reclaim pass.
func (s *Sweeper) ReclaimOnce(ctx context.Context) {
	now := s.clock.Now()
	count, err := s.service.ReclaimExpired(ctx, now)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Transient store failures are safe to retry on the next tick.
		s.logger.Error("lease reclaim failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.logger.Info("lease reclaim pass finished", zap.Int("reclaimed", count))
	}
}

// RequeueOnce runs a single retry-requeue pass.
func (s *Sweeper) RequeueOnce(ctx context.Context) {
	now := s.clock.Now()
	count, err := s.service.RequeueEligibleRetries(ctx, now)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("retry requeue failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.logger.Info("retry requeue pass finished", zap.Int("requeued", count))
	}
}
