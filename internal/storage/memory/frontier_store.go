// Package memory provides an in-memory frontier store for tests and
// single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/lookuply/frontier/internal/frontier"
)

// FrontierStore keeps all records in a map guarded by a RWMutex. The
// conditional-write semantics match the Postgres store so the service
// behaves identically on either backend.
type FrontierStore struct {
	mu      sync.RWMutex
	records map[string]frontier.URLRecord
}

// NewFrontierStore creates an empty in-memory store.
func NewFrontierStore() *FrontierStore {
	return &FrontierStore{
		records: make(map[string]frontier.URLRecord),
	}
}

// InsertIfAbsent inserts rec when the key is novel; otherwise it returns
// the existing record unchanged.
func (s *FrontierStore) InsertIfAbsent(_ context.Context, rec frontier.URLRecord) (frontier.URLRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.Key]; ok {
		return existing, false, nil
	}
	s.records[rec.Key] = rec
	return rec, true, nil
}

// CompareAndSetStatus applies next iff guard holds for key.
func (s *FrontierStore) CompareAndSetStatus(_ context.Context, key string, guard frontier.Guard, next frontier.URLRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[key]
	if !ok {
		return false, frontier.ErrNotFound
	}
	if !guardHolds(current, guard) {
		return false, nil
	}
	if !frontier.CanTransition(current.Status, next.Status) {
		return false, nil
	}
	next.Key = key
	s.records[key] = next
	return true, nil
}

func guardHolds(rec frontier.URLRecord, guard frontier.Guard) bool {
	if rec.Status != guard.Status {
		return false
	}
	if guard.Owner != "" && rec.ClaimedBy != guard.Owner {
		return false
	}
	if guard.ExpiredBefore != nil {
		if rec.LeaseExpiresAt == nil || !rec.LeaseExpiresAt.Before(*guard.ExpiredBefore) {
			return false
		}
	}
	if guard.EligibleBefore != nil {
		if rec.NextEligibleAt == nil || rec.NextEligibleAt.After(*guard.EligibleBefore) {
			return false
		}
	}
	return true
}

// Scan returns a snapshot of records matching q, ordered per q.ByPriority.
func (s *FrontierStore) Scan(_ context.Context, q frontier.ScanQuery) ([]frontier.URLRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []frontier.URLRecord
	for _, rec := range s.records {
		if rec.Status != q.Status {
			continue
		}
		if q.ExpiredBefore != nil {
			if rec.LeaseExpiresAt == nil || !rec.LeaseExpiresAt.Before(*q.ExpiredBefore) {
				continue
			}
		}
		if q.EligibleBefore != nil {
			if rec.NextEligibleAt == nil || rec.NextEligibleAt.After(*q.EligibleBefore) {
				continue
			}
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if q.ByPriority && out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Key < out[j].Key
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Get fetches one record by key.
func (s *FrontierStore) Get(_ context.Context, key string) (frontier.URLRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return frontier.URLRecord{}, frontier.ErrNotFound
	}
	return rec, nil
}

// Delete removes a record by key.
func (s *FrontierStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return frontier.ErrNotFound
	}
	delete(s.records, key)
	return nil
}

// Counts returns per-status and per-domain totals.
func (s *FrontierStore) Counts(_ context.Context) (frontier.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := frontier.Stats{
		ByStatus: make(map[frontier.Status]int, len(frontier.AllStatuses)),
		ByDomain: make(map[string]int),
	}
	for _, status := range frontier.AllStatuses {
		stats.ByStatus[status] = 0
	}
	for _, rec := range s.records {
		stats.ByStatus[rec.Status]++
		stats.ByDomain[rec.Domain]++
		stats.Total++
	}
	return stats, nil
}
