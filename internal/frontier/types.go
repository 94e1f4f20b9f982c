// Package frontier defines the URL frontier core: record types, the
// status state machine, and the service orchestrating crawl bookkeeping.
package frontier

import (
	"time"
)

// Status represents the lifecycle state of a frontier record.
type Status string

// Status values persisted in the frontier store.
const (
	StatusPending Status = "pending"
	StatusClaimed Status = "claimed"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusDead    Status = "dead"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{StatusPending, StatusClaimed, StatusDone, StatusFailed, StatusDead}

// transitions is the only legal set of status changes. Anything not in
// this table is rejected at the storage boundary.
var transitions = map[Status]map[Status]bool{
	StatusPending: {StatusClaimed: true},
	StatusClaimed: {StatusDone: true, StatusFailed: true, StatusDead: true, StatusPending: true},
	StatusFailed:  {StatusPending: true, StatusDead: true},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusDead
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusClaimed, StatusDone, StatusFailed, StatusDead:
		return true
	default:
		return false
	}
}

// URLRecord is the persisted state of one unique normalized URL.
// Key is the dedup identity; URL keeps the original string for display.
type URLRecord struct {
	Key            string     `json:"key"`
	URL            string     `json:"url"`
	Domain         string     `json:"domain"`
	Status         Status     `json:"status"`
	Priority       int        `json:"priority"`
	Attempts       int        `json:"attempts"`
	ClaimedBy      string     `json:"claimed_by,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Claimed reports whether the record currently carries a live claim.
func (r URLRecord) Claimed() bool {
	return r.Status == StatusClaimed && r.ClaimedBy != ""
}

// Stats is an eventually-consistent snapshot of record counts.
type Stats struct {
	ByStatus map[Status]int `json:"by_status"`
	ByDomain map[string]int `json:"by_domain"`
	Total    int            `json:"total"`
}
