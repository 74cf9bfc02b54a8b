package model

import "time"

// SyncStatus is the state of the sync controller.
type SyncStatus string

const (
	SyncStatusIdle      SyncStatus = "idle"
	SyncStatusUpdating  SyncStatus = "updating"
	SyncStatusUpdated   SyncStatus = "updated"
	SyncStatusUnchanged SyncStatus = "unchanged"
	SyncStatusError     SyncStatus = "error"
)

// Terminal reports whether s ends a cycle.
func (s SyncStatus) Terminal() bool {
	switch s {
	case SyncStatusUpdated, SyncStatusUnchanged, SyncStatusError:
		return true
	default:
		return false
	}
}

// SyncState is a point-in-time copy of the controller state.
type SyncState struct {
	Updating        bool       `json:"updating"`
	LastFingerprint string     `json:"last_fingerprint"`
	LastStatus      SyncStatus `json:"last_status"`
	LastError       string     `json:"last_error,omitempty"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	Towns           int        `json:"towns"`
}

// CycleEntry records one finished sync cycle.
type CycleEntry struct {
	ID          string     `json:"id"`
	Status      SyncStatus `json:"status"`
	Manual      bool       `json:"manual"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
	Accepted    int        `json:"accepted"`
	Skipped     int        `json:"skipped"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Duration returns how long the cycle took.
func (e CycleEntry) Duration() time.Duration {
	return e.CompletedAt.Sub(e.StartedAt)
}
