// Package store persists sync cycle history and the last accepted snapshot.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/townmap/internal/model"
	"github.com/sells-group/townmap/internal/snapshot"
)

// CycleFilter specifies criteria for listing cycles.
type CycleFilter struct {
	Status model.SyncStatus `json:"status,omitempty"`
	// Since keeps cycles started at or after it. Zero means no lower bound.
	Since time.Time `json:"since,omitempty"`
	// Limit caps the result. Zero means DefaultCycleLimit, NoLimit returns
	// every match.
	Limit int `json:"limit,omitempty"`
}

const (
	// DefaultCycleLimit caps ListCycles when no limit is given.
	DefaultCycleLimit = 50
	// NoLimit lists every matching cycle.
	NoLimit = -1
)

// Store defines the persistence interface for the sync pipeline.
type Store interface {
	// Cycles
	RecordCycle(ctx context.Context, entry model.CycleEntry) error
	ListCycles(ctx context.Context, filter CycleFilter) ([]model.CycleEntry, error)
	// PruneCycles deletes cycles started before the cutoff and returns how
	// many were removed.
	PruneCycles(ctx context.Context, before time.Time) (int64, error)

	// Snapshot. LoadSnapshot returns nil, nil when nothing was saved yet.
	SaveSnapshot(ctx context.Context, v *snapshot.Version) error
	LoadSnapshot(ctx context.Context) (*snapshot.Version, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates a Store for driver: "sqlite", "postgres" or "memory".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		if dsn == "" {
			return nil, eris.New("store: sqlite requires database_url")
		}
		return NewSQLite(dsn)
	case "postgres":
		if dsn == "" {
			return nil, eris.New("store: postgres requires database_url")
		}
		return NewPostgres(ctx, dsn, nil)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

// limitOrDefault resolves a filter limit. It returns 0 for NoLimit.
func limitOrDefault(n int) int {
	switch {
	case n < 0:
		return 0
	case n == 0:
		return DefaultCycleLimit
	default:
		return n
	}
}
