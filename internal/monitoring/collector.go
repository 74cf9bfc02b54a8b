package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/townmap/internal/model"
	"github.com/sells-group/townmap/internal/store"
)

// MetricsSnapshot holds a point-in-time view of sync health.
type MetricsSnapshot struct {
	Total     int     `json:"total"`
	Updated   int     `json:"updated"`
	Unchanged int     `json:"unchanged"`
	Failed    int     `json:"failed"`
	Manual    int     `json:"manual"`
	FailRate  float64 `json:"fail_rate"`

	AvgDurationMs int64 `json:"avg_duration_ms"`
	AvgAccepted   int   `json:"avg_accepted"`
	AvgSkipped    int   `json:"avg_skipped"`

	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastUpdateAt  *time.Time `json:"last_update_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`

	// Metadata.
	Lookback    time.Duration `json:"lookback"`
	CollectedAt time.Time     `json:"collected_at"`
}

// Window renders the lookback for messages, e.g. "24h" or "30m0s".
func (s *MetricsSnapshot) Window() string {
	if s.Lookback > 0 && s.Lookback%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(s.Lookback/time.Hour))
	}
	return s.Lookback.String()
}

// CycleLister is the part of store.Store the collector reads.
type CycleLister interface {
	ListCycles(ctx context.Context, filter store.CycleFilter) ([]model.CycleEntry, error)
}

// Collector summarizes recorded cycles.
type Collector struct {
	cycles CycleLister
}

// NewCollector creates a new metrics collector.
func NewCollector(cycles CycleLister) *Collector {
	return &Collector{cycles: cycles}
}

// Collect summarizes every cycle started within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookback time.Duration) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		Lookback:    lookback,
		CollectedAt: now,
	}
	cutoff := now.Add(-lookback)

	entries, err := c.cycles.ListCycles(ctx, store.CycleFilter{Since: cutoff, Limit: store.NoLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list cycles")
	}

	var duration time.Duration
	var accepted, skipped int
	for _, e := range entries {
		if e.StartedAt.Before(cutoff) {
			continue
		}
		snap.Total++
		if e.Manual {
			snap.Manual++
		}
		duration += e.Duration()

		switch e.Status {
		case model.SyncStatusUpdated:
			snap.Updated++
			snap.LastUpdateAt = latest(snap.LastUpdateAt, e.CompletedAt)
			snap.LastSuccessAt = latest(snap.LastSuccessAt, e.CompletedAt)
		case model.SyncStatusUnchanged:
			snap.Unchanged++
			snap.LastSuccessAt = latest(snap.LastSuccessAt, e.CompletedAt)
		case model.SyncStatusError:
			snap.Failed++
			if snap.LastError == "" {
				// Entries arrive newest first.
				snap.LastError = e.Error
			}
			continue
		}
		accepted += e.Accepted
		skipped += e.Skipped
	}

	if snap.Total > 0 {
		snap.FailRate = float64(snap.Failed) / float64(snap.Total)
		snap.AvgDurationMs = (duration / time.Duration(snap.Total)).Milliseconds()
	}
	if ok := snap.Updated + snap.Unchanged; ok > 0 {
		snap.AvgAccepted = accepted / ok
		snap.AvgSkipped = skipped / ok
	}

	return snap, nil
}

func latest(cur *time.Time, t time.Time) *time.Time {
	if cur != nil && !t.After(*cur) {
		return cur
	}
	return &t
}
