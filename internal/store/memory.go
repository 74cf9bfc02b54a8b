package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/townmap/internal/model"
	"github.com/sells-group/townmap/internal/snapshot"
)

// DefaultMemoryCycles is how many cycles a MemoryStore keeps. A day of
// 5 s polling fits.
const DefaultMemoryCycles = 20000

// MemoryStore keeps everything in process memory. History is lost on exit,
// and only the newest maxCycles entries are kept.
type MemoryStore struct {
	mu        sync.Mutex
	cycles    []model.CycleEntry
	maxCycles int
	snap      *snapshot.Version
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{maxCycles: DefaultMemoryCycles}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) RecordCycle(_ context.Context, entry model.CycleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, entry)
	if over := len(m.cycles) - m.maxCycles; m.maxCycles > 0 && over > 0 {
		m.cycles = append(m.cycles[:0], m.cycles[over:]...)
	}
	return nil
}

func (m *MemoryStore) PruneCycles(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.cycles[:0]
	for _, e := range m.cycles {
		if !e.StartedAt.Before(before) {
			kept = append(kept, e)
		}
	}
	removed := int64(len(m.cycles) - len(kept))
	clear(m.cycles[len(kept):])
	m.cycles = kept
	return removed, nil
}

func (m *MemoryStore) ListCycles(_ context.Context, filter CycleFilter) ([]model.CycleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.CycleEntry
	for _, e := range m.cycles {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && e.StartedAt.Before(filter.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })

	if limit := limitOrDefault(filter.Limit); limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveSnapshot(_ context.Context, v *snapshot.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = v
	return nil
}

func (m *MemoryStore) LoadSnapshot(context.Context) (*snapshot.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}
