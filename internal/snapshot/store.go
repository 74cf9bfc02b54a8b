// Package snapshot holds the published town snapshot and its change fingerprint.
package snapshot

import (
	"sync/atomic"
	"time"

	"github.com/sells-group/townmap/internal/model"
)

// Version is one published snapshot. It is immutable once stored.
type Version struct {
	Towns       model.Snapshot `json:"towns"`
	Fingerprint Fingerprint    `json:"fingerprint"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Store hands out the current Version to readers. Writers replace the
// whole Version, so a reader sees either the old or the new one.
type Store struct {
	cur atomic.Pointer[Version]
}

// NewStore creates a Store holding an empty snapshot.
func NewStore() *Store {
	s := &Store{}
	s.cur.Store(&Version{Towns: model.Snapshot{}})
	return s
}

// Current returns the published Version. Never nil.
func (s *Store) Current() *Version {
	return s.cur.Load()
}

// Towns returns the published snapshot.
func (s *Store) Towns() model.Snapshot {
	return s.cur.Load().Towns
}

// Lookup returns the record for name.
func (s *Store) Lookup(name string) (model.TownRecord, bool) {
	r, ok := s.cur.Load().Towns[name]
	return r, ok
}

// Replace publishes v and returns the Version it replaced.
func (s *Store) Replace(v *Version) *Version {
	if v.Towns == nil {
		v.Towns = model.Snapshot{}
	}
	return s.cur.Swap(v)
}
