package catalog

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// VersionedCatalog holds the ordered list of immutable catalog snapshots and
// answers which snapshot applies at a given date. Snapshot intervals are
// half-open: version Vn applies to [Dn, Dn+1).
//
// Snapshots themselves are immutable; the lock only guards the version slice
// so new versions can be hot-swapped in while readers resolve.
type VersionedCatalog struct {
	mu       sync.RWMutex
	name     string
	versions []*Snapshot // sorted by EffectiveDate ascending
}

// NewVersionedCatalog builds a catalog from the given snapshots. Each
// snapshot must already be finalized. Effective dates must be unique.
func NewVersionedCatalog(snapshots ...*Snapshot) (*VersionedCatalog, error) {
	vc := &VersionedCatalog{}
	for _, s := range snapshots {
		if err := vc.Add(s); err != nil {
			return nil, err
		}
	}
	return vc, nil
}

// Name returns the catalog name (taken from the first added snapshot).
func (vc *VersionedCatalog) Name() string {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.name
}

// Add inserts a snapshot, keeping the version list ordered. A snapshot whose
// effective date collides with an existing version is rejected.
func (vc *VersionedCatalog) Add(s *Snapshot) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	for _, existing := range vc.versions {
		if existing.EffectiveDate.Equal(s.EffectiveDate) {
			return fmt.Errorf("%w: %s", ErrDuplicateVersion, s.EffectiveDate.Format(time.RFC3339))
		}
	}

	vc.versions = append(vc.versions, s)
	sortSnapshots(vc.versions)
	if vc.name == "" {
		vc.name = s.Name
	}
	return nil
}

// ForDate returns the snapshot effective at date d: the version with the
// greatest effective date ≤ d. A date before the earliest version fails with
// ErrNoVersionForDate.
func (vc *VersionedCatalog) ForDate(d time.Time) (*Snapshot, error) {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	if len(vc.versions) == 0 {
		return nil, fmt.Errorf("%w: catalog has no versions", ErrNoVersionForDate)
	}

	// First version with EffectiveDate > d; the one before it applies.
	idx := sort.Search(len(vc.versions), func(i int) bool {
		return vc.versions[i].EffectiveDate.After(d)
	})
	if idx == 0 {
		return nil, fmt.Errorf("%w: %s precedes first version %s", ErrNoVersionForDate,
			d.Format(time.RFC3339), vc.versions[0].EffectiveDate.Format(time.RFC3339))
	}
	return vc.versions[idx-1], nil
}

// Current returns the snapshot effective now.
func (vc *VersionedCatalog) Current() (*Snapshot, error) {
	return vc.ForDate(time.Now())
}

// Versions returns a copy of the ordered version list.
func (vc *VersionedCatalog) Versions() []*Snapshot {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	out := make([]*Snapshot, len(vc.versions))
	copy(out, vc.versions)
	return out
}
