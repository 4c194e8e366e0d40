// Package memory provides an in-memory Store for tests and single-process
// embedding. All data is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tallyhq/tally"
	"github.com/tallyhq/tally/blocking"
	"github.com/tallyhq/tally/entitlement"
	"github.com/tallyhq/tally/id"
	"github.com/tallyhq/tally/store"
	"github.com/tallyhq/tally/subscription"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store with plain maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	entitlements map[string]*entitlement.Row
	transitions  []*subscription.Transition
	blockings    []*blocking.State
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		entitlements: make(map[string]*entitlement.Row),
	}
}

// Entitlement rows

func (s *Store) CreateEntitlement(_ context.Context, row *entitlement.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entitlements[row.ID.String()]; exists {
		return tally.ErrAlreadyExists
	}
	s.entitlements[row.ID.String()] = row
	return nil
}

func (s *Store) GetEntitlement(_ context.Context, subID id.SubscriptionID) (*entitlement.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if row, ok := s.entitlements[subID.String()]; ok {
		return row, nil
	}
	return nil, tally.ErrEntitlementNotFound
}

func (s *Store) GetEntitlementByExternalKey(_ context.Context, externalKey string) (*entitlement.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.entitlements {
		if row.ExternalKey == externalKey {
			return row, nil
		}
	}
	return nil, tally.ErrEntitlementNotFound
}

func (s *Store) ListEntitlementsByBundle(_ context.Context, bundleID id.BundleID) ([]*entitlement.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*entitlement.Row
	for _, row := range s.entitlements {
		if row.BundleID.String() == bundleID.String() {
			result = append(result, row)
		}
	}
	sortRows(result)
	return result, nil
}

func (s *Store) ListEntitlementsByAccount(_ context.Context, accountID id.AccountID) ([]*entitlement.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*entitlement.Row
	for _, row := range s.entitlements {
		if row.AccountID.String() == accountID.String() {
			result = append(result, row)
		}
	}
	sortRows(result)
	return result, nil
}

// Billing transitions

func (s *Store) AppendTransition(_ context.Context, t *subscription.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions = append(s.transitions, t)
	return nil
}

func (s *Store) ListTransitions(_ context.Context, subID id.SubscriptionID) ([]*subscription.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Transition
	for _, t := range s.transitions {
		if t.SubscriptionID.String() == subID.String() {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Before(result[j]) })
	return result, nil
}

func (s *Store) DeleteTransition(_ context.Context, transitionID id.TransitionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.transitions {
		if t.ID.String() == transitionID.String() {
			s.transitions = append(s.transitions[:i], s.transitions[i+1:]...)
			return nil
		}
	}
	return tally.ErrNotFound
}

// Blocking states

func (s *Store) AppendBlockingState(_ context.Context, st *blocking.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blockings = append(s.blockings, st)
	return nil
}

func (s *Store) ListBlockingStates(_ context.Context, blockedID id.AnyID) ([]*blocking.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*blocking.State
	for _, st := range s.blockings {
		if st.BlockedID.String() == blockedID.String() {
			result = append(result, st)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Before(result[j]) })
	return result, nil
}

func (s *Store) DeleteBlockingState(_ context.Context, stateID id.BlockingStateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, st := range s.blockings {
		if st.ID.String() == stateID.String() {
			s.blockings = append(s.blockings[:i], s.blockings[i+1:]...)
			return nil
		}
	}
	return tally.ErrNotFound
}

// Core methods

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func sortRows(rows []*entitlement.Row) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].StartDate.Before(rows[j].StartDate)
	})
}
