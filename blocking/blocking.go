// Package blocking implements the append-only blocking-state ledger:
// per-entity, per-service overlay records that suppress entitlement access,
// billing, or further changes from an effective date onward.
package blocking

import (
	"errors"
	"time"

	"github.com/tallyhq/tally/id"
	"github.com/tallyhq/tally/types"
)

// ErrOutOfOrder reports an append whose effective date precedes the latest
// already-recorded state for the same (blocked entity, service) pair.
// The ledger never reorders; the caller sees the condition and decides.
var ErrOutOfOrder = errors.New("blocking: state predates the latest state for that service")

// Well-known services and state names written by the entitlement engine.
// External services (payment overdue, fraud review, …) use their own names.
const (
	EntitlementService = "entitlement-service"

	StateStarted   = "ENT_STARTED"
	StateBlocked   = "ENT_BLOCKED"
	StateClear     = "ENT_CLEAR"
	StateCancelled = "ENT_CANCELLED"
)

// State is one append-only blocking-state record. Records are never mutated
// or deleted once observed, with a single exception: undoing a pending
// future-dated cancellation removes the record it created.
// Seq breaks same-day ties and is monotonically increasing per BlockedID.
type State struct {
	types.Entity
	ID               id.BlockingStateID `json:"id"`
	BlockedID        id.AnyID           `json:"blocked_id"` // subscription, bundle or account
	Service          string             `json:"service"`
	StateName        string             `json:"state_name"`
	EffectiveDate    time.Time          `json:"effective_date"`
	BlockEntitlement bool               `json:"block_entitlement"`
	BlockBilling     bool               `json:"block_billing"`
	BlockChanges     bool               `json:"block_changes"`
	Seq              int64              `json:"seq"`
}

// Before reports whether s orders strictly before other by the ledger's
// ordering key (EffectiveDate, Seq).
func (s *State) Before(other *State) bool {
	if !s.EffectiveDate.Equal(other.EffectiveDate) {
		return s.EffectiveDate.Before(other.EffectiveDate)
	}
	return s.Seq < other.Seq
}

// Flags is the combined blocking overlay at an instant: the OR across every
// service's latest state. A service that never reported contributes false.
type Flags struct {
	Entitlement bool `json:"entitlement"`
	Billing     bool `json:"billing"`
	Changes     bool `json:"changes"`
}

// CurrentForService returns the latest record for the service effective at or
// before the given instant, or nil if the service has never reported by then.
// Records must be in ledger order.
func CurrentForService(records []*State, service string, at time.Time) *State {
	var current *State
	for _, r := range records {
		if r.Service != service || r.EffectiveDate.After(at) {
			continue
		}
		if current == nil || current.Before(r) {
			current = r
		}
	}
	return current
}

// FlagsAt computes the combined blocking flags across all services at the
// given instant.
func FlagsAt(records []*State, at time.Time) Flags {
	latest := make(map[string]*State)
	for _, r := range records {
		if r.EffectiveDate.After(at) {
			continue
		}
		if cur, ok := latest[r.Service]; !ok || cur.Before(r) {
			latest[r.Service] = r
		}
	}

	var f Flags
	for _, r := range latest {
		f.Entitlement = f.Entitlement || r.BlockEntitlement
		f.Billing = f.Billing || r.BlockBilling
		f.Changes = f.Changes || r.BlockChanges
	}
	return f
}

// ValidateAppend checks the monotonic-append invariant: the new record's
// effective date must not precede the latest existing record for the same
// (blocked entity, service) pair.
func ValidateAppend(existing []*State, next *State) error {
	for _, r := range existing {
		if r.BlockedID.String() != next.BlockedID.String() || r.Service != next.Service {
			continue
		}
		if next.EffectiveDate.Before(r.EffectiveDate) {
			return ErrOutOfOrder
		}
	}
	return nil
}

// MaxSeq returns the highest sequence number among the records, or zero.
func MaxSeq(records []*State) int64 {
	var maxSeq int64
	for _, r := range records {
		if r.Seq > maxSeq {
			maxSeq = r.Seq
		}
	}
	return maxSeq
}
