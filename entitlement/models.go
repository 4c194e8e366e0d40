// Package entitlement defines the access-facing projection of a subscription
// and its derived lifecycle state machine.
package entitlement

import (
	"fmt"
	"time"

	"github.com/tallyhq/tally/catalog"
	"github.com/tallyhq/tally/id"
	"github.com/tallyhq/tally/subscription"
	"github.com/tallyhq/tally/timeline"
	"github.com/tallyhq/tally/types"
)

// State is the derived lifecycle state of an entitlement. It is computed
// from the timeline at read time, never stored.
//
// PENDING → ACTIVE ↔ BLOCKED → CANCELLED. Blocked and active alternate
// freely; cancelled is terminal once the effective cancellation date passes.
type State string

const (
	StatePending   State = "PENDING"
	StateActive    State = "ACTIVE"
	StateBlocked   State = "BLOCKED"
	StateCancelled State = "CANCELLED"
)

// ActionPolicy is the caller-requested timing of a cancellation or change.
type ActionPolicy string

const (
	// PolicyNone defers timing to catalog rules.
	PolicyNone      ActionPolicy = ""
	PolicyImmediate ActionPolicy = "IMMEDIATE"
	PolicyEndOfTerm ActionPolicy = "END_OF_TERM"
)

// ParseActionPolicy validates an action policy string. The superseded API
// generation spelled these IMM and EOT; those are accepted on parse and
// normalized, never emitted.
func ParseActionPolicy(s string) (ActionPolicy, error) {
	switch s {
	case "":
		return PolicyNone, nil
	case "IMMEDIATE", "IMM":
		return PolicyImmediate, nil
	case "END_OF_TERM", "EOT":
		return PolicyEndOfTerm, nil
	default:
		return PolicyNone, fmt.Errorf("entitlement: unknown action policy %q", s)
	}
}

// Row is the persisted base record of an entitlement. Everything else about
// it (state, plan coordinates, end date) derives from transition and
// blocking records.
type Row struct {
	types.Entity
	ID          id.SubscriptionID `json:"id"`
	BundleID    id.BundleID       `json:"bundle_id"`
	AccountID   id.AccountID      `json:"account_id"`
	ExternalKey string            `json:"external_key"`
	StartDate   time.Time         `json:"start_date"`
}

// Entitlement is the access-facing projection at a point in time.
type Entitlement struct {
	ID          id.SubscriptionID `json:"id"`
	BundleID    id.BundleID       `json:"bundle_id"`
	AccountID   id.AccountID      `json:"account_id"`
	ExternalKey string            `json:"external_key"`

	State     State      `json:"state"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"` // effective cancellation date

	ProductName   string                `json:"product_name"`
	PlanName      string                `json:"plan_name"`
	PhaseName     string                `json:"phase_name"`
	PriceListName string                `json:"price_list_name"`
	BillingPeriod catalog.BillingPeriod `json:"billing_period"`

	BlockedEntitlement bool `json:"blocked_entitlement"`
	BlockedBilling     bool `json:"blocked_billing"`
	BlockedChanges     bool `json:"blocked_changes"`
}

// DeriveState computes the lifecycle state at the given instant.
func DeriveState(startDate time.Time, cancelDate *time.Time, blockedEntitlement bool, at time.Time) State {
	if cancelDate != nil && !at.Before(*cancelDate) {
		return StateCancelled
	}
	if at.Before(startDate) {
		return StatePending
	}
	if blockedEntitlement {
		return StateBlocked
	}
	return StateActive
}

// Project assembles the projection from the base row and its built timeline.
func Project(row *Row, events []timeline.Event, cancelDate *time.Time, at time.Time) *Entitlement {
	e := &Entitlement{
		ID:          row.ID,
		BundleID:    row.BundleID,
		AccountID:   row.AccountID,
		ExternalKey: row.ExternalKey,
		StartDate:   row.StartDate,
		EndDate:     cancelDate,
	}

	if state := timeline.StateAt(events, at); state != nil {
		e.ProductName = state.ProductName
		e.PlanName = state.PlanName
		e.PhaseName = state.PhaseName
		e.PriceListName = state.PriceListName
		e.BillingPeriod = state.BillingPeriod
	}

	flags := timeline.FlagsAtTime(events, at)
	e.BlockedEntitlement = flags.Entitlement
	e.BlockedBilling = flags.Billing
	e.BlockedChanges = flags.Changes

	e.State = DeriveState(row.StartDate, cancelDate, flags.Entitlement, at)
	return e
}

// CancelDate extracts the effective cancellation date from transitions, or
// nil when no cancellation is recorded.
func CancelDate(transitions []*subscription.Transition) *time.Time {
	for _, t := range transitions {
		if t.Type == subscription.TransitionCancel {
			d := t.EffectiveDate
			return &d
		}
	}
	return nil
}
