// Package subscription defines the persisted billing transition records and
// the billing-facing Subscription projection derived from the timeline.
package subscription

import (
	"time"

	"github.com/tallyhq/tally/catalog"
	"github.com/tallyhq/tally/id"
	"github.com/tallyhq/tally/types"
)

// TransitionType is the kind of a billing transition record.
type TransitionType string

const (
	TransitionCreate   TransitionType = "CREATE"
	TransitionTransfer TransitionType = "TRANSFER"
	TransitionMigrate  TransitionType = "MIGRATE"
	TransitionPhase    TransitionType = "PHASE"
	TransitionChange   TransitionType = "CHANGE"
	TransitionCancel   TransitionType = "CANCEL"
)

// Transition is one persisted billing transition. The catalog state fields
// (plan, phase, product, price list, billing period) are captured when the
// transition is recorded, against the catalog snapshot current at record
// time. Plan semantics stay fixed to when the transition happened, not when
// the timeline is later read.
// Seq breaks same-day ties and is monotonically increasing per subscription.
type Transition struct {
	types.Entity
	ID             id.TransitionID   `json:"id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	BundleID       id.BundleID       `json:"bundle_id"`
	Type           TransitionType    `json:"type"`
	EffectiveDate  time.Time         `json:"effective_date"`
	RequestedDate  time.Time         `json:"requested_date"`
	Seq            int64             `json:"seq"`

	// Catalog state as of the transition.
	CatalogEffectiveDate time.Time             `json:"catalog_effective_date"`
	PlanName             string                `json:"plan_name"`
	BasePlanName         string                `json:"base_plan_name,omitempty"` // set when PlanName is an override-synthesized variant
	PhaseName            string                `json:"phase_name"`
	PhaseType            catalog.PhaseType     `json:"phase_type"`
	ProductName          string                `json:"product_name"`
	PriceListName        string                `json:"price_list_name"`
	BillingPeriod        catalog.BillingPeriod `json:"billing_period"`
}

// Before reports whether t orders strictly before other by
// (EffectiveDate, Seq).
func (t *Transition) Before(other *Transition) bool {
	if !t.EffectiveDate.Equal(other.EffectiveDate) {
		return t.EffectiveDate.Before(other.EffectiveDate)
	}
	return t.Seq < other.Seq
}

// MaxSeq returns the highest sequence number among the transitions, or zero.
func MaxSeq(transitions []*Transition) int64 {
	var maxSeq int64
	for _, t := range transitions {
		if t.Seq > maxSeq {
			maxSeq = t.Seq
		}
	}
	return maxSeq
}

// Latest returns the transition with the greatest ordering key at or before
// the given instant, or nil.
func Latest(transitions []*Transition, at time.Time) *Transition {
	var latest *Transition
	for _, t := range transitions {
		if t.EffectiveDate.After(at) {
			continue
		}
		if latest == nil || latest.Before(t) {
			latest = t
		}
	}
	return latest
}

// Subscription is the billing-facing projection of an entitlement: the same
// underlying entity plus billing anchor dates. It is computed from the
// timeline on demand, never persisted on its own.
type Subscription struct {
	ID        id.SubscriptionID `json:"id"`
	BundleID  id.BundleID       `json:"bundle_id"`
	AccountID id.AccountID      `json:"account_id"`

	PlanName      string                `json:"plan_name"`
	PhaseName     string                `json:"phase_name"`
	ProductName   string                `json:"product_name"`
	PriceListName string                `json:"price_list_name"`
	BillingPeriod catalog.BillingPeriod `json:"billing_period"`

	BillingStartDate   time.Time  `json:"billing_start_date"`
	BillingEndDate     *time.Time `json:"billing_end_date,omitempty"`
	ChargedThroughDate time.Time  `json:"charged_through_date"`

	// BillCycleDay is the day of month anchoring recurring billing,
	// derived from the billing start date. Callers clamp it to the last
	// day of shorter months.
	BillCycleDay int `json:"bill_cycle_day"`

	BlockedBilling bool `json:"blocked_billing"`
}

// BCDFromDate derives the bill cycle day from a billing anchor date.
func BCDFromDate(t time.Time) int {
	return t.Day()
}
