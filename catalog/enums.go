package catalog

import (
	"fmt"
	"time"
)

// BillingPeriod is the recurring billing cadence of a plan.
// The empty value acts as a wildcard in rule predicates; plans that never
// recur carry the explicit NoBillingPeriod value instead.
type BillingPeriod string

const (
	BillingPeriodUnspecified BillingPeriod = ""
	BillingDaily             BillingPeriod = "DAILY"
	BillingWeekly            BillingPeriod = "WEEKLY"
	BillingMonthly           BillingPeriod = "MONTHLY"
	BillingQuarterly         BillingPeriod = "QUARTERLY"
	BillingBiannual          BillingPeriod = "BIANNUAL"
	BillingAnnual            BillingPeriod = "ANNUAL"
	NoBillingPeriod          BillingPeriod = "NO_BILLING_PERIOD"
)

var billingPeriods = map[BillingPeriod]bool{
	BillingDaily:     true,
	BillingWeekly:    true,
	BillingMonthly:   true,
	BillingQuarterly: true,
	BillingBiannual:  true,
	BillingAnnual:    true,
	NoBillingPeriod:  true,
}

// ParseBillingPeriod validates a billing period string.
func ParseBillingPeriod(s string) (BillingPeriod, error) {
	p := BillingPeriod(s)
	if !billingPeriods[p] {
		return BillingPeriodUnspecified, fmt.Errorf("catalog: unknown billing period %q", s)
	}
	return p, nil
}

// AddTo advances t by one billing period. NoBillingPeriod returns t unchanged.
func (p BillingPeriod) AddTo(t time.Time) time.Time {
	switch p {
	case BillingDaily:
		return t.AddDate(0, 0, 1)
	case BillingWeekly:
		return t.AddDate(0, 0, 7)
	case BillingMonthly:
		return t.AddDate(0, 1, 0)
	case BillingQuarterly:
		return t.AddDate(0, 3, 0)
	case BillingBiannual:
		return t.AddDate(0, 6, 0)
	case BillingAnnual:
		return t.AddDate(1, 0, 0)
	default:
		return t
	}
}

// PhaseType identifies the lifecycle phase of a plan.
// The empty value acts as a wildcard in rule predicates and specifiers.
type PhaseType string

const (
	PhaseTypeUnspecified PhaseType = ""
	PhaseTrial           PhaseType = "TRIAL"
	PhaseDiscount        PhaseType = "DISCOUNT"
	PhaseFixedTerm       PhaseType = "FIXEDTERM"
	PhaseEvergreen       PhaseType = "EVERGREEN"
)

// phaseOrder is the mandatory ordering of phases within a plan.
var phaseOrder = map[PhaseType]int{
	PhaseTrial:     0,
	PhaseDiscount:  1,
	PhaseFixedTerm: 2,
	PhaseEvergreen: 3,
}

// ParsePhaseType validates a phase type string.
func ParsePhaseType(s string) (PhaseType, error) {
	p := PhaseType(s)
	if _, ok := phaseOrder[p]; !ok {
		return PhaseTypeUnspecified, fmt.Errorf("catalog: unknown phase type %q", s)
	}
	return p, nil
}

// ProductCategory classifies a product.
type ProductCategory string

const (
	ProductBase       ProductCategory = "BASE"
	ProductAddOn      ProductCategory = "ADD_ON"
	ProductStandalone ProductCategory = "STANDALONE"
)

// ParseProductCategory validates a product category string.
func ParseProductCategory(s string) (ProductCategory, error) {
	switch c := ProductCategory(s); c {
	case ProductBase, ProductAddOn, ProductStandalone:
		return c, nil
	default:
		return "", fmt.Errorf("catalog: unknown product category %q", s)
	}
}

// TimeUnit is the unit of a phase duration.
type TimeUnit string

const (
	UnitDays      TimeUnit = "DAYS"
	UnitWeeks     TimeUnit = "WEEKS"
	UnitMonths    TimeUnit = "MONTHS"
	UnitYears     TimeUnit = "YEARS"
	UnitUnlimited TimeUnit = "UNLIMITED"
)

// ParseTimeUnit validates a time unit string.
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch u := TimeUnit(s); u {
	case UnitDays, UnitWeeks, UnitMonths, UnitYears, UnitUnlimited:
		return u, nil
	default:
		return "", fmt.Errorf("catalog: unknown time unit %q", s)
	}
}

// ActionPolicy decides when a requested transition takes effect.
type ActionPolicy string

const (
	ActionPolicyUnspecified ActionPolicy = ""
	ActionStartOfTerm       ActionPolicy = "START_OF_TERM"
	ActionEndOfTerm         ActionPolicy = "END_OF_TERM"
	ActionImmediate         ActionPolicy = "IMMEDIATE"
	ActionIllegal           ActionPolicy = "ILLEGAL"
)

// ParseActionPolicy validates an action policy string.
func ParseActionPolicy(s string) (ActionPolicy, error) {
	switch p := ActionPolicy(s); p {
	case ActionStartOfTerm, ActionEndOfTerm, ActionImmediate, ActionIllegal:
		return p, nil
	default:
		return ActionPolicyUnspecified, fmt.Errorf("catalog: unknown action policy %q", s)
	}
}

// PlanAlignment decides which date new plan phases align to on creation.
type PlanAlignment string

const (
	AlignStartOfBundle       PlanAlignment = "START_OF_BUNDLE"
	AlignStartOfSubscription PlanAlignment = "START_OF_SUBSCRIPTION"
)

// ParsePlanAlignment validates a plan alignment string.
func ParsePlanAlignment(s string) (PlanAlignment, error) {
	switch a := PlanAlignment(s); a {
	case AlignStartOfBundle, AlignStartOfSubscription:
		return a, nil
	default:
		return "", fmt.Errorf("catalog: unknown plan alignment %q", s)
	}
}

// BillingAlignment decides which entity the bill cycle day anchors to.
type BillingAlignment string

const (
	BillingAlignAccount      BillingAlignment = "ACCOUNT"
	BillingAlignBundle       BillingAlignment = "BUNDLE"
	BillingAlignSubscription BillingAlignment = "SUBSCRIPTION"
)

// ParseBillingAlignment validates a billing alignment string.
func ParseBillingAlignment(s string) (BillingAlignment, error) {
	switch a := BillingAlignment(s); a {
	case BillingAlignAccount, BillingAlignBundle, BillingAlignSubscription:
		return a, nil
	default:
		return "", fmt.Errorf("catalog: unknown billing alignment %q", s)
	}
}

// ChangeKind classifies the structural shape of a plan change. Callers use it
// to decide whether a change defaults to immediate or deferred.
type ChangeKind string

const (
	ChangeSameProductSamePeriod           ChangeKind = "SAME_PRODUCT_SAME_PERIOD"
	ChangeSameProductDifferentPeriod      ChangeKind = "SAME_PRODUCT_DIFFERENT_PERIOD"
	ChangeDifferentProductSamePeriod      ChangeKind = "DIFFERENT_PRODUCT_SAME_PERIOD"
	ChangeDifferentProductDifferentPeriod ChangeKind = "DIFFERENT_PRODUCT_DIFFERENT_PERIOD"
)
