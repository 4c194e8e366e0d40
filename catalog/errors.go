package catalog

import "errors"

// Sentinel errors surfaced by catalog lookup, plan resolution and rule
// evaluation. The root tally package re-exports these so callers can match
// everything from a single import.
var (
	// Version store
	ErrNoVersionForDate = errors.New("catalog: no version effective for date")
	ErrDuplicateVersion = errors.New("catalog: version with same effective date already exists")
	ErrInvalid          = errors.New("catalog: validation failed")

	// Plan resolution
	ErrNoSuchPlan              = errors.New("catalog: no plan with that name")
	ErrPlanNotFound            = errors.New("catalog: no plan matches product, billing period and price list")
	ErrNoSuchProduct           = errors.New("catalog: no product with that name")
	ErrNoSuchPriceList         = errors.New("catalog: no price list with that name")
	ErrNoSuchPhase             = errors.New("catalog: no phase with that name or type")
	ErrPriceOverrideNotAllowed = errors.New("catalog: plan does not allow price overrides")

	// Price lookup. A currency with no entry at all is distinct from a
	// currency explicitly listed with a null price.
	ErrNoPriceForCurrency   = errors.New("catalog: no price defined for currency")
	ErrPriceNullForCurrency = errors.New("catalog: price explicitly unavailable for currency")

	// Rule evaluation
	ErrNoMatchingRule = errors.New("catalog: no rule matches the request")
)
