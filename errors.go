package tally

import (
	"errors"
	"fmt"

	"github.com/tallyhq/tally/blocking"
	"github.com/tallyhq/tally/catalog"
)

// Sentinel errors for common failure scenarios. Catalog and blocking-ledger
// conditions are re-exported from their packages so callers can match every
// Tally error from a single import.
var (
	// General errors
	ErrNotFound      = errors.New("tally: not found")
	ErrAlreadyExists = errors.New("tally: already exists")
	ErrInvalidInput  = errors.New("tally: invalid input")

	// Catalog errors
	ErrCatalogNotFoundForDate = catalog.ErrNoVersionForDate
	ErrCatalogDuplicateDate   = catalog.ErrDuplicateVersion
	ErrCatalogInvalid         = catalog.ErrInvalid

	// Plan resolution errors
	ErrNoSuchPlan              = catalog.ErrNoSuchPlan
	ErrPlanNotFound            = catalog.ErrPlanNotFound
	ErrNoSuchProduct           = catalog.ErrNoSuchProduct
	ErrNoSuchPriceList         = catalog.ErrNoSuchPriceList
	ErrNoSuchPhase             = catalog.ErrNoSuchPhase
	ErrPriceOverrideNotAllowed = catalog.ErrPriceOverrideNotAllowed
	ErrNoPriceForCurrency      = catalog.ErrNoPriceForCurrency
	ErrPriceNullForCurrency    = catalog.ErrPriceNullForCurrency
	ErrNoMatchingRule          = catalog.ErrNoMatchingRule

	// Blocking ledger errors
	ErrOutOfOrderBlockingState = blocking.ErrOutOfOrder

	// Entitlement lifecycle errors
	ErrEntitlementNotFound  = errors.New("tally: entitlement not found")
	ErrEntitlementCancelled = errors.New("tally: entitlement is already cancelled")
	ErrUncancelBadState     = errors.New("tally: no pending cancellation to undo")
	ErrInvalidRequestedDate = errors.New("tally: requested date precedes the last recorded transition")
	ErrBlockedChange        = errors.New("tally: changes are blocked for this entity")
	ErrChangePlanIllegal    = errors.New("tally: plan change is declared illegal by catalog rules")

	// Store errors
	ErrStoreNotReady     = errors.New("tally: store not ready")
	ErrStoreClosed       = errors.New("tally: store is closed")
	ErrTransactionFailed = errors.New("tally: transaction failed")
	ErrMigrationFailed   = errors.New("tally: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("tally: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error reports a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNoSuchPlan) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrNoSuchProduct) ||
		errors.Is(err, ErrNoSuchPriceList) ||
		errors.Is(err, ErrNoSuchPhase) ||
		errors.Is(err, ErrEntitlementNotFound)
}

// IsCatalogError returns true if the error originates in catalog lookup,
// plan resolution or rule evaluation.
func IsCatalogError(err error) bool {
	return errors.Is(err, ErrCatalogNotFoundForDate) ||
		errors.Is(err, ErrCatalogInvalid) ||
		errors.Is(err, ErrNoSuchPlan) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrNoSuchProduct) ||
		errors.Is(err, ErrNoSuchPriceList) ||
		errors.Is(err, ErrPriceOverrideNotAllowed) ||
		errors.Is(err, ErrNoPriceForCurrency) ||
		errors.Is(err, ErrPriceNullForCurrency) ||
		errors.Is(err, ErrNoMatchingRule)
}

// IsLifecycleError returns true if the error reports an illegal state
// transition requested by the caller.
func IsLifecycleError(err error) bool {
	return errors.Is(err, ErrEntitlementCancelled) ||
		errors.Is(err, ErrUncancelBadState) ||
		errors.Is(err, ErrInvalidRequestedDate) ||
		errors.Is(err, ErrBlockedChange) ||
		errors.Is(err, ErrOutOfOrderBlockingState) ||
		errors.Is(err, ErrChangePlanIllegal)
}

// IsRetryable returns true if the error is temporary and the operation can be
// retried by the caller. Ordering violations are deliberately not retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed)
}
