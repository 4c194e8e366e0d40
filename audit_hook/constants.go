package audithook

// Action constants for audit events.
const (
	// Entitlement actions
	ActionEntitlementCreated = "entitlement.created"
	ActionPlanChanged        = "entitlement.plan_changed"
	ActionCancelRequested    = "entitlement.cancel_requested"
	ActionCancellationUndone = "entitlement.cancellation_undone"

	// Blocking-state actions
	ActionBlockingStateAdded = "blocking_state.added"
	ActionBundlePaused       = "bundle.paused"
	ActionBundleResumed      = "bundle.resumed"

	// Catalog actions
	ActionCatalogReloaded = "catalog.reloaded"
)

// Resource constants for audit events.
const (
	ResourceEntitlement   = "entitlement"
	ResourceBundle        = "bundle"
	ResourceBlockingState = "blocking_state"
	ResourceCatalog       = "catalog"
)

// Category constants for audit events.
const (
	CategorySubscription = "subscription"
	CategoryAccess       = "access"
	CategoryCatalog      = "catalog"
)

// Severity levels for audit events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
