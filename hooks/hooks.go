// Package hooks provides an extensible lifecycle-hook system for Tally.
// Hooks can observe entitlement, blocking-state and catalog events to extend
// functionality without coupling the engine to any backend.
package hooks

import (
	"context"
	"time"

	"github.com/tallyhq/tally/blocking"
	"github.com/tallyhq/tally/catalog"
	"github.com/tallyhq/tally/entitlement"
	"github.com/tallyhq/tally/id"
)

// Hook is the base interface that all hooks must implement.
type Hook interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. The engine instance is passed as
// an opaque value to avoid an import cycle.
type OnInit interface {
	Hook
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine is shutting down.
type OnShutdown interface {
	Hook
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Entitlement lifecycle hooks
// ──────────────────────────────────────────────────

// OnEntitlementCreated fires after a new entitlement is created.
type OnEntitlementCreated interface {
	Hook
	OnEntitlementCreated(ctx context.Context, ent *entitlement.Entitlement) error
}

// OnPlanChanged fires after a plan change is recorded.
type OnPlanChanged interface {
	Hook
	OnPlanChanged(ctx context.Context, ent *entitlement.Entitlement, change catalog.PlanChange) error
}

// OnCancelRequested fires after a cancellation is recorded.
type OnCancelRequested interface {
	Hook
	OnCancelRequested(ctx context.Context, subID id.SubscriptionID, effectiveDate time.Time) error
}

// OnUncancelled fires after a pending cancellation is undone.
type OnUncancelled interface {
	Hook
	OnUncancelled(ctx context.Context, subID id.SubscriptionID) error
}

// ──────────────────────────────────────────────────
// Blocking-state hooks
// ──────────────────────────────────────────────────

// OnBlockingStateAdded fires after any blocking-state record is appended.
type OnBlockingStateAdded interface {
	Hook
	OnBlockingStateAdded(ctx context.Context, state *blocking.State) error
}

// OnBundlePaused fires after a bundle-wide pause is recorded.
type OnBundlePaused interface {
	Hook
	OnBundlePaused(ctx context.Context, bundleID id.BundleID, effectiveDate time.Time) error
}

// OnBundleResumed fires after a bundle-wide resume is recorded.
type OnBundleResumed interface {
	Hook
	OnBundleResumed(ctx context.Context, bundleID id.BundleID, effectiveDate time.Time) error
}

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnCatalogReloaded fires after a new catalog version is hot-loaded.
type OnCatalogReloaded interface {
	Hook
	OnCatalogReloaded(ctx context.Context, snap *catalog.Snapshot) error
}
