// Package audithook bridges Tally lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on any
// particular audit system. Callers inject a RecorderFunc adapter that bridges
// to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tallyhq/tally/blocking"
	"github.com/tallyhq/tally/catalog"
	"github.com/tallyhq/tally/entitlement"
	"github.com/tallyhq/tally/hooks"
	"github.com/tallyhq/tally/id"
)

// Compile-time interface checks.
var (
	_ hooks.Hook                 = (*Extension)(nil)
	_ hooks.OnEntitlementCreated = (*Extension)(nil)
	_ hooks.OnPlanChanged        = (*Extension)(nil)
	_ hooks.OnCancelRequested    = (*Extension)(nil)
	_ hooks.OnUncancelled        = (*Extension)(nil)
	_ hooks.OnBlockingStateAdded = (*Extension)(nil)
	_ hooks.OnBundlePaused       = (*Extension)(nil)
	_ hooks.OnBundleResumed      = (*Extension)(nil)
	_ hooks.OnCatalogReloaded    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. It is defined
// locally so the package carries no backend dependency — callers inject the
// concrete emitter at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a backend-neutral representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Tally lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements hooks.Hook.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Entitlement lifecycle hooks
// ──────────────────────────────────────────────────

// OnEntitlementCreated implements hooks.OnEntitlementCreated.
func (e *Extension) OnEntitlementCreated(ctx context.Context, ent *entitlement.Entitlement) error {
	return e.record(ctx, ActionEntitlementCreated, SeverityInfo,
		ResourceEntitlement, ent.ID.String(), CategorySubscription,
		"bundle_id", ent.BundleID.String(),
		"account_id", ent.AccountID.String(),
		"plan", ent.PlanName,
		"state", string(ent.State),
	)
}

// OnPlanChanged implements hooks.OnPlanChanged.
func (e *Extension) OnPlanChanged(ctx context.Context, ent *entitlement.Entitlement, change catalog.PlanChange) error {
	return e.record(ctx, ActionPlanChanged, SeverityInfo,
		ResourceEntitlement, ent.ID.String(), CategorySubscription,
		"plan", ent.PlanName,
		"policy", string(change.Policy),
		"change_kind", string(change.Kind),
	)
}

// OnCancelRequested implements hooks.OnCancelRequested.
func (e *Extension) OnCancelRequested(ctx context.Context, subID id.SubscriptionID, effectiveDate time.Time) error {
	return e.record(ctx, ActionCancelRequested, SeverityInfo,
		ResourceEntitlement, subID.String(), CategorySubscription,
		"effective_date", effectiveDate,
	)
}

// OnUncancelled implements hooks.OnUncancelled.
func (e *Extension) OnUncancelled(ctx context.Context, subID id.SubscriptionID) error {
	return e.record(ctx, ActionCancellationUndone, SeverityInfo,
		ResourceEntitlement, subID.String(), CategorySubscription)
}

// ──────────────────────────────────────────────────
// Blocking-state hooks
// ──────────────────────────────────────────────────

// OnBlockingStateAdded implements hooks.OnBlockingStateAdded.
func (e *Extension) OnBlockingStateAdded(ctx context.Context, state *blocking.State) error {
	severity := SeverityInfo
	if state.BlockEntitlement || state.BlockBilling || state.BlockChanges {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionBlockingStateAdded, severity,
		ResourceBlockingState, state.ID.String(), CategoryAccess,
		"blocked_id", state.BlockedID.String(),
		"service", state.Service,
		"state", state.StateName,
		"effective_date", state.EffectiveDate,
	)
}

// OnBundlePaused implements hooks.OnBundlePaused.
func (e *Extension) OnBundlePaused(ctx context.Context, bundleID id.BundleID, effectiveDate time.Time) error {
	return e.record(ctx, ActionBundlePaused, SeverityWarning,
		ResourceBundle, bundleID.String(), CategoryAccess,
		"effective_date", effectiveDate,
	)
}

// OnBundleResumed implements hooks.OnBundleResumed.
func (e *Extension) OnBundleResumed(ctx context.Context, bundleID id.BundleID, effectiveDate time.Time) error {
	return e.record(ctx, ActionBundleResumed, SeverityInfo,
		ResourceBundle, bundleID.String(), CategoryAccess,
		"effective_date", effectiveDate,
	)
}

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnCatalogReloaded implements hooks.OnCatalogReloaded.
func (e *Extension) OnCatalogReloaded(ctx context.Context, snap *catalog.Snapshot) error {
	return e.record(ctx, ActionCatalogReloaded, SeverityInfo,
		ResourceCatalog, snap.Name, CategoryCatalog,
		"effective_date", snap.EffectiveDate,
		"plans", len(snap.Plans),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity string,
	resource, resourceID, category string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    OutcomeSuccess,
		Severity:   severity,
	}

	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", err,
		)
	}
	// Audit failures never fail the originating operation.
	return nil
}
