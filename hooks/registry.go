package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tallyhq/tally/blocking"
	"github.com/tallyhq/tally/catalog"
	"github.com/tallyhq/tally/entitlement"
	"github.com/tallyhq/tally/id"
)

// Registry manages all registered hooks and provides efficient dispatch.
// Hook interfaces are discovered once at registration time so emission is a
// plain slice walk.
type Registry struct {
	mu     sync.RWMutex
	hooks  []Hook
	logger *slog.Logger

	onInit               []OnInit
	onShutdown           []OnShutdown
	onEntitlementCreated []OnEntitlementCreated
	onPlanChanged        []OnPlanChanged
	onCancelRequested    []OnCancelRequested
	onUncancelled        []OnUncancelled
	onBlockingStateAdded []OnBlockingStateAdded
	onBundlePaused       []OnBundlePaused
	onBundleResumed      []OnBundleResumed
	onCatalogReloaded    []OnCatalogReloaded
}

// NewRegistry creates a new hook registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a hook to the registry and caches its interfaces.
func (r *Registry) Register(h Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.hooks {
		if existing.Name() == h.Name() {
			return fmt.Errorf("hooks: duplicate registration: %s", h.Name())
		}
	}

	r.hooks = append(r.hooks, h)

	if v, ok := h.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := h.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := h.(OnEntitlementCreated); ok {
		r.onEntitlementCreated = append(r.onEntitlementCreated, v)
	}
	if v, ok := h.(OnPlanChanged); ok {
		r.onPlanChanged = append(r.onPlanChanged, v)
	}
	if v, ok := h.(OnCancelRequested); ok {
		r.onCancelRequested = append(r.onCancelRequested, v)
	}
	if v, ok := h.(OnUncancelled); ok {
		r.onUncancelled = append(r.onUncancelled, v)
	}
	if v, ok := h.(OnBlockingStateAdded); ok {
		r.onBlockingStateAdded = append(r.onBlockingStateAdded, v)
	}
	if v, ok := h.(OnBundlePaused); ok {
		r.onBundlePaused = append(r.onBundlePaused, v)
	}
	if v, ok := h.(OnBundleResumed); ok {
		r.onBundleResumed = append(r.onBundleResumed, v)
	}
	if v, ok := h.(OnCatalogReloaded); ok {
		r.onCatalogReloaded = append(r.onCatalogReloaded, v)
	}

	return nil
}

// Get returns a hook by name.
func (r *Registry) Get(name string) Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.hooks {
		if h.Name() == name {
			return h
		}
	}
	return nil
}

// List returns all registered hooks.
func (r *Registry) List() []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Hook, len(r.hooks))
	copy(result, r.hooks)
	return result
}

// Count returns the number of registered hooks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all hooks that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	hooks := r.onInit
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("hook OnInit failed", "hook", h.Name(), "error", err)
		}
	}
}

// EmitShutdown calls OnShutdown for all hooks that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	hooks := r.onShutdown
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("hook OnShutdown failed", "hook", h.Name(), "error", err)
		}
	}
}

// EmitEntitlementCreated emits an entitlement created event.
func (r *Registry) EmitEntitlementCreated(ctx context.Context, ent *entitlement.Entitlement) {
	r.mu.RLock()
	hooks := r.onEntitlementCreated
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnEntitlementCreated(ctx, ent)
		}); err != nil {
			r.logger.Warn("hook OnEntitlementCreated failed", "hook", h.Name(), "error", err)
		}
	}
}

// EmitPlanChanged emits a plan changed event.
func (r *Registry) EmitPlanChanged(ctx context.Context, ent *entitlement.Entitlement, change catalog.PlanChange) {
	r.mu.RLock()
	hooks := r.onPlanChanged
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnPlanChanged(ctx, ent, change)
		}); err != nil {
			r.logger.Warn("hook OnPlanChanged failed", "hook", h.Name(), "error", err)
		}
	}
}

// EmitCancelRequested emits a cancellation event.
func (r *Registry) EmitCancelRequested(ctx context.Context, subID id.SubscriptionID, effectiveDate time.Time) {
	r.mu.RLock()
	hooks := r.onCancelRequested
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnCancelRequested(ctx, subID, effectiveDate)
		}); err != nil {
			r.logger.Warn("hook OnCancelRequested failed", "hook", h.Name(), "error", err)
		}
	}
}

// EmitUncancelled emits an uncancel event.
func (r *Registry) EmitUncancelled(ctx context.Context, subID id.SubscriptionID) {
	r.mu.RLock()
	hooks := r.onUncancelled
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnUncancelled(ctx, subID)
		}); err != nil {
			r.logger.Warn("hook OnUncancelled failed", "hook", h.Name(), "error", err)
		}
	}
}

// EmitBlockingStateAdded emits a blocking-state appended event.
func (r *Registry) EmitBlockingStateAdded(ctx context.Context, state *blocking.State) {
	r.mu.RLock()
	hooks := r.onBlockingStateAdded
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnBlockingStateAdded(ctx, state)
		}); err != nil {
			r.logger.Warn("hook OnBlockingStateAdded failed", "hook", h.Name(), "error", err)
		}
	}
}

// EmitBundlePaused emits a bundle paused event.
func (r *Registry) EmitBundlePaused(ctx context.Context, bundleID id.BundleID, effectiveDate time.Time) {
	r.mu.RLock()
	hooks := r.onBundlePaused
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnBundlePaused(ctx, bundleID, effectiveDate)
		}); err != nil {
			r.logger.Warn("hook OnBundlePaused failed", "hook", h.Name(), "error", err)
		}
	}
}

// EmitBundleResumed emits a bundle resumed event.
func (r *Registry) EmitBundleResumed(ctx context.Context, bundleID id.BundleID, effectiveDate time.Time) {
	r.mu.RLock()
	hooks := r.onBundleResumed
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnBundleResumed(ctx, bundleID, effectiveDate)
		}); err != nil {
			r.logger.Warn("hook OnBundleResumed failed", "hook", h.Name(), "error", err)
		}
	}
}

// EmitCatalogReloaded emits a catalog reloaded event.
func (r *Registry) EmitCatalogReloaded(ctx context.Context, snap *catalog.Snapshot) {
	r.mu.RLock()
	hooks := r.onCatalogReloaded
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnCatalogReloaded(ctx, snap)
		}); err != nil {
			r.logger.Warn("hook OnCatalogReloaded failed", "hook", h.Name(), "error", err)
		}
	}
}

// callWithTimeout calls a hook function with a timeout.
// Hooks should never block the transition pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, hookName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("hook timeout: %s", hookName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
