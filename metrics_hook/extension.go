// Package metricshook provides a Prometheus metrics hook for Tally that
// records lifecycle event counts.
package metricshook

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tallyhq/tally/blocking"
	"github.com/tallyhq/tally/catalog"
	"github.com/tallyhq/tally/entitlement"
	"github.com/tallyhq/tally/hooks"
	"github.com/tallyhq/tally/id"
)

// Ensure Extension implements required interfaces.
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

// Extension records system-wide lifecycle metrics. Register it as a Tally
// hook to automatically track subscription activity.
type Extension struct {
	entitlementsCreated prometheus.Counter
	plansChanged        *prometheus.CounterVec
	cancellations       prometheus.Counter
	uncancellations     prometheus.Counter
	blockingStates      *prometheus.CounterVec
	bundlePauses        prometheus.Counter
	bundleResumes       prometheus.Counter
	catalogReloads      prometheus.Counter
	catalogVersionDate  prometheus.Gauge
}

// New creates an Extension and registers its collectors with reg.
func New(reg prometheus.Registerer) *Extension {
	e := &Extension{
		entitlementsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_entitlements_created_total",
			Help: "Entitlements created.",
		}),
		plansChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_plan_changes_total",
			Help: "Plan changes recorded, by structural change kind.",
		}, []string{"kind"}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_cancellations_total",
			Help: "Cancellations recorded.",
		}),
		uncancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_uncancellations_total",
			Help: "Pending cancellations undone.",
		}),
		blockingStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_blocking_states_total",
			Help: "Blocking-state records appended, by service.",
		}, []string{"service"}),
		bundlePauses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_bundle_pauses_total",
			Help: "Bundle-wide pauses recorded.",
		}),
		bundleResumes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_bundle_resumes_total",
			Help: "Bundle-wide resumes recorded.",
		}),
		catalogReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_catalog_reloads_total",
			Help: "Catalog versions hot-loaded.",
		}),
		catalogVersionDate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tally_catalog_latest_version_timestamp_seconds",
			Help: "Effective date of the most recently loaded catalog version.",
		}),
	}

	reg.MustRegister(
		e.entitlementsCreated,
		e.plansChanged,
		e.cancellations,
		e.uncancellations,
		e.blockingStates,
		e.bundlePauses,
		e.bundleResumes,
		e.catalogReloads,
		e.catalogVersionDate,
	)
	return e
}

// Name implements hooks.Hook.
func (e *Extension) Name() string { return "metrics-hook" }

// OnEntitlementCreated implements hooks.OnEntitlementCreated.
func (e *Extension) OnEntitlementCreated(_ context.Context, _ *entitlement.Entitlement) error {
	e.entitlementsCreated.Inc()
	return nil
}

// OnPlanChanged implements hooks.OnPlanChanged.
func (e *Extension) OnPlanChanged(_ context.Context, _ *entitlement.Entitlement, change catalog.PlanChange) error {
	e.plansChanged.WithLabelValues(string(change.Kind)).Inc()
	return nil
}

// OnCancelRequested implements hooks.OnCancelRequested.
func (e *Extension) OnCancelRequested(_ context.Context, _ id.SubscriptionID, _ time.Time) error {
	e.cancellations.Inc()
	return nil
}

// OnUncancelled implements hooks.OnUncancelled.
func (e *Extension) OnUncancelled(_ context.Context, _ id.SubscriptionID) error {
	e.uncancellations.Inc()
	return nil
}

// OnBlockingStateAdded implements hooks.OnBlockingStateAdded.
func (e *Extension) OnBlockingStateAdded(_ context.Context, state *blocking.State) error {
	e.blockingStates.WithLabelValues(state.Service).Inc()
	return nil
}

// OnBundlePaused implements hooks.OnBundlePaused.
func (e *Extension) OnBundlePaused(_ context.Context, _ id.BundleID, _ time.Time) error {
	e.bundlePauses.Inc()
	return nil
}

// OnBundleResumed implements hooks.OnBundleResumed.
func (e *Extension) OnBundleResumed(_ context.Context, _ id.BundleID, _ time.Time) error {
	e.bundleResumes.Inc()
	return nil
}

// OnCatalogReloaded implements hooks.OnCatalogReloaded.
func (e *Extension) OnCatalogReloaded(_ context.Context, snap *catalog.Snapshot) error {
	e.catalogReloads.Inc()
	e.catalogVersionDate.Set(float64(snap.EffectiveDate.Unix()))
	return nil
}
