// Package tally provides an embeddable subscription lifecycle core for Go
// applications.
//
// Tally is designed as a library, not a service. Import it directly into your
// Go application and it manages the two record systems every subscription
// business ends up building:
//
//   - A versioned product catalog: immutable snapshots of products, plans and
//     price lists selected by effective date, ordered case rules deciding
//     transition policy, and plan resolution with per-phase price overrides
//   - An entitlement timeline: an append-only blocking-state ledger, billing
//     transition records, and a deterministic merged event stream driving a
//     PENDING → ACTIVE ↔ BLOCKED → CANCELLED state machine
//
// # Quick Start
//
// Create an engine with a catalog and your preferred store:
//
//	import (
//	    "github.com/tallyhq/tally"
//	    "github.com/tallyhq/tally/catalog"
//	    "github.com/tallyhq/tally/store/memory"
//	)
//
//	vc, err := catalog.LoadDirectory("catalog/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := tally.New(memory.New(), vc)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop(ctx)
//
// # Core Concepts
//
// Plans are resolved against the catalog snapshot effective at a date, either
// by name or by (product, billing period, price list):
//
//	ent, err := engine.CreateEntitlement(ctx, tally.CreateParams{
//	    AccountID: accountID,
//	    Spec:      catalog.ByName("standard-monthly"),
//	})
//
// Lifecycle operations record transitions; the timeline is recomputed from
// the records on every read:
//
//	ent, err = engine.ChangePlan(ctx, ent.ID, tally.ChangeParams{
//	    Spec: catalog.ByName("premium-monthly"),
//	})
//	ent, err = engine.Cancel(ctx, ent.ID, tally.CancelParams{
//	    Policy: entitlement.PolicyEndOfTerm,
//	})
//	ent, err = engine.Uncancel(ctx, ent.ID)
//
// Any service can overlay blocking state on a subscription, bundle or
// account without touching the subscription records:
//
//	_, err = engine.AddBlockingState(ctx, tally.BlockParams{
//	    BlockedID:        accountID,
//	    Service:          "payment-service",
//	    StateName:        "OVERDUE",
//	    BlockEntitlement: true,
//	})
//
// # Storage
//
// Tally ships store backends for memory, SQLite, Postgres and MongoDB, all
// implementing the store.Store interface. The engine enforces every
// invariant before writes, so stores stay simple ordered-record stores.
//
// # Hooks
//
// Behaviour is extended through hooks registered at construction time; see
// the hooks package for the available interception points, and audit_hook
// and metrics_hook for ready-made implementations.
package tally
