// Package store defines the unified persistence interface for Tally records.
// Stores are dumb ordered-record stores; every invariant (monotonic blocking
// appends, lifecycle legality) is enforced by the engine before writes.
package store

import (
	"context"

	"github.com/tallyhq/tally/blocking"
	"github.com/tallyhq/tally/entitlement"
	"github.com/tallyhq/tally/id"
	"github.com/tallyhq/tally/subscription"
)

// Store is the unified storage interface for all Tally records.
// List methods return records ordered by (EffectiveDate, Seq) ascending.
type Store interface {
	// Entitlement base rows
	CreateEntitlement(ctx context.Context, row *entitlement.Row) error
	GetEntitlement(ctx context.Context, subID id.SubscriptionID) (*entitlement.Row, error)
	GetEntitlementByExternalKey(ctx context.Context, externalKey string) (*entitlement.Row, error)
	ListEntitlementsByBundle(ctx context.Context, bundleID id.BundleID) ([]*entitlement.Row, error)
	ListEntitlementsByAccount(ctx context.Context, accountID id.AccountID) ([]*entitlement.Row, error)

	// Billing transitions
	AppendTransition(ctx context.Context, t *subscription.Transition) error
	ListTransitions(ctx context.Context, subID id.SubscriptionID) ([]*subscription.Transition, error)
	DeleteTransition(ctx context.Context, transitionID id.TransitionID) error

	// Blocking states
	AppendBlockingState(ctx context.Context, s *blocking.State) error
	ListBlockingStates(ctx context.Context, blockedID id.AnyID) ([]*blocking.State, error)
	DeleteBlockingState(ctx context.Context, stateID id.BlockingStateID) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
