// Package mongo provides a MongoDB-backed Store using the official driver.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/tallyhq/tally"
	"github.com/tallyhq/tally/blocking"
	"github.com/tallyhq/tally/entitlement"
	"github.com/tallyhq/tally/id"
	tallystore "github.com/tallyhq/tally/store"
	"github.com/tallyhq/tally/subscription"
)

// Collection name constants.
const (
	colEntitlements   = "tally_entitlements"
	colTransitions    = "tally_transitions"
	colBlockingStates = "tally_blocking_states"
)

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store on MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to MongoDB and selects the given database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("tally/mongo: ping: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// New wraps an existing database handle.
func New(db *mongo.Database) *Store {
	return &Store{client: db.Client(), db: db}
}

// Database returns the underlying database handle for direct access.
func (s *Store) Database() *mongo.Database { return s.db }

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colEntitlements: {
			{Keys: bson.D{{Key: "bundle_id", Value: 1}}},
			{Keys: bson.D{{Key: "account_id", Value: 1}}},
			{Keys: bson.D{{Key: "external_key", Value: 1}}},
		},
		colTransitions: {
			{Keys: bson.D{
				{Key: "subscription_id", Value: 1},
				{Key: "effective_date", Value: 1},
				{Key: "seq", Value: 1},
			}},
		},
		colBlockingStates: {
			{Keys: bson.D{
				{Key: "blocked_id", Value: 1},
				{Key: "effective_date", Value: 1},
				{Key: "seq", Value: 1},
			}},
			{Keys: bson.D{
				{Key: "blocked_id", Value: 1},
				{Key: "service", Value: 1},
			}},
		},
	}

	for col, models := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("tally/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// ==================== Entitlement rows ====================

func (s *Store) CreateEntitlement(ctx context.Context, row *entitlement.Row) error {
	_, err := s.db.Collection(colEntitlements).InsertOne(ctx, toEntitlementModel(row))
	if mongo.IsDuplicateKeyError(err) {
		return tally.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("tally/mongo: create entitlement: %w", err)
	}
	return nil
}

func (s *Store) GetEntitlement(ctx context.Context, subID id.SubscriptionID) (*entitlement.Row, error) {
	return s.getEntitlement(ctx, bson.M{"_id": subID.String()})
}

func (s *Store) GetEntitlementByExternalKey(ctx context.Context, externalKey string) (*entitlement.Row, error) {
	return s.getEntitlement(ctx, bson.M{"external_key": externalKey})
}

func (s *Store) getEntitlement(ctx context.Context, filter bson.M) (*entitlement.Row, error) {
	var m entitlementModel
	err := s.db.Collection(colEntitlements).FindOne(ctx, filter).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, tally.ErrEntitlementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: get entitlement: %w", err)
	}
	return fromEntitlementModel(&m)
}

func (s *Store) ListEntitlementsByBundle(ctx context.Context, bundleID id.BundleID) ([]*entitlement.Row, error) {
	return s.listEntitlements(ctx, bson.M{"bundle_id": bundleID.String()})
}

func (s *Store) ListEntitlementsByAccount(ctx context.Context, accountID id.AccountID) ([]*entitlement.Row, error) {
	return s.listEntitlements(ctx, bson.M{"account_id": accountID.String()})
}

func (s *Store) listEntitlements(ctx context.Context, filter bson.M) ([]*entitlement.Row, error) {
	cur, err := s.db.Collection(colEntitlements).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "start_date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list entitlements: %w", err)
	}
	defer cur.Close(ctx) //nolint:errcheck // read-only cursor

	var out []*entitlement.Row
	for cur.Next(ctx) {
		var m entitlementModel
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		row, err := fromEntitlementModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, cur.Err()
}

// ==================== Billing transitions ====================

func (s *Store) AppendTransition(ctx context.Context, t *subscription.Transition) error {
	_, err := s.db.Collection(colTransitions).InsertOne(ctx, toTransitionModel(t))
	if err != nil {
		return fmt.Errorf("tally/mongo: append transition: %w", err)
	}
	return nil
}

func (s *Store) ListTransitions(ctx context.Context, subID id.SubscriptionID) ([]*subscription.Transition, error) {
	cur, err := s.db.Collection(colTransitions).Find(ctx,
		bson.M{"subscription_id": subID.String()},
		options.Find().SetSort(bson.D{
			{Key: "effective_date", Value: 1},
			{Key: "seq", Value: 1},
		}))
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list transitions: %w", err)
	}
	defer cur.Close(ctx) //nolint:errcheck // read-only cursor

	var out []*subscription.Transition
	for cur.Next(ctx) {
		var m transitionModel
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		t, err := fromTransitionModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, cur.Err()
}

func (s *Store) DeleteTransition(ctx context.Context, transitionID id.TransitionID) error {
	res, err := s.db.Collection(colTransitions).DeleteOne(ctx, bson.M{"_id": transitionID.String()})
	if err != nil {
		return fmt.Errorf("tally/mongo: delete transition: %w", err)
	}
	if res.DeletedCount == 0 {
		return tally.ErrNotFound
	}
	return nil
}

// ==================== Blocking states ====================

func (s *Store) AppendBlockingState(ctx context.Context, st *blocking.State) error {
	_, err := s.db.Collection(colBlockingStates).InsertOne(ctx, toBlockingStateModel(st))
	if err != nil {
		return fmt.Errorf("tally/mongo: append blocking state: %w", err)
	}
	return nil
}

func (s *Store) ListBlockingStates(ctx context.Context, blockedID id.AnyID) ([]*blocking.State, error) {
	cur, err := s.db.Collection(colBlockingStates).Find(ctx,
		bson.M{"blocked_id": blockedID.String()},
		options.Find().SetSort(bson.D{
			{Key: "effective_date", Value: 1},
			{Key: "seq", Value: 1},
		}))
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list blocking states: %w", err)
	}
	defer cur.Close(ctx) //nolint:errcheck // read-only cursor

	var out []*blocking.State
	for cur.Next(ctx) {
		var m blockingStateModel
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		st, err := fromBlockingStateModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, cur.Err()
}

func (s *Store) DeleteBlockingState(ctx context.Context, stateID id.BlockingStateID) error {
	res, err := s.db.Collection(colBlockingStates).DeleteOne(ctx, bson.M{"_id": stateID.String()})
	if err != nil {
		return fmt.Errorf("tally/mongo: delete blocking state: %w", err)
	}
	if res.DeletedCount == 0 {
		return tally.ErrNotFound
	}
	return nil
}
