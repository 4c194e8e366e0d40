// Package postgres provides a PostgreSQL-backed Store using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallyhq/tally"
	"github.com/tallyhq/tally/blocking"
	"github.com/tallyhq/tally/catalog"
	"github.com/tallyhq/tally/entitlement"
	"github.com/tallyhq/tally/id"
	tallystore "github.com/tallyhq/tally/store"
	"github.com/tallyhq/tally/subscription"
)

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database at the given URL.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("tally/postgres: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Pool returns the underlying connection pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies any unapplied schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS tally_migrations (name TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return fmt.Errorf("tally/postgres: create migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied int
		if err := s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM tally_migrations WHERE name = $1`, m.Name).Scan(&applied); err != nil {
			return fmt.Errorf("tally/postgres: check migration %s: %w", m.Name, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("tally/postgres: begin migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx, m.Up); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("tally/postgres: apply migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO tally_migrations (name, applied_at) VALUES ($1, $2)`,
			m.Name, time.Now()); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("tally/postgres: record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("tally/postgres: commit migration %s: %w", m.Name, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ==================== Entitlement rows ====================

func (s *Store) CreateEntitlement(ctx context.Context, row *entitlement.Row) error {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO tally_entitlements
    (id, bundle_id, account_id, external_key, start_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`,
		row.ID.String(), row.BundleID.String(), row.AccountID.String(),
		row.ExternalKey, row.StartDate, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("tally/postgres: create entitlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tally.ErrAlreadyExists
	}
	return nil
}

const entitlementColumns = `id, bundle_id, account_id, external_key, start_date, created_at, updated_at`

func (s *Store) GetEntitlement(ctx context.Context, subID id.SubscriptionID) (*entitlement.Row, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM tally_entitlements WHERE id = $1`, subID.String())
	ent, err := scanEntitlement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tally.ErrEntitlementNotFound
	}
	return ent, err
}

func (s *Store) GetEntitlementByExternalKey(ctx context.Context, externalKey string) (*entitlement.Row, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM tally_entitlements WHERE external_key = $1`, externalKey)
	ent, err := scanEntitlement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tally.ErrEntitlementNotFound
	}
	return ent, err
}

func (s *Store) ListEntitlementsByBundle(ctx context.Context, bundleID id.BundleID) ([]*entitlement.Row, error) {
	return s.listEntitlements(ctx,
		`SELECT `+entitlementColumns+` FROM tally_entitlements WHERE bundle_id = $1 ORDER BY start_date ASC`,
		bundleID.String())
}

func (s *Store) ListEntitlementsByAccount(ctx context.Context, accountID id.AccountID) ([]*entitlement.Row, error) {
	return s.listEntitlements(ctx,
		`SELECT `+entitlementColumns+` FROM tally_entitlements WHERE account_id = $1 ORDER BY start_date ASC`,
		accountID.String())
}

func (s *Store) listEntitlements(ctx context.Context, query, arg string) ([]*entitlement.Row, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("tally/postgres: list entitlements: %w", err)
	}
	defer rows.Close()

	var out []*entitlement.Row
	for rows.Next() {
		ent, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

// ==================== Billing transitions ====================

const transitionColumns = `id, subscription_id, bundle_id, type, effective_date, requested_date, seq,
    catalog_effective_date, plan_name, base_plan_name, phase_name, phase_type,
    product_name, price_list_name, billing_period, created_at, updated_at`

func (s *Store) AppendTransition(ctx context.Context, t *subscription.Transition) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO tally_transitions (`+transitionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		t.ID.String(), t.SubscriptionID.String(), t.BundleID.String(), string(t.Type),
		t.EffectiveDate, t.RequestedDate, t.Seq, t.CatalogEffectiveDate,
		t.PlanName, t.BasePlanName, t.PhaseName, string(t.PhaseType),
		t.ProductName, t.PriceListName, string(t.BillingPeriod),
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("tally/postgres: append transition: %w", err)
	}
	return nil
}

func (s *Store) ListTransitions(ctx context.Context, subID id.SubscriptionID) ([]*subscription.Transition, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+transitionColumns+` FROM tally_transitions
WHERE subscription_id = $1 ORDER BY effective_date ASC, seq ASC`, subID.String())
	if err != nil {
		return nil, fmt.Errorf("tally/postgres: list transitions: %w", err)
	}
	defer rows.Close()

	var out []*subscription.Transition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTransition(ctx context.Context, transitionID id.TransitionID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tally_transitions WHERE id = $1`, transitionID.String())
	if err != nil {
		return fmt.Errorf("tally/postgres: delete transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tally.ErrNotFound
	}
	return nil
}

// ==================== Blocking states ====================

const blockingColumns = `id, blocked_id, service, state_name, effective_date,
    block_entitlement, block_billing, block_changes, seq, created_at, updated_at`

func (s *Store) AppendBlockingState(ctx context.Context, st *blocking.State) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO tally_blocking_states (`+blockingColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		st.ID.String(), st.BlockedID.String(), st.Service, st.StateName,
		st.EffectiveDate, st.BlockEntitlement, st.BlockBilling, st.BlockChanges,
		st.Seq, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("tally/postgres: append blocking state: %w", err)
	}
	return nil
}

func (s *Store) ListBlockingStates(ctx context.Context, blockedID id.AnyID) ([]*blocking.State, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+blockingColumns+` FROM tally_blocking_states
WHERE blocked_id = $1 ORDER BY effective_date ASC, seq ASC`, blockedID.String())
	if err != nil {
		return nil, fmt.Errorf("tally/postgres: list blocking states: %w", err)
	}
	defer rows.Close()

	var out []*blocking.State
	for rows.Next() {
		st, err := scanBlockingState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBlockingState(ctx context.Context, stateID id.BlockingStateID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tally_blocking_states WHERE id = $1`, stateID.String())
	if err != nil {
		return fmt.Errorf("tally/postgres: delete blocking state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tally.ErrNotFound
	}
	return nil
}

// ==================== Scanning ====================

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// IDs are scanned as text and re-parsed; pgx has no codec for the TypeID
// wrapper type.

func scanEntitlement(sc scanner) (*entitlement.Row, error) {
	var row entitlement.Row
	var rowID, bundleID, accountID string
	if err := sc.Scan(&rowID, &bundleID, &accountID, &row.ExternalKey,
		&row.StartDate, &row.CreatedAt, &row.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if row.ID, err = id.Parse(rowID); err != nil {
		return nil, err
	}
	if row.BundleID, err = parseOptional(bundleID); err != nil {
		return nil, err
	}
	if row.AccountID, err = parseOptional(accountID); err != nil {
		return nil, err
	}
	return &row, nil
}

func scanTransition(sc scanner) (*subscription.Transition, error) {
	var t subscription.Transition
	var txnID, subID, bundleID string
	var typ, phaseType, period string
	if err := sc.Scan(&txnID, &subID, &bundleID, &typ,
		&t.EffectiveDate, &t.RequestedDate, &t.Seq, &t.CatalogEffectiveDate,
		&t.PlanName, &t.BasePlanName, &t.PhaseName, &phaseType,
		&t.ProductName, &t.PriceListName, &period,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Type = subscription.TransitionType(typ)
	t.PhaseType = catalog.PhaseType(phaseType)
	t.BillingPeriod = catalog.BillingPeriod(period)

	var err error
	if t.ID, err = id.Parse(txnID); err != nil {
		return nil, err
	}
	if t.SubscriptionID, err = id.Parse(subID); err != nil {
		return nil, err
	}
	if t.BundleID, err = parseOptional(bundleID); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanBlockingState(sc scanner) (*blocking.State, error) {
	var st blocking.State
	var stateID, blockedID string
	if err := sc.Scan(&stateID, &blockedID, &st.Service, &st.StateName,
		&st.EffectiveDate, &st.BlockEntitlement, &st.BlockBilling,
		&st.BlockChanges, &st.Seq, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if st.ID, err = id.Parse(stateID); err != nil {
		return nil, err
	}
	if st.BlockedID, err = id.Parse(blockedID); err != nil {
		return nil, err
	}
	return &st, nil
}

func parseOptional(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.Parse(s)
}
