// Package sqlite provides a SQLite-backed Store using the pure-Go
// modernc.org/sqlite driver, suitable for single-node embedding without cgo.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

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

// Store implements store.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tally/sqlite: open %s: %w", path, err)
	}
	// SQLite handles one writer at a time; a larger pool only produces
	// SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies any unapplied schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS tally_migrations (name TEXT PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("tally/sqlite: create migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tally_migrations WHERE name = ?`, m.Name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("tally/sqlite: check migration %s: %w", m.Name, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("tally/sqlite: begin migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("tally/sqlite: apply migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tally_migrations (name, applied_at) VALUES (?, ?)`,
			m.Name, fmtTime(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("tally/sqlite: record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("tally/sqlite: commit migration %s: %w", m.Name, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// ==================== Entitlement rows ====================

func (s *Store) CreateEntitlement(ctx context.Context, row *entitlement.Row) error {
	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO tally_entitlements
    (id, bundle_id, account_id, external_key, start_date, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.BundleID, row.AccountID, row.ExternalKey,
		fmtTime(row.StartDate), fmtTime(row.CreatedAt), fmtTime(row.UpdatedAt))
	if err != nil {
		return fmt.Errorf("tally/sqlite: create entitlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tally.ErrAlreadyExists
	}
	return nil
}

const entitlementColumns = `id, bundle_id, account_id, external_key, start_date, created_at, updated_at`

func (s *Store) GetEntitlement(ctx context.Context, subID id.SubscriptionID) (*entitlement.Row, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM tally_entitlements WHERE id = ?`, subID)
	ent, err := scanEntitlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tally.ErrEntitlementNotFound
	}
	return ent, err
}

func (s *Store) GetEntitlementByExternalKey(ctx context.Context, externalKey string) (*entitlement.Row, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM tally_entitlements WHERE external_key = ?`, externalKey)
	ent, err := scanEntitlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tally.ErrEntitlementNotFound
	}
	return ent, err
}

func (s *Store) ListEntitlementsByBundle(ctx context.Context, bundleID id.BundleID) ([]*entitlement.Row, error) {
	return s.listEntitlements(ctx,
		`SELECT `+entitlementColumns+` FROM tally_entitlements WHERE bundle_id = ? ORDER BY start_date ASC`, bundleID)
}

func (s *Store) ListEntitlementsByAccount(ctx context.Context, accountID id.AccountID) ([]*entitlement.Row, error) {
	return s.listEntitlements(ctx,
		`SELECT `+entitlementColumns+` FROM tally_entitlements WHERE account_id = ? ORDER BY start_date ASC`, accountID)
}

func (s *Store) listEntitlements(ctx context.Context, query string, arg any) ([]*entitlement.Row, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("tally/sqlite: list entitlements: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

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
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tally_transitions (`+transitionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SubscriptionID, t.BundleID, string(t.Type),
		fmtTime(t.EffectiveDate), fmtTime(t.RequestedDate), t.Seq,
		fmtTime(t.CatalogEffectiveDate), t.PlanName, t.BasePlanName,
		t.PhaseName, string(t.PhaseType), t.ProductName, t.PriceListName,
		string(t.BillingPeriod), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("tally/sqlite: append transition: %w", err)
	}
	return nil
}

func (s *Store) ListTransitions(ctx context.Context, subID id.SubscriptionID) ([]*subscription.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+transitionColumns+` FROM tally_transitions
WHERE subscription_id = ? ORDER BY effective_date ASC, seq ASC`, subID)
	if err != nil {
		return nil, fmt.Errorf("tally/sqlite: list transitions: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

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
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tally_transitions WHERE id = ?`, transitionID)
	if err != nil {
		return fmt.Errorf("tally/sqlite: delete transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tally.ErrNotFound
	}
	return nil
}

// ==================== Blocking states ====================

const blockingColumns = `id, blocked_id, service, state_name, effective_date,
    block_entitlement, block_billing, block_changes, seq, created_at, updated_at`

func (s *Store) AppendBlockingState(ctx context.Context, st *blocking.State) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tally_blocking_states (`+blockingColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.BlockedID, st.Service, st.StateName, fmtTime(st.EffectiveDate),
		st.BlockEntitlement, st.BlockBilling, st.BlockChanges, st.Seq,
		fmtTime(st.CreatedAt), fmtTime(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("tally/sqlite: append blocking state: %w", err)
	}
	return nil
}

func (s *Store) ListBlockingStates(ctx context.Context, blockedID id.AnyID) ([]*blocking.State, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+blockingColumns+` FROM tally_blocking_states
WHERE blocked_id = ? ORDER BY effective_date ASC, seq ASC`, blockedID)
	if err != nil {
		return nil, fmt.Errorf("tally/sqlite: list blocking states: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

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
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tally_blocking_states WHERE id = ?`, stateID)
	if err != nil {
		return fmt.Errorf("tally/sqlite: delete blocking state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tally.ErrNotFound
	}
	return nil
}

// ==================== Scanning ====================

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(sc scanner) (*entitlement.Row, error) {
	var row entitlement.Row
	var start, created, updated string
	if err := sc.Scan(&row.ID, &row.BundleID, &row.AccountID, &row.ExternalKey,
		&start, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if row.StartDate, err = parseTime(start); err != nil {
		return nil, err
	}
	if row.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if row.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &row, nil
}

func scanTransition(sc scanner) (*subscription.Transition, error) {
	var t subscription.Transition
	var typ, phaseType, period string
	var effective, requested, catalogDate string
	var created, updated string
	if err := sc.Scan(&t.ID, &t.SubscriptionID, &t.BundleID, &typ,
		&effective, &requested, &t.Seq, &catalogDate,
		&t.PlanName, &t.BasePlanName, &t.PhaseName, &phaseType,
		&t.ProductName, &t.PriceListName, &period, &created, &updated); err != nil {
		return nil, err
	}
	t.Type = subscription.TransitionType(typ)
	t.PhaseType = catalog.PhaseType(phaseType)
	t.BillingPeriod = catalog.BillingPeriod(period)

	var err error
	if t.EffectiveDate, err = parseTime(effective); err != nil {
		return nil, err
	}
	if t.RequestedDate, err = parseTime(requested); err != nil {
		return nil, err
	}
	if t.CatalogEffectiveDate, err = parseTime(catalogDate); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanBlockingState(sc scanner) (*blocking.State, error) {
	var st blocking.State
	var effective, created, updated string
	if err := sc.Scan(&st.ID, &st.BlockedID, &st.Service, &st.StateName, &effective,
		&st.BlockEntitlement, &st.BlockBilling, &st.BlockChanges, &st.Seq,
		&created, &updated); err != nil {
		return nil, err
	}
	var err error
	if st.EffectiveDate, err = parseTime(effective); err != nil {
		return nil, err
	}
	if st.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &st, nil
}

// Timestamps are stored as fixed-width UTC RFC 3339 text so lexical ORDER BY
// matches chronological order. RFC3339Nano is unsuitable: it strips trailing
// zeros, breaking lexical comparison of fractional seconds.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
