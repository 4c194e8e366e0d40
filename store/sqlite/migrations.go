package sqlite

// migration is one named schema step. Steps run in order inside a
// transaction and are recorded in tally_migrations so reruns are no-ops.
type migration struct {
	Name string
	Up   string
}

var migrations = []migration{
	{
		Name: "create_tally_entitlements",
		Up: `
CREATE TABLE IF NOT EXISTS tally_entitlements (
    id           TEXT PRIMARY KEY,
    bundle_id    TEXT NOT NULL DEFAULT '',
    account_id   TEXT NOT NULL DEFAULT '',
    external_key TEXT NOT NULL DEFAULT '',
    start_date   TEXT NOT NULL,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tally_ent_bundle ON tally_entitlements (bundle_id);
CREATE INDEX IF NOT EXISTS idx_tally_ent_account ON tally_entitlements (account_id);
CREATE INDEX IF NOT EXISTS idx_tally_ent_external_key ON tally_entitlements (external_key);
`,
	},
	{
		Name: "create_tally_transitions",
		Up: `
CREATE TABLE IF NOT EXISTS tally_transitions (
    id                     TEXT PRIMARY KEY,
    subscription_id        TEXT NOT NULL,
    bundle_id              TEXT NOT NULL DEFAULT '',
    type                   TEXT NOT NULL,
    effective_date         TEXT NOT NULL,
    requested_date         TEXT NOT NULL,
    seq                    INTEGER NOT NULL DEFAULT 0,
    catalog_effective_date TEXT NOT NULL,
    plan_name              TEXT NOT NULL DEFAULT '',
    base_plan_name         TEXT NOT NULL DEFAULT '',
    phase_name             TEXT NOT NULL DEFAULT '',
    phase_type             TEXT NOT NULL DEFAULT '',
    product_name           TEXT NOT NULL DEFAULT '',
    price_list_name        TEXT NOT NULL DEFAULT '',
    billing_period         TEXT NOT NULL DEFAULT '',
    created_at             TEXT NOT NULL,
    updated_at             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tally_txn_sub ON tally_transitions (subscription_id, effective_date, seq);
`,
	},
	{
		Name: "create_tally_blocking_states",
		Up: `
CREATE TABLE IF NOT EXISTS tally_blocking_states (
    id                TEXT PRIMARY KEY,
    blocked_id        TEXT NOT NULL,
    service           TEXT NOT NULL,
    state_name        TEXT NOT NULL,
    effective_date    TEXT NOT NULL,
    block_entitlement INTEGER NOT NULL DEFAULT 0,
    block_billing     INTEGER NOT NULL DEFAULT 0,
    block_changes     INTEGER NOT NULL DEFAULT 0,
    seq               INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT NOT NULL,
    updated_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tally_bst_blocked ON tally_blocking_states (blocked_id, effective_date, seq);
CREATE INDEX IF NOT EXISTS idx_tally_bst_service ON tally_blocking_states (blocked_id, service);
`,
	},
}
