package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    address TEXT PRIMARY KEY,
    label TEXT,
    risk_score REAL NOT NULL DEFAULT 0,
    first_seen TIMESTAMP NOT NULL,
    last_seen TIMESTAMP
);
`

const schemaAssets = `
CREATE TABLE IF NOT EXISTS assets (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL,
    issuer TEXT
);
`

const schemaTransfers = `
CREATE TABLE IF NOT EXISTS transfers (
    op_id TEXT PRIMARY KEY,
    tx_hash TEXT NOT NULL,
    ledger INTEGER NOT NULL DEFAULT 0,
    from_account TEXT NOT NULL,
    to_account TEXT NOT NULL,
    asset TEXT NOT NULL DEFAULT '',
    amount NUMERIC NOT NULL,
    created_at TIMESTAMP NOT NULL,
    successful INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_transfers_from ON transfers(from_account, created_at);
CREATE INDEX IF NOT EXISTS idx_transfers_to ON transfers(to_account, created_at);
CREATE INDEX IF NOT EXISTS idx_transfers_tx ON transfers(tx_hash);
`

const schemaHoldings = `
CREATE TABLE IF NOT EXISTS holdings (
    account TEXT NOT NULL,
    asset TEXT NOT NULL,
    balance NUMERIC NOT NULL,
    snapshot_at TIMESTAMP NOT NULL,
    PRIMARY KEY (account, asset)
);

CREATE INDEX IF NOT EXISTS idx_holdings_asset ON holdings(asset);
`

const schemaWatchlists = `
CREATE TABLE IF NOT EXISTS watchlists (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT
);

CREATE TABLE IF NOT EXISTS watchlist_members (
    watchlist_id TEXT NOT NULL,
    account TEXT NOT NULL,
    reason TEXT,
    added_at TIMESTAMP NOT NULL,
    PRIMARY KEY (watchlist_id, account)
);

CREATE INDEX IF NOT EXISTS idx_watchlist_members_account ON watchlist_members(account);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    account TEXT NOT NULL DEFAULT '',
    asset TEXT NOT NULL DEFAULT '',
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    dedup_key TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    acknowledged_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts(dedup_key, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_account ON alerts(account);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
`

const schemaFlags = `
CREATE TABLE IF NOT EXISTS flags (
    id TEXT PRIMARY KEY,
    account TEXT NOT NULL,
    flag_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    reason TEXT,
    dedup_key TEXT NOT NULL,
    evidence TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_flags_dedup ON flags(dedup_key, created_at);
CREATE INDEX IF NOT EXISTS idx_flags_account ON flags(account);
`

const schemaIngestionState = `
CREATE TABLE IF NOT EXISTS ingestion_state (
    stream TEXT PRIMARY KEY,
    cursor TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAccounts,
		schemaAssets,
		schemaTransfers,
		schemaHoldings,
		schemaWatchlists,
		schemaAlerts,
		schemaFlags,
		schemaIngestionState,
	}
}
