package repository

// Schema definitions for the ClickShield database.
// Compatible with both SQLite and PostgreSQL.

const schemaClickEvents = `
CREATE TABLE IF NOT EXISTS click_events (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    ip TEXT NOT NULL,
    device_type TEXT NOT NULL DEFAULT '',
    country_code TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    campaign_id TEXT NOT NULL DEFAULT '',
    cost_micros BIGINT NOT NULL DEFAULT 0,
    is_vpn INTEGER NOT NULL DEFAULT 0,
    is_hosting INTEGER NOT NULL DEFAULT 0,
    fraud_label INTEGER,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_clicks_account ON click_events(account_id);
CREATE INDEX IF NOT EXISTS idx_clicks_account_ip ON click_events(account_id, ip, timestamp);
CREATE INDEX IF NOT EXISTS idx_clicks_timestamp ON click_events(account_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_clicks_labeled ON click_events(account_id, fraud_label);
`

const schemaIPEnrichments = `
CREATE TABLE IF NOT EXISTS ip_enrichments (
    ip TEXT PRIMARY KEY,
    country TEXT NOT NULL DEFAULT 'Unknown',
    country_code TEXT NOT NULL DEFAULT '',
    region TEXT NOT NULL DEFAULT 'Unknown',
    city TEXT NOT NULL DEFAULT 'Unknown',
    latitude REAL NOT NULL DEFAULT 0,
    longitude REAL NOT NULL DEFAULT 0,
    isp TEXT NOT NULL DEFAULT '',
    organization TEXT NOT NULL DEFAULT '',
    asn TEXT NOT NULL DEFAULT '',
    is_vpn INTEGER NOT NULL DEFAULT 0,
    is_proxy INTEGER NOT NULL DEFAULT 0,
    is_hosting INTEGER NOT NULL DEFAULT 0,
    is_tor INTEGER NOT NULL DEFAULT 0,
    risk_score INTEGER NOT NULL DEFAULT 0,
    risk_level TEXT NOT NULL DEFAULT 'safe',
    enriched_at TIMESTAMP NOT NULL
);
`

const schemaScoringModels = `
CREATE TABLE IF NOT EXISTS scoring_models (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    weights TEXT NOT NULL,
    threshold REAL NOT NULL DEFAULT 0.5,
    status TEXT NOT NULL DEFAULT 'active',
    trained_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_models_account ON scoring_models(account_id, status);
`

const schemaScores = `
CREATE TABLE IF NOT EXISTS scores (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    click_id TEXT NOT NULL,
    ip TEXT NOT NULL,
    is_fraud INTEGER NOT NULL,
    fraud_probability REAL NOT NULL,
    confidence REAL NOT NULL,
    model_used TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scores_account ON scores(account_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_scores_fraud ON scores(account_id, is_fraud, timestamp);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    click_id TEXT NOT NULL,
    ip TEXT NOT NULL,
    score REAL NOT NULL,
    pattern TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_account ON alerts(account_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts(account_id, active);
`

const schemaAlertConditions = `
CREATE TABLE IF NOT EXISTS alert_conditions (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL UNIQUE,
    expression TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaClickEvents,
		schemaIPEnrichments,
		schemaScoringModels,
		schemaScores,
		schemaAlerts,
		schemaAlertConditions,
	}
}
