package storage

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    handle TEXT NOT NULL UNIQUE,
    chat_id TEXT NOT NULL DEFAULT '',
    active BOOLEAN NOT NULL DEFAULT true,
    gas_alert_level TEXT NOT NULL DEFAULT 'cheap',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS wallets (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    address TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE(user_id, address)
);

CREATE TABLE IF NOT EXISTS positions (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    protocol TEXT NOT NULL,
    asset TEXT NOT NULL,
    principal NUMERIC(38,18) NOT NULL,
    apy NUMERIC(12,6) NOT NULL,
    claim_cadence_seconds BIGINT NOT NULL,
    opened_at TIMESTAMPTZ NOT NULL,
    last_claim_at TIMESTAMPTZ NOT NULL,
    calendar_event_id TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE(user_id, protocol, asset, principal, opened_at)
);

CREATE TABLE IF NOT EXISTS watched_contracts (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    address TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE(user_id, address)
);

CREATE TABLE IF NOT EXISTS security_assessments (
    address TEXT PRIMARY KEY,
    verified BOOLEAN NOT NULL,
    outcome TEXT NOT NULL,
    score INT NOT NULL,
    factors TEXT[] NOT NULL DEFAULT '{}',
    checked_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS notification_state (
    user_id BIGINT NOT NULL,
    kind TEXT NOT NULL,
    key TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'notified',
    last_notified_at TIMESTAMPTZ NOT NULL,
    version BIGINT NOT NULL DEFAULT 1,
    PRIMARY KEY (user_id, kind, key)
);

CREATE TABLE IF NOT EXISTS gas_samples (
    id BIGSERIAL PRIMARY KEY,
    chain TEXT NOT NULL,
    fee_gwei NUMERIC(20,9) NOT NULL,
    sampled_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS gas_samples_chain_time_idx ON gas_samples (chain, sampled_at);
CREATE INDEX IF NOT EXISTS positions_user_status_idx ON positions (user_id, status);
`

// Migrate applies the embedded schema. Statements are idempotent so the
// call is safe on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, migrationSQL)
	return err
}
