package store

import (
	"context"
	"fmt"
)

// schema creates the daemon's tables. Statements are idempotent so the
// daemon can run them on every start.
const schema = `
CREATE TABLE IF NOT EXISTS source_settings (
    source_id        TEXT PRIMARY KEY,
    api_key          TEXT NOT NULL DEFAULT '',
    api_secret       TEXT NOT NULL DEFAULT '',
    api_url          TEXT NOT NULL DEFAULT '',
    refresh_interval BIGINT,
    connection_mode  TEXT NOT NULL DEFAULT '',
    record_from_hour INT,
    record_to_hour   INT
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id               UUID PRIMARY KEY,
    symbol           TEXT NOT NULL,
    display_name     TEXT NOT NULL DEFAULT '',
    kind             TEXT NOT NULL DEFAULT 'crypto',
    source_id        TEXT NOT NULL DEFAULT 'binance',
    pool_address     TEXT NOT NULL DEFAULT '',
    token_from       TEXT NOT NULL DEFAULT '',
    token_to         TEXT NOT NULL DEFAULT '',
    record_enabled   BOOLEAN NOT NULL DEFAULT FALSE,
    record_from_hour INT,
    record_to_hour   INT,
    sort_order       INT NOT NULL DEFAULT 0,
    UNIQUE (symbol, source_id)
);

CREATE TABLE IF NOT EXISTS price_history (
    id              BIGSERIAL PRIMARY KEY,
    subscription_id UUID NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
    source_id       TEXT NOT NULL,
    price           DOUBLE PRECISION NOT NULL,
    change_pct      DOUBLE PRECISION,
    volume          DOUBLE PRECISION,
    recorded_at     BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_history_sub_time
    ON price_history (subscription_id, recorded_at);
`

// RunMigrations creates the schema if it does not exist.
func (s *Store) RunMigrations(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	s.logger.Info("database schema ready")
	return nil
}
