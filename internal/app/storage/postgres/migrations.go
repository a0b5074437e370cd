package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are executed in order by Apply. Statements are idempotent so the
// set can be re-applied on every startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS wallet_accounts (
		id         TEXT PRIMARY KEY,
		owner      TEXT NOT NULL DEFAULT '',
		available  NUMERIC(30,8) NOT NULL DEFAULT 0 CHECK (available >= 0),
		held       NUMERIC(30,8) NOT NULL DEFAULT 0 CHECK (held >= 0),
		version    BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_transactions (
		id              TEXT PRIMARY KEY,
		account_id      TEXT NOT NULL REFERENCES wallet_accounts(id),
		kind            TEXT NOT NULL,
		amount          NUMERIC(30,8) NOT NULL,
		available_after NUMERIC(30,8) NOT NULL,
		sequence        BIGINT NOT NULL,
		status          TEXT NOT NULL,
		counterparty    TEXT NOT NULL DEFAULT '',
		escrow_id       TEXT NOT NULL DEFAULT '',
		note            TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL,
		UNIQUE (account_id, sequence)
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_escrows (
		id            TEXT PRIMARY KEY,
		payer_id      TEXT NOT NULL REFERENCES wallet_accounts(id),
		payee_id      TEXT NOT NULL REFERENCES wallet_accounts(id),
		amount        NUMERIC(30,8) NOT NULL,
		state         TEXT NOT NULL,
		hold_tx_id    TEXT NOT NULL DEFAULT '',
		resolve_tx_id TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		expires_at    TIMESTAMPTZ,
		resolved_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_wallet_transactions_account_seq
		ON wallet_transactions (account_id, sequence DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_wallet_escrows_payer ON wallet_escrows (payer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_wallet_escrows_payee ON wallet_escrows (payee_id)`,
}

// Apply runs the schema migrations against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
