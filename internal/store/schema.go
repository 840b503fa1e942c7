package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the full DDL, applied idempotently at startup. All monetary
// values are NUMERIC. settlement_events carries the unique constraint on
// trade_id that makes settlement exactly-once under concurrent writers.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id         TEXT PRIMARY KEY,
		code       TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		type       TEXT NOT NULL,
		is_system  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id             TEXT PRIMARY KEY,
		description    TEXT NOT NULL,
		reference_type TEXT NOT NULL,
		reference_id   TEXT NOT NULL,
		created_by     TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference
		ON ledger_entries (reference_type, reference_id)`,
	`CREATE TABLE IF NOT EXISTS ledger_lines (
		id                TEXT PRIMARY KEY,
		entry_id          TEXT NOT NULL REFERENCES ledger_entries(id),
		debit_account_id  TEXT NOT NULL DEFAULT '',
		credit_account_id TEXT NOT NULL DEFAULT '',
		amount            NUMERIC NOT NULL CHECK (amount >= 0),
		user_id           TEXT NOT NULL DEFAULT '',
		description       TEXT NOT NULL DEFAULT '',
		CHECK ((debit_account_id = '') <> (credit_account_id = ''))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_lines_entry ON ledger_lines (entry_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_lines_debit ON ledger_lines (debit_account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_lines_credit ON ledger_lines (credit_account_id)`,
	`CREATE TABLE IF NOT EXISTS deposits (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		amount          NUMERIC NOT NULL,
		status          TEXT NOT NULL,
		units_issued    NUMERIC NOT NULL DEFAULT 0,
		nav_at_issue    NUMERIC NOT NULL DEFAULT 0,
		approved_by     TEXT NOT NULL DEFAULT '',
		ledger_entry_id TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL,
		processed_at    TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS withdrawals (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		amount_requested NUMERIC NOT NULL,
		fee_fixed_pct    NUMERIC NOT NULL,
		fee_surge_pct    NUMERIC NOT NULL,
		fee_fixed_amount NUMERIC NOT NULL,
		fee_surge_amount NUMERIC NOT NULL,
		fee_total_amount NUMERIC NOT NULL,
		amount_payout    NUMERIC NOT NULL,
		surge_reasons    JSONB NOT NULL DEFAULT '[]',
		surge_snapshot   JSONB NOT NULL DEFAULT '{}',
		fee_locked_at    TIMESTAMPTZ NOT NULL,
		cooldown_until   TIMESTAMPTZ NOT NULL,
		units_burned     NUMERIC NOT NULL DEFAULT 0,
		nav_at_burn      NUMERIC NOT NULL DEFAULT 0,
		status           TEXT NOT NULL,
		approved_by      TEXT NOT NULL DEFAULT '',
		ledger_entry_id  TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL,
		processed_at     TIMESTAMPTZ,
		paid_at          TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals (status)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id              TEXT PRIMARY KEY,
		sport           TEXT NOT NULL,
		event           TEXT NOT NULL,
		market          TEXT NOT NULL,
		selection       TEXT NOT NULL,
		odds            NUMERIC NOT NULL,
		stake           NUMERIC NOT NULL,
		potential_win   NUMERIC NOT NULL,
		status          TEXT NOT NULL,
		result_amount   NUMERIC NOT NULL DEFAULT 0,
		settled_by      TEXT NOT NULL DEFAULT '',
		settled_at      TIMESTAMPTZ,
		ledger_entry_id TEXT NOT NULL DEFAULT '',
		version         BIGINT NOT NULL DEFAULT 0,
		created_by      TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settlement_events (
		id                TEXT PRIMARY KEY,
		trade_id          TEXT NOT NULL UNIQUE REFERENCES trades(id),
		provider_event_id TEXT NOT NULL DEFAULT '',
		provider_odds     NUMERIC NOT NULL DEFAULT 0,
		result            TEXT NOT NULL,
		settled_by        TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		id                TEXT PRIMARY KEY,
		bank_balance      NUMERIC NOT NULL,
		units_outstanding NUMERIC NOT NULL,
		nav_per_unit      NUMERIC NOT NULL,
		investor_count    INTEGER NOT NULL,
		reason            TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS distribution_rounds (
		id                TEXT PRIMARY KEY,
		period_start      TIMESTAMPTZ NOT NULL,
		period_end        TIMESTAMPTZ NOT NULL,
		status            TEXT NOT NULL,
		snapshot_id       TEXT NOT NULL DEFAULT '',
		bank_balance      NUMERIC NOT NULL,
		units_outstanding NUMERIC NOT NULL,
		nav_per_unit      NUMERIC NOT NULL,
		total_profit      NUMERIC NOT NULL,
		performance_fee   NUMERIC NOT NULL,
		net_distributed   NUMERIC NOT NULL,
		executed_by       TEXT NOT NULL,
		ledger_entry_id   TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS distribution_allocations (
		id        TEXT PRIMARY KEY,
		round_id  TEXT NOT NULL REFERENCES distribution_rounds(id),
		user_id   TEXT NOT NULL,
		units     NUMERIC NOT NULL,
		share_pct NUMERIC NOT NULL,
		amount    NUMERIC NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_allocations_round ON distribution_allocations (round_id)`,
	`CREATE TABLE IF NOT EXISTS audit_records (
		id            TEXT PRIMARY KEY,
		action        TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id   TEXT NOT NULL,
		actor         TEXT NOT NULL,
		diff          TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_records (resource_type, resource_id)`,
}

// EnsureSchema applies the DDL. Safe to run on every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
