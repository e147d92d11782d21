package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-trust/internal/platform/db"
)

type migration struct {
	version string
	name    string
	up      string
}

// migrations are applied in order; each runs once per database.
var migrations = []migration{
	{
		version: "20250101000001",
		name:    "create_trust_accounts",
		up: `
CREATE TABLE IF NOT EXISTS trust_accounts (
    id                  UUID PRIMARY KEY,
    company_id          BIGINT NOT NULL,
    property_id         BIGINT NOT NULL,
    buyer_id            BIGINT,
    seller_id           BIGINT,
    deal_id             BIGINT,
    opening_balance     NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (opening_balance >= 0),
    running_balance     NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (running_balance >= 0),
    closing_balance     NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (closing_balance >= 0),
    purchase_price      NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (purchase_price >= 0),
    amount_received     NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (amount_received >= 0),
    amount_outstanding  NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (amount_outstanding >= 0),
    status              TEXT NOT NULL DEFAULT 'OPEN',
    workflow_state      TEXT NOT NULL DEFAULT 'TRUST_OPEN',
    lock_reason         TEXT NOT NULL DEFAULT '',
    closed_at           TIMESTAMPTZ,
    last_transaction_at TIMESTAMPTZ,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_trust_accounts_live
    ON trust_accounts (company_id, property_id) WHERE status IN ('OPEN', 'SETTLED');
CREATE INDEX IF NOT EXISTS idx_trust_accounts_company ON trust_accounts (company_id, created_at DESC);
`,
	},
	{
		version: "20250101000002",
		name:    "create_trust_transactions",
		up: `
CREATE TABLE IF NOT EXISTS trust_transactions (
    id               UUID PRIMARY KEY,
    trust_account_id UUID NOT NULL REFERENCES trust_accounts (id),
    company_id       BIGINT NOT NULL,
    property_id      BIGINT NOT NULL,
    payment_id       TEXT,
    settlement_id    UUID,
    seq              BIGINT NOT NULL,
    type             TEXT NOT NULL,
    debit            NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (debit >= 0),
    credit           NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (credit >= 0),
    running_balance  NUMERIC(18,2) NOT NULL CHECK (running_balance >= 0),
    reference        TEXT NOT NULL DEFAULT '',
    source_event     TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT uq_trust_transactions_seq UNIQUE (trust_account_id, seq),
    CONSTRAINT ck_trust_transactions_side CHECK ((debit > 0) <> (credit > 0))
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_trust_transactions_payment
    ON trust_transactions (company_id, payment_id) WHERE payment_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_trust_transactions_settlement
    ON trust_transactions (trust_account_id, settlement_id, type) WHERE settlement_id IS NOT NULL;
`,
	},
	{
		version: "20250101000003",
		name:    "create_trust_settlements_and_tax_records",
		up: `
CREATE TABLE IF NOT EXISTS trust_settlements (
    id                     UUID PRIMARY KEY,
    trust_account_id       UUID NOT NULL UNIQUE REFERENCES trust_accounts (id),
    company_id             BIGINT NOT NULL,
    property_id            BIGINT NOT NULL,
    sale_price             NUMERIC(18,2) NOT NULL DEFAULT 0,
    gross_proceeds         NUMERIC(18,2) NOT NULL DEFAULT 0,
    commission_amount      NUMERIC(18,2) NOT NULL DEFAULT 0,
    deductions             JSONB NOT NULL DEFAULT '[]',
    total_deductions       NUMERIC(18,2) NOT NULL DEFAULT 0,
    net_payout             NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (net_payout >= 0),
    cgt_rate               NUMERIC(9,6) NOT NULL DEFAULT 0,
    vat_sale_rate          NUMERIC(9,6) NOT NULL DEFAULT 0,
    vat_on_commission_rate NUMERIC(9,6) NOT NULL DEFAULT 0,
    settlement_date        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    locked                 BOOLEAN NOT NULL DEFAULT FALSE,
    locked_at              TIMESTAMPTZ,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS trust_tax_records (
    id                UUID PRIMARY KEY,
    company_id        BIGINT NOT NULL,
    property_id       BIGINT NOT NULL,
    trust_account_id  UUID NOT NULL REFERENCES trust_accounts (id),
    settlement_id     UUID NOT NULL REFERENCES trust_settlements (id),
    tax_type          TEXT NOT NULL,
    amount            NUMERIC(18,2) NOT NULL CHECK (amount > 0),
    paid_to_zimra     BOOLEAN NOT NULL DEFAULT FALSE,
    payment_reference TEXT NOT NULL DEFAULT '',
    paid_at           TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_trust_tax_records_account ON trust_tax_records (company_id, trust_account_id);
`,
	},
	{
		version: "20250101000004",
		name:    "create_trust_audit_logs",
		up: `
CREATE TABLE IF NOT EXISTS trust_audit_logs (
    id           UUID PRIMARY KEY,
    company_id   BIGINT NOT NULL,
    entity_type  TEXT NOT NULL,
    entity_id    TEXT NOT NULL,
    action       TEXT NOT NULL,
    source_event TEXT NOT NULL DEFAULT '',
    old_value    JSONB,
    new_value    JSONB,
    performed_by TEXT NOT NULL DEFAULT 'system',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_trust_audit_logs_entity ON trust_audit_logs (company_id, entity_type, entity_id, created_at DESC);
`,
	},
	{
		version: "20250101000005",
		name:    "create_job_leases_and_reconciliation_results",
		up: `
CREATE TABLE IF NOT EXISTS job_leases (
    name       TEXT PRIMARY KEY,
    holder     TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trust_reconciliation_results (
    id                 UUID PRIMARY KEY,
    run_id             UUID NOT NULL,
    company_id         BIGINT NOT NULL,
    started_at         TIMESTAMPTZ NOT NULL,
    finished_at        TIMESTAMPTZ NOT NULL,
    checked_payments   INT NOT NULL DEFAULT 0,
    checked_accounts   INT NOT NULL DEFAULT 0,
    missing_postings   INT NOT NULL DEFAULT 0,
    balance_mismatches INT NOT NULL DEFAULT 0,
    auto_repairs       INT NOT NULL DEFAULT 0,
    details            JSONB NOT NULL DEFAULT '[]',
    error              TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_trust_reconciliation_company ON trust_reconciliation_results (company_id, started_at DESC);
`,
	},
	{
		version: "20250101000006",
		name:    "create_source_read_models",
		up: `
CREATE TABLE IF NOT EXISTS properties (
    id             BIGINT NOT NULL,
    company_id     BIGINT NOT NULL,
    purchase_price NUMERIC(18,2) NOT NULL DEFAULT 0,
    PRIMARY KEY (company_id, id)
);

CREATE TABLE IF NOT EXISTS sale_payments (
    payment_id        TEXT PRIMARY KEY,
    company_id        BIGINT NOT NULL,
    property_id       BIGINT NOT NULL,
    payer_id          TEXT NOT NULL DEFAULT '',
    amount            NUMERIC(18,2) NOT NULL,
    commission        NUMERIC(18,2) NOT NULL DEFAULT 0,
    vat_on_commission NUMERIC(18,2),
    vat_on_sale       NUMERIC(18,2),
    reference         TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'PENDING',
    is_provisional    BOOLEAN NOT NULL DEFAULT FALSE,
    paid_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_sale_payments_property ON sale_payments (company_id, property_id) WHERE status = 'COMPLETED';
`,
	},
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS trust_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("trust/postgres: create migrations table: %w", err)
	}
	for _, m := range migrations {
		err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `INSERT INTO trust_schema_migrations (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`, m.version, m.name)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			_, err = tx.Exec(ctx, m.up)
			return err
		})
		if err != nil {
			return fmt.Errorf("trust/postgres: migration %s_%s: %w", m.version, m.name, err)
		}
	}
	return nil
}
