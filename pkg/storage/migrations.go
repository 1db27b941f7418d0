package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create accounts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS accounts (
					id UUID PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					verified BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_accounts_verified_created ON accounts(verified, created_at);
			`,
		},
		{
			Version:     2,
			Description: "Create products table",
			SQL: `
				CREATE TABLE IF NOT EXISTS products (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					monthly_price_cents BIGINT NOT NULL,
					location VARCHAR(255) NOT NULL DEFAULT '',
					archived BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create services table",
			SQL: `
				CREATE TABLE IF NOT EXISTS services (
					id UUID PRIMARY KEY,
					product_id VARCHAR(64) NOT NULL DEFAULT '',
					service_owner_id UUID NOT NULL,
					external_id VARCHAR(255) NOT NULL DEFAULT '',
					name VARCHAR(255) NOT NULL,
					status VARCHAR(32) NOT NULL,
					monthly_price_cents BIGINT NOT NULL,
					due_date TIMESTAMPTZ NOT NULL,
					location VARCHAR(255) NOT NULL DEFAULT '',
					dedicated_ip BOOLEAN NOT NULL DEFAULT FALSE,
					proxy_addon BOOLEAN NOT NULL DEFAULT FALSE,
					is_cancelled BOOLEAN NOT NULL DEFAULT FALSE,
					cancellation_reason TEXT NOT NULL DEFAULT '',
					cancellation_date TIMESTAMPTZ,
					is_suspended BOOLEAN NOT NULL DEFAULT FALSE,
					suspension_reason TEXT NOT NULL DEFAULT '',
					suspension_date TIMESTAMPTZ,
					creation_error BOOLEAN NOT NULL DEFAULT FALSE,
					last_notified_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_services_status_due_date ON services(status, due_date);
				CREATE INDEX IF NOT EXISTS idx_services_owner ON services(service_owner_id);
			`,
		},
		{
			Version:     4,
			Description: "Create invoices and invoice_items tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS invoices (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL,
					service_id UUID REFERENCES services(id) ON DELETE SET NULL,
					transaction_id VARCHAR(255),
					status VARCHAR(32) NOT NULL,
					amount_cents BIGINT NOT NULL,
					currency VARCHAR(8) NOT NULL,
					metadata JSONB,
					coupon_code VARCHAR(64),
					coupon_type VARCHAR(32),
					coupon_value BIGINT,
					payment_provider VARCHAR(64) NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					paid_at TIMESTAMPTZ,
					expires_at TIMESTAMPTZ NOT NULL,
					expired_at TIMESTAMPTZ,
					last_reminded_at TIMESTAMPTZ
				);

				CREATE TABLE IF NOT EXISTS invoice_items (
					id UUID PRIMARY KEY,
					invoice_id UUID NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					quantity INT NOT NULL DEFAULT 1,
					unit_price_cents BIGINT NOT NULL,
					total_cents BIGINT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_invoices_status_expires_at ON invoices(status, expires_at);
				CREATE INDEX IF NOT EXISTS idx_invoices_user ON invoices(user_id);
				CREATE INDEX IF NOT EXISTS idx_invoices_service ON invoices(service_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_transaction ON invoices(transaction_id) WHERE transaction_id IS NOT NULL;
			`,
		},
		{
			Version:     5,
			Description: "Create coupons and coupon_redemptions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS coupons (
					id UUID PRIMARY KEY,
					code VARCHAR(64) NOT NULL,
					type VARCHAR(32) NOT NULL,
					value BIGINT NOT NULL,
					expires_at TIMESTAMPTZ,
					max_redemptions INT,
					user_id UUID,
					deleted_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_coupons_code_live ON coupons(code) WHERE deleted_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_coupons_expires_at ON coupons(expires_at) WHERE expires_at IS NOT NULL;

				CREATE TABLE IF NOT EXISTS coupon_redemptions (
					id UUID PRIMARY KEY,
					coupon_id UUID NOT NULL REFERENCES coupons(id) ON DELETE CASCADE,
					user_id UUID NOT NULL,
					service_id UUID,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_redemptions_tuple
					ON coupon_redemptions(coupon_id, user_id, COALESCE(service_id, '00000000-0000-0000-0000-000000000000'::uuid));
			`,
		},
		{
			Version:     6,
			Description: "Create tickets table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tickets (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL,
					subject VARCHAR(255) NOT NULL,
					body TEXT NOT NULL,
					status VARCHAR(32) NOT NULL DEFAULT 'open',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id);
			`,
		},
	}
}

// RunMigrations applies all migrations past the recorded schema version
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	err = db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range GetMigrations() {
		if m.Version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schema_migrations (version, description) VALUES ($1, $2)
		`, m.Version, m.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
