package store

import (
	"context"
	"fmt"
)

// Statements are portable between SQLite and Postgres: timestamps are unix
// seconds, booleans are 0/1 integers and structured fields are JSON text.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL,
		status             TEXT NOT NULL DEFAULT 'active',
		stripe_customer_id TEXT NOT NULL DEFAULT '',
		created_at         BIGINT NOT NULL,
		updated_at         BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_organizations_stripe_customer_id ON organizations(stripe_customer_id)`,

	`CREATE TABLE IF NOT EXISTS packages (
		id                      TEXT PRIMARY KEY,
		name                    TEXT NOT NULL UNIQUE,
		display_name            TEXT NOT NULL DEFAULT '',
		pricing_model           TEXT NOT NULL,
		price_monthly           DOUBLE PRECISION,
		price_yearly            DOUBLE PRECISION,
		stripe_price_id_monthly TEXT NOT NULL DEFAULT '',
		stripe_price_id_yearly  TEXT NOT NULL DEFAULT '',
		features                TEXT NOT NULL DEFAULT '{}',
		is_active               INTEGER NOT NULL DEFAULT 1,
		created_at              BIGINT NOT NULL,
		updated_at              BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id                     TEXT PRIMARY KEY,
		organization_id        TEXT NOT NULL REFERENCES organizations(id),
		package_id             TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		stripe_customer_id     TEXT NOT NULL DEFAULT '',
		stripe_price_id        TEXT NOT NULL DEFAULT '',
		status                 TEXT NOT NULL,
		billing_interval       TEXT NOT NULL DEFAULT 'month',
		quantity               BIGINT NOT NULL DEFAULT 1,
		current_period_start   BIGINT,
		current_period_end     BIGINT,
		cancel_at_period_end   INTEGER NOT NULL DEFAULT 0,
		created_at             BIGINT NOT NULL,
		updated_at             BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_organization_id ON subscriptions(organization_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_subscriptions_entitling
		ON subscriptions(organization_id) WHERE status IN ('active', 'trialing', 'past_due')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_subscriptions_stripe_id
		ON subscriptions(stripe_subscription_id) WHERE stripe_subscription_id <> ''`,

	`CREATE TABLE IF NOT EXISTS custom_enterprise_packages (
		id                            TEXT PRIMARY KEY,
		organization_id               TEXT NOT NULL REFERENCES organizations(id),
		base_package_id               TEXT NOT NULL DEFAULT '',
		custom_price_per_user_monthly DOUBLE PRECISION,
		custom_price_per_user_yearly  DOUBLE PRECISION,
		volume_discount_rules         TEXT NOT NULL DEFAULT '[]',
		notes                         TEXT NOT NULL DEFAULT '',
		is_active                     INTEGER NOT NULL DEFAULT 1,
		created_at                    BIGINT NOT NULL,
		updated_at                    BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_custom_enterprise_packages_active
		ON custom_enterprise_packages(organization_id) WHERE is_active = 1`,

	`CREATE TABLE IF NOT EXISTS members (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		email           TEXT NOT NULL,
		role            TEXT NOT NULL DEFAULT 'member',
		status          TEXT NOT NULL DEFAULT 'active',
		created_at      BIGINT NOT NULL,
		updated_at      BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_members_organization_status ON members(organization_id, status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_members_active_email
		ON members(organization_id, email) WHERE status = 'active'`,

	`CREATE TABLE IF NOT EXISTS projects (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name            TEXT NOT NULL,
		created_at      BIGINT NOT NULL,
		deleted_at      BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_organization_id ON projects(organization_id)`,

	`CREATE TABLE IF NOT EXISTS templates (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name            TEXT NOT NULL,
		created_at      BIGINT NOT NULL,
		deleted_at      BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_templates_organization_id ON templates(organization_id)`,
}

// Migrate creates tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
