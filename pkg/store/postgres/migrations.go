package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/keystone/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in version order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create companies and users tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS companies (
					id UUID PRIMARY KEY,
					name TEXT NOT NULL,
					normalized_name TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_normalized_name ON companies(normalized_name);

				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					identity_key TEXT NOT NULL,
					email TEXT NOT NULL DEFAULT '',
					full_name TEXT NOT NULL DEFAULT '',
					company_id UUID REFERENCES companies(id),
					role VARCHAR(32) NOT NULL,
					approval_status VARCHAR(16) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT FALSE,
					approved_at TIMESTAMPTZ,
					approved_by UUID REFERENCES users(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_users_identity_key ON users(identity_key);
				CREATE INDEX IF NOT EXISTS idx_users_company_id ON users(company_id);
			`,
		},
		{
			Version:     2,
			Description: "Create projects and project_users tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS projects (
					id UUID PRIMARY KEY,
					company_id UUID NOT NULL REFERENCES companies(id),
					name TEXT NOT NULL,
					status VARCHAR(16) NOT NULL,
					budget NUMERIC,
					actual_cost NUMERIC NOT NULL DEFAULT 0,
					percent_plan_complete NUMERIC,
					planned_end TIMESTAMPTZ,
					forecast_end TIMESTAMPTZ,
					created_by UUID NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_projects_company_id ON projects(company_id);

				CREATE TABLE IF NOT EXISTS project_users (
					id UUID PRIMARY KEY,
					project_id UUID NOT NULL REFERENCES projects(id),
					company_id UUID NOT NULL REFERENCES companies(id),
					user_id UUID NOT NULL REFERENCES users(id),
					project_role VARCHAR(16) NOT NULL,
					can_edit BOOLEAN NOT NULL DEFAULT FALSE,
					can_delete BOOLEAN NOT NULL DEFAULT FALSE,
					can_approve BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(project_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_project_users_user_id ON project_users(user_id);
			`,
		},
		{
			Version:     3,
			Description: "Create cost tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS cost_estimates (
					id UUID PRIMARY KEY,
					project_id UUID NOT NULL REFERENCES projects(id),
					company_id UUID NOT NULL REFERENCES companies(id),
					name TEXT NOT NULL,
					subtotal NUMERIC NOT NULL DEFAULT 0,
					markup_amount NUMERIC NOT NULL DEFAULT 0,
					total NUMERIC NOT NULL DEFAULT 0,
					item_count INTEGER NOT NULL DEFAULT 0,
					created_by UUID NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_cost_estimates_project_id ON cost_estimates(project_id);

				CREATE TABLE IF NOT EXISTS cost_estimate_items (
					id UUID PRIMARY KEY,
					estimate_id UUID NOT NULL REFERENCES cost_estimates(id),
					project_id UUID NOT NULL REFERENCES projects(id),
					company_id UUID NOT NULL REFERENCES companies(id),
					description TEXT NOT NULL DEFAULT '',
					quantity NUMERIC,
					material_cost NUMERIC,
					labor_cost NUMERIC,
					equipment_cost NUMERIC,
					markup_percent NUMERIC,
					subtotal NUMERIC NOT NULL DEFAULT 0,
					markup_amount NUMERIC NOT NULL DEFAULT 0,
					total NUMERIC NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_cost_estimate_items_estimate_id ON cost_estimate_items(estimate_id);

				CREATE TABLE IF NOT EXISTS equipment_logs (
					id UUID PRIMARY KEY,
					project_id UUID NOT NULL REFERENCES projects(id),
					company_id UUID NOT NULL REFERENCES companies(id),
					equipment TEXT NOT NULL,
					hourly_rate NUMERIC,
					hours NUMERIC,
					fuel_cost NUMERIC,
					total_cost NUMERIC NOT NULL DEFAULT 0,
					logged_on TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_equipment_logs_project_id ON equipment_logs(project_id);

				CREATE TABLE IF NOT EXISTS cost_transactions (
					id UUID PRIMARY KEY,
					project_id UUID NOT NULL REFERENCES projects(id),
					company_id UUID NOT NULL REFERENCES companies(id),
					amount NUMERIC NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_cost_transactions_project_id ON cost_transactions(project_id);
			`,
		},
		{
			Version:     4,
			Description: "Create field tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS rfis (
					id UUID PRIMARY KEY,
					project_id UUID NOT NULL REFERENCES projects(id),
					company_id UUID NOT NULL REFERENCES companies(id),
					number INTEGER NOT NULL DEFAULT 0,
					subject TEXT NOT NULL,
					status VARCHAR(16) NOT NULL,
					priority VARCHAR(16) NOT NULL,
					due_date TIMESTAMPTZ,
					escalated BOOLEAN NOT NULL DEFAULT FALSE,
					escalated_at TIMESTAMPTZ,
					created_by UUID NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_rfis_project_id ON rfis(project_id);
				CREATE INDEX IF NOT EXISTS idx_rfis_open_due ON rfis(due_date) WHERE status = 'open' AND deleted_at IS NULL;

				CREATE TABLE IF NOT EXISTS schedule_activities (
					id UUID PRIMARY KEY,
					project_id UUID NOT NULL REFERENCES projects(id),
					company_id UUID NOT NULL REFERENCES companies(id),
					name TEXT NOT NULL,
					planned_finish TIMESTAMPTZ,
					committed BOOLEAN NOT NULL DEFAULT FALSE,
					completed BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_schedule_activities_project_id ON schedule_activities(project_id);

				CREATE TABLE IF NOT EXISTS safety_incidents (
					id UUID PRIMARY KEY,
					project_id UUID NOT NULL REFERENCES projects(id),
					company_id UUID NOT NULL REFERENCES companies(id),
					severity VARCHAR(16) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					occurred_at TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_safety_incidents_project_id ON safety_incidents(project_id);

				CREATE TABLE IF NOT EXISTS punch_items (
					id UUID PRIMARY KEY,
					project_id UUID NOT NULL REFERENCES projects(id),
					company_id UUID NOT NULL REFERENCES companies(id),
					title TEXT NOT NULL,
					status VARCHAR(16) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_punch_items_project_id ON punch_items(project_id);
			`,
		},
		{
			Version:     5,
			Description: "Create client portal and share tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS client_portal_settings (
					project_id UUID PRIMARY KEY REFERENCES projects(id),
					company_id UUID NOT NULL REFERENCES companies(id),
					show_budget BOOLEAN NOT NULL DEFAULT FALSE,
					show_schedule BOOLEAN NOT NULL DEFAULT TRUE,
					show_documents BOOLEAN NOT NULL DEFAULT TRUE,
					show_photos BOOLEAN NOT NULL DEFAULT TRUE,
					show_rfis BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS report_shares (
					id UUID PRIMARY KEY,
					project_id UUID NOT NULL REFERENCES projects(id),
					company_id UUID NOT NULL REFERENCES companies(id),
					token TEXT NOT NULL,
					resource_table VARCHAR(64) NOT NULL,
					resource_id UUID NOT NULL,
					is_public BOOLEAN NOT NULL DEFAULT TRUE,
					expires_at TIMESTAMPTZ,
					view_count BIGINT NOT NULL DEFAULT 0,
					last_viewed_at TIMESTAMPTZ,
					created_by UUID NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					revoked_at TIMESTAMPTZ
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_report_shares_token ON report_shares(token);
				CREATE INDEX IF NOT EXISTS idx_report_shares_project_id ON report_shares(project_id);
			`,
		},
		{
			Version:     6,
			Description: "Create notifications, project_health and audit_logs tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id UUID PRIMARY KEY,
					company_id UUID NOT NULL REFERENCES companies(id),
					user_id UUID NOT NULL REFERENCES users(id),
					kind VARCHAR(64) NOT NULL,
					payload JSONB NOT NULL DEFAULT '{}',
					status VARCHAR(16) NOT NULL,
					attempts INTEGER NOT NULL DEFAULT 0,
					last_error TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					sent_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notifications(created_at) WHERE status = 'pending';

				CREATE TABLE IF NOT EXISTS project_health (
					project_id UUID PRIMARY KEY REFERENCES projects(id),
					company_id UUID NOT NULL REFERENCES companies(id),
					budget_score NUMERIC NOT NULL,
					schedule_score NUMERIC NOT NULL,
					safety_score NUMERIC NOT NULL,
					quality_score NUMERIC NOT NULL,
					overall NUMERIC NOT NULL,
					computed_at TIMESTAMPTZ NOT NULL
				);

				CREATE TABLE IF NOT EXISTS audit_logs (
					id UUID PRIMARY KEY,
					company_id UUID,
					user_id UUID,
					system BOOLEAN NOT NULL DEFAULT FALSE,
					table_name VARCHAR(64) NOT NULL,
					record_id UUID NOT NULL,
					op VARCHAR(16) NOT NULL,
					at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_company_id ON audit_logs(company_id, at DESC);
			`,
		},
	}
}

// ApplyOptions controls RunMigrations
type ApplyOptions struct {
	// DryRun lists pending migrations without executing them.
	DryRun bool
	// Only applies just this version when non-zero.
	Only int
}

// RunMigrations applies pending migrations in version order, each in its own
// transaction, recording them in schema_migrations. Already-applied versions
// are skipped. It returns the migrations that were (or, in dry-run mode,
// would be) applied.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger, opts ApplyOptions) ([]Migration, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	// Create migration tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	var ran []Migration
	for _, migration := range GetMigrations() {
		if opts.Only != 0 && migration.Version != opts.Only {
			continue
		}
		if applied[migration.Version] {
			logger.WithField("version", migration.Version).Debug("Migration already applied")
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})

		if opts.DryRun {
			log.Info("Pending migration (dry run)")
			ran = append(ran, migration)
			continue
		}

		log.Info("Running migration")
		if err := applyMigration(ctx, db, migration); err != nil {
			return ran, err
		}
		ran = append(ran, migration)
	}

	if opts.Only != 0 && len(ran) == 0 && !applied[opts.Only] {
		return nil, fmt.Errorf("unknown migration version %d", opts.Only)
	}

	return ran, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
