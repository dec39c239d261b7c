// internal/common/database/schema.go
package database

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the engine's tables and indexes if they do not exist.
// Called once at startup; harmless on an already-provisioned database.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS message_templates (
		id UUID PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		channel TEXT NOT NULL,
		body_template TEXT NOT NULL,
		subject_template TEXT NOT NULL DEFAULT '',
		required_variables TEXT[] NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT true,
		is_default BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (tenant_id, name, channel)
	);

	CREATE TABLE IF NOT EXISTS delivery_records (
		id BIGSERIAL PRIMARY KEY,
		job_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		status TEXT NOT NULL,
		source TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		out_of_order BOOLEAN NOT NULL DEFAULT false,
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS delivery_records_job_idx
		ON delivery_records (job_id);
	CREATE INDEX IF NOT EXISTS delivery_records_tenant_time_idx
		ON delivery_records (tenant_id, occurred_at);
	`

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
