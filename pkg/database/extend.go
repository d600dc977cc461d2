package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
)

// ExtendSchema applies additive schema changes that arrived after the base
// migration shipped. Everything here is idempotent so it can run on every
// startup against any schema vintage.
func ExtendSchema(ctx context.Context, db *stdsql.DB) error {
	stmts := []string{
		`ALTER TYPE incident_status ADD VALUE IF NOT EXISTS 'awaiting_human_review'`,
		`ALTER TYPE incident_status ADD VALUE IF NOT EXISTS 'postmortem_required'`,
		`ALTER TABLE incidents ADD COLUMN IF NOT EXISTS service_version TEXT`,
		`ALTER TABLE incidents ADD COLUMN IF NOT EXISTS git_sha TEXT`,
		`ALTER TABLE incidents ADD COLUMN IF NOT EXISTS last_error TEXT`,
		`ALTER TABLE evidence_packs ADD COLUMN IF NOT EXISTS provenance JSONB NOT NULL DEFAULT '{}'::jsonb`,
		`ALTER TABLE triage_tasks ADD COLUMN IF NOT EXISTS heartbeat_at TIMESTAMPTZ`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_created_at ON pipeline_runs (created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("extend schema %q: %w", stmt, err)
		}
	}
	return nil
}
