package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial patient flow schema
// 2 - Seed default system settings
const currentSchemaVersion = 2

// Migrate creates missing tables and applies incremental migrations.
// It is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	err := db.GetContext(ctx, &version, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	if version < 2 {
		if err := migrateToV2(ctx, db); err != nil {
			return err
		}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO schema_version (id, version) VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version`, currentSchemaVersion)
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// migrateToV2 inserts the default settings without touching values an
// operator already changed.
func migrateToV2(ctx context.Context, db *sqlx.DB) error {
	defaults := map[string]string{
		"grace_minutes":             "5",
		"admission_cadence_minutes": "1",
		"max_capacity_per_clinic":   "6",
		"enable_auto_routing":       "true",
		"enable_notifications":      "true",
		"working_hours_start":       "07:00",
		"working_hours_end":         "15:00",
	}
	for key, value := range defaults {
		_, err := db.ExecContext(ctx,
			`INSERT INTO system_settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, value)
		if err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	return nil
}
