package hostadapter

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaMigrations = []string{
	`CREATE TABLE IF NOT EXISTS kv_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// RunMigrations applies the kv_state schema, following the teacher's
// RunMigrations (sequential, idempotent CREATE IF NOT EXISTS
// statements, no migration-tracking table).
func RunMigrations(ctx context.Context, db *sql.DB) error {
	for i, statement := range schemaMigrations {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("execute migration %d: %w", i+1, err)
		}
	}
	return nil
}
