package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the sessions table. The full attribute map lives in
// attributes; the other columns duplicate the fields that conditions, the
// subject index and expiry filter on.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id         TEXT PRIMARY KEY,
	subject_identifier TEXT   NOT NULL,
	session_state      TEXT   NOT NULL,
	created_at         BIGINT NOT NULL,
	time_to_live       BIGINT NOT NULL,
	attributes         JSONB  NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_subject_created_at_idx
	ON sessions (subject_identifier, created_at);
CREATE INDEX IF NOT EXISTS sessions_time_to_live_idx
	ON sessions (time_to_live);
`

// Migrate applies Schema. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate sessions schema: %w", err)
	}
	return nil
}
