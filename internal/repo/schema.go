package repo

import (
	"context"
	"database/sql"
	"fmt"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS messages (
    id                UUID PRIMARY KEY,
    tenant_id         TEXT NOT NULL,
    recipient         TEXT NOT NULL,
    content           TEXT NOT NULL,
    message_type      TEXT NOT NULL,
    status            TEXT NOT NULL DEFAULT 'pending',
    scheduled_at      TIMESTAMPTZ NOT NULL,
    sent_at           TIMESTAMPTZ,
    last_error        TEXT,
    delivery_id       TEXT,
    claimed_at        TIMESTAMPTZ,
    requeued_from     UUID,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_due
    ON messages (scheduled_at) WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_messages_status
    ON messages (status, updated_at);

CREATE TABLE IF NOT EXISTS report_tokens (
    token_hash        TEXT PRIMARY KEY,
    student_id        TEXT NOT NULL,
    report_type       TEXT NOT NULL,
    guardian_access   BOOLEAN NOT NULL DEFAULT FALSE,
    issued_at         TIMESTAMPTZ NOT NULL,
    expires_at        TIMESTAMPTZ NOT NULL
);
`

// SQLite has no timestamp type; times are stored as unix nanoseconds so
// range comparisons stay numeric.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
    id                TEXT PRIMARY KEY,
    tenant_id         TEXT NOT NULL,
    recipient         TEXT NOT NULL,
    content           TEXT NOT NULL,
    message_type      TEXT NOT NULL,
    status            TEXT NOT NULL DEFAULT 'pending',
    scheduled_at      INTEGER NOT NULL,
    sent_at           INTEGER,
    last_error        TEXT,
    delivery_id       TEXT,
    claimed_at        INTEGER,
    requeued_from     TEXT,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_due
    ON messages (status, scheduled_at);

CREATE TABLE IF NOT EXISTS report_tokens (
    token_hash        TEXT PRIMARY KEY,
    student_id        TEXT NOT NULL,
    report_type       TEXT NOT NULL,
    guardian_access   INTEGER NOT NULL DEFAULT 0,
    issued_at         INTEGER NOT NULL,
    expires_at        INTEGER NOT NULL
);
`

// Migrate applies the schema for the given dialect. Every statement is
// idempotent.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	var schema string
	switch d {
	case Postgres:
		schema = postgresSchema
	case SQLite:
		schema = sqliteSchema
	default:
		return fmt.Errorf("unknown dialect %q", d)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply %s schema: %w", d, err)
	}
	return nil
}
