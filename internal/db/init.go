// Package db opens the Postgres connection, creates the schema and runs the
// tombstone purge loop.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/atinyakov/HealthSync/internal/models"
	_ "github.com/lib/pq"
)

const baseSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    clerk_id TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sync_participants (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    client_id TEXT NOT NULL,
    cursor_at TIMESTAMPTZ,
    cursor_id TEXT NOT NULL DEFAULT '',
    last_seen_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, client_id)
);

CREATE TABLE IF NOT EXISTS purge_horizons (
    user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    purged_through TIMESTAMPTZ NOT NULL,
    purged_id TEXT NOT NULL DEFAULT ''
);
`

const recordTable = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    data JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    synced_at TIMESTAMPTZ,
    is_deleted BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS %[1]s_changes_idx ON %[1]s (user_id, updated_at, id);
CREATE INDEX IF NOT EXISTS %[1]s_tombstones_idx ON %[1]s (synced_at) WHERE is_deleted;
`

// Schema returns the DDL for the users table, sync bookkeeping and one
// table per record kind.
func Schema() string {
	var b strings.Builder
	b.WriteString(baseSchema)
	for _, k := range models.Kinds {
		fmt.Fprintf(&b, recordTable, k.Table())
	}
	return b.String()
}

// InitPostgres opens the database, verifies the connection and applies the schema.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.Exec(Schema()); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}
