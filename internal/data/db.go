package data

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// InitDB opens the SQLite metadata store at path and runs migrations.
// Pass ":memory:" for a throwaway store.
func InitDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer; an in-memory database also lives and dies
	// with its one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func runMigrations(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		dialect TEXT NOT NULL,
		credentials_enc TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_connected_at DATETIME,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_connections_user ON connections(user_id);

	CREATE TABLE IF NOT EXISTS schema_cache (
		connection_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		snapshot TEXT NOT NULL, -- JSON encoded SchemaSnapshot
		cached_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		connection_id TEXT NOT NULL,
		question TEXT NOT NULL,
		generated_sql TEXT NOT NULL,
		success INTEGER NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0,
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_conn ON query_history(user_id, connection_id, created_at);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		key_prefix TEXT NOT NULL,
		key_hash TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL,
		last_used_at DATETIME,
		is_active INTEGER DEFAULT 1
	);
	`
	_, err := db.Exec(schema)
	return err
}
