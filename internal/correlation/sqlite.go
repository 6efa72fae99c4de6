package correlation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS correlationKV (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now')),
	PRIMARY KEY (namespace, key)
)`

// SQLiteStore keeps entries in a local SQLite key-value table. It survives process restarts
// without a Redis deployment.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and ensures the table exists.
// path may be ":memory:".
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open correlation database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("correlation database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create correlation table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, namespace, userName string) (*Entry, error) {
	if err := validKey(namespace, userName); err != nil {
		return nil, err
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM correlationKV WHERE namespace = ? AND key = ?", namespace, userName).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return decode([]byte(value))
}

func (s *SQLiteStore) Set(ctx context.Context, namespace, userName string, entry *Entry) error {
	if err := validKey(namespace, userName); err != nil {
		return err
	}
	data, err := encode(entry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO correlationKV (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = strftime('%s','now')`,
		namespace, userName, string(data))
	if err != nil {
		return fmt.Errorf("upsert failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, namespace, userName string) error {
	if err := validKey(namespace, userName); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM correlationKV WHERE namespace = ? AND key = ?", namespace, userName); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
